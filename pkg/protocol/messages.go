package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Command is the keyword that starts every payload
type Command string

// Client ↔ Server commands
const (
	CmdRegister      Command = "REGISTER"
	CmdPort          Command = "PORT"
	CmdJoined        Command = "JOINED"
	CmdLeft          Command = "LEFT"
	CmdBroadcast     Command = "BROADCAST"
	CmdError         Command = "ERROR"
	CmdNicknameTaken Command = "NICKNAME_TAKEN"
)

// Peer ↔ Peer commands
const (
	CmdChatRequest Command = "CHAT_REQUEST"
	CmdChatAccept  Command = "CHAT_ACCEPT"
	CmdChatReject  Command = "CHAT_REJECT"
	CmdChatMsg     Command = "CHAT_MSG"
	CmdLeftChat    Command = "LEFT_CHAT"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownCommand = errors.New("unknown command")
)

// MalformedError describes why a payload could not be decoded
type MalformedError struct {
	Command Command
	Reason  string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.Command, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

func malformed(cmd Command, format string, args ...any) error {
	return &MalformedError{Command: cmd, Reason: fmt.Sprintf(format, args...)}
}

// Message is implemented by every command type
type Message interface {
	Command() Command
	Encode() string
	Decode(payload string) error
}

// Parse decodes a payload into its concrete message type by keyword
func Parse(payload string) (Message, error) {
	keyword, _, _ := strings.Cut(payload, " ")

	var msg Message
	switch Command(keyword) {
	case CmdRegister:
		msg = &RegisterMessage{}
	case CmdPort:
		msg = &PortMessage{}
	case CmdJoined:
		msg = &JoinedMessage{}
	case CmdLeft:
		msg = &LeftMessage{}
	case CmdBroadcast:
		msg = &BroadcastMessage{}
	case CmdError:
		msg = &ErrorMessage{}
	case CmdNicknameTaken:
		msg = &NicknameTakenMessage{}
	case CmdChatRequest:
		msg = &ChatRequestMessage{}
	case CmdChatAccept:
		msg = &ChatAcceptMessage{}
	case CmdChatReject:
		msg = &ChatRejectMessage{}
	case CmdChatMsg:
		msg = &ChatMessage{}
	case CmdLeftChat:
		msg = &LeftChatMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, keyword)
	}

	if err := msg.Decode(payload); err != nil {
		return nil, err
	}
	return msg, nil
}

// REGISTER "<nickname>" <udpPort>
type RegisterMessage struct {
	Nickname string
	UDPPort  int
}

func (m *RegisterMessage) Command() Command { return CmdRegister }

func (m *RegisterMessage) Encode() string {
	return fmt.Sprintf("%s %s %d", CmdRegister, QuoteNickname(m.Nickname), m.UDPPort)
}

func (m *RegisterMessage) Decode(payload string) error {
	content, err := body(payload, CmdRegister)
	if err != nil {
		return err
	}

	nickname, portText, err := splitNicknameAndPort(CmdRegister, strings.TrimSpace(content))
	if err != nil {
		return err
	}
	port, err := parsePort(CmdRegister, portText)
	if err != nil {
		return err
	}

	m.Nickname = nickname
	m.UDPPort = port
	return nil
}

// PORT <nickname> <tcpPort>
type PortMessage struct {
	Nickname string
	TCPPort  int
}

func (m *PortMessage) Command() Command { return CmdPort }

func (m *PortMessage) Encode() string {
	return fmt.Sprintf("%s %s %d", CmdPort, QuoteNickname(m.Nickname), m.TCPPort)
}

func (m *PortMessage) Decode(payload string) error {
	content, err := body(payload, CmdPort)
	if err != nil {
		return err
	}

	nickname, portText, err := splitNicknameAndPort(CmdPort, strings.TrimSpace(content))
	if err != nil {
		return err
	}
	port, err := parsePort(CmdPort, portText)
	if err != nil {
		return err
	}

	m.Nickname = nickname
	m.TCPPort = port
	return nil
}

// JOINED "<nickname>" <ip> <udpPort> <tcpPort>
type JoinedMessage struct {
	Nickname string
	IP       string
	UDPPort  int
	TCPPort  int
}

func (m *JoinedMessage) Command() Command { return CmdJoined }

func (m *JoinedMessage) Encode() string {
	return fmt.Sprintf("%s %s %s %d %d", CmdJoined, QuoteNickname(m.Nickname), m.IP, m.UDPPort, m.TCPPort)
}

func (m *JoinedMessage) Decode(payload string) error {
	content, err := body(payload, CmdJoined)
	if err != nil {
		return err
	}
	content = strings.TrimSpace(content)

	var nickname string
	var fields []string
	if strings.HasPrefix(content, `"`) {
		nick, rest, ok := readQuoted(content)
		if !ok {
			return malformed(CmdJoined, "unterminated nickname quote")
		}
		nickname = nick
		fields = strings.Fields(rest)
		if len(fields) != 3 {
			return malformed(CmdJoined, "expected ip, udp port and tcp port")
		}
	} else {
		// Legacy unquoted form: the last three fields are the address
		all := strings.Fields(content)
		if len(all) < 4 {
			return malformed(CmdJoined, "expected nickname, ip, udp port and tcp port")
		}
		nickname = strings.Join(all[:len(all)-3], " ")
		fields = all[len(all)-3:]
	}

	if nickname == "" {
		return malformed(CmdJoined, "empty nickname")
	}
	udp, err := parsePort(CmdJoined, fields[1])
	if err != nil {
		return err
	}
	tcp, err := parsePort(CmdJoined, fields[2])
	if err != nil {
		return err
	}

	m.Nickname = nickname
	m.IP = fields[0]
	m.UDPPort = udp
	m.TCPPort = tcp
	return nil
}

// LEFT <nickname>
type LeftMessage struct {
	Nickname string
}

func (m *LeftMessage) Command() Command { return CmdLeft }
func (m *LeftMessage) Encode() string   { return fmt.Sprintf("%s %s", CmdLeft, m.Nickname) }

func (m *LeftMessage) Decode(payload string) error {
	nickname, err := nicknameBody(payload, CmdLeft)
	if err != nil {
		return err
	}
	m.Nickname = nickname
	return nil
}

// BROADCAST <message>
type BroadcastMessage struct {
	Text string
}

func (m *BroadcastMessage) Command() Command { return CmdBroadcast }
func (m *BroadcastMessage) Encode() string   { return fmt.Sprintf("%s %s", CmdBroadcast, m.Text) }

func (m *BroadcastMessage) Decode(payload string) error {
	text, err := body(payload, CmdBroadcast)
	if err != nil {
		return err
	}
	m.Text = text
	return nil
}

// ERROR <reason>
type ErrorMessage struct {
	Reason string
}

func (m *ErrorMessage) Command() Command { return CmdError }
func (m *ErrorMessage) Encode() string   { return fmt.Sprintf("%s %s", CmdError, m.Reason) }

func (m *ErrorMessage) Decode(payload string) error {
	reason, err := body(payload, CmdError)
	if err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return malformed(CmdError, "missing reason")
	}
	m.Reason = reason
	return nil
}

// NICKNAME_TAKEN
type NicknameTakenMessage struct{}

func (m *NicknameTakenMessage) Command() Command { return CmdNicknameTaken }
func (m *NicknameTakenMessage) Encode() string   { return string(CmdNicknameTaken) }

func (m *NicknameTakenMessage) Decode(payload string) error {
	if strings.TrimSpace(payload) != string(CmdNicknameTaken) {
		return malformed(CmdNicknameTaken, "unexpected arguments")
	}
	return nil
}

// CHAT_REQUEST <nickname>
type ChatRequestMessage struct {
	Nickname string
}

func (m *ChatRequestMessage) Command() Command { return CmdChatRequest }
func (m *ChatRequestMessage) Encode() string   { return fmt.Sprintf("%s %s", CmdChatRequest, m.Nickname) }

func (m *ChatRequestMessage) Decode(payload string) error {
	nickname, err := nicknameBody(payload, CmdChatRequest)
	if err != nil {
		return err
	}
	m.Nickname = nickname
	return nil
}

// CHAT_ACCEPT <nickname>
type ChatAcceptMessage struct {
	Nickname string
}

func (m *ChatAcceptMessage) Command() Command { return CmdChatAccept }
func (m *ChatAcceptMessage) Encode() string   { return fmt.Sprintf("%s %s", CmdChatAccept, m.Nickname) }

func (m *ChatAcceptMessage) Decode(payload string) error {
	nickname, err := nicknameBody(payload, CmdChatAccept)
	if err != nil {
		return err
	}
	m.Nickname = nickname
	return nil
}

// CHAT_REJECT <nickname>
type ChatRejectMessage struct {
	Nickname string
}

func (m *ChatRejectMessage) Command() Command { return CmdChatReject }
func (m *ChatRejectMessage) Encode() string   { return fmt.Sprintf("%s %s", CmdChatReject, m.Nickname) }

func (m *ChatRejectMessage) Decode(payload string) error {
	nickname, err := nicknameBody(payload, CmdChatReject)
	if err != nil {
		return err
	}
	m.Nickname = nickname
	return nil
}

// LEFT_CHAT <nickname>
type LeftChatMessage struct {
	Nickname string
}

func (m *LeftChatMessage) Command() Command { return CmdLeftChat }
func (m *LeftChatMessage) Encode() string   { return fmt.Sprintf("%s %s", CmdLeftChat, m.Nickname) }

func (m *LeftChatMessage) Decode(payload string) error {
	nickname, err := nicknameBody(payload, CmdLeftChat)
	if err != nil {
		return err
	}
	m.Nickname = nickname
	return nil
}

// CHAT_MSG "<nickname>" <message>
// The message is everything after the closing quote and one space, verbatim.
type ChatMessage struct {
	Nickname string
	Text     string
}

func (m *ChatMessage) Command() Command { return CmdChatMsg }

func (m *ChatMessage) Encode() string {
	return fmt.Sprintf("%s %s %s", CmdChatMsg, QuoteNickname(m.Nickname), m.Text)
}

func (m *ChatMessage) Decode(payload string) error {
	content, err := body(payload, CmdChatMsg)
	if err != nil {
		return err
	}
	content = strings.TrimLeft(content, " ")

	if strings.HasPrefix(content, `"`) {
		nickname, rest, ok := readQuoted(content)
		if !ok {
			return malformed(CmdChatMsg, "unterminated nickname quote")
		}
		m.Nickname = nickname
		m.Text = strings.TrimPrefix(rest, " ")
		return nil
	}

	// Legacy unquoted form: first word is the nickname
	if content == "" {
		return malformed(CmdChatMsg, "missing nickname")
	}
	nickname, text, _ := strings.Cut(content, " ")
	m.Nickname = nickname
	m.Text = text
	return nil
}

var nicknameEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// QuoteNickname wraps a nickname in double quotes, escaping \ and "
func QuoteNickname(nickname string) string {
	return `"` + nicknameEscaper.Replace(nickname) + `"`
}

// readQuoted reads a quoted nickname at the start of content and returns it
// with everything after the closing quote
func readQuoted(content string) (nickname, rest string, ok bool) {
	var b strings.Builder
	for i := 1; i < len(content); i++ {
		switch c := content[i]; c {
		case '\\':
			if i+1 < len(content) {
				i++
				b.WriteByte(content[i])
			} else {
				b.WriteByte(c)
			}
		case '"':
			return b.String(), content[i+1:], true
		default:
			b.WriteByte(c)
		}
	}
	return "", "", false
}

// splitNicknameAndPort handles `"nick" port` and the legacy `nick port` forms
func splitNicknameAndPort(cmd Command, content string) (string, string, error) {
	if strings.HasPrefix(content, `"`) {
		nickname, rest, ok := readQuoted(content)
		if !ok {
			return "", "", malformed(cmd, "unterminated nickname quote")
		}
		if nickname == "" {
			return "", "", malformed(cmd, "empty nickname")
		}
		return nickname, strings.TrimSpace(rest), nil
	}

	// Legacy unquoted form, split on the last space
	idx := strings.LastIndex(content, " ")
	if idx <= 0 {
		return "", "", malformed(cmd, "expected nickname and port")
	}
	nickname := strings.TrimSpace(content[:idx])
	if nickname == "" {
		return "", "", malformed(cmd, "empty nickname")
	}
	return nickname, content[idx+1:], nil
}

func parsePort(cmd Command, text string) (int, error) {
	port, err := strconv.Atoi(text)
	if err != nil {
		return 0, malformed(cmd, "invalid port %q", text)
	}
	if port < 0 || port > 65535 {
		return 0, malformed(cmd, "port %d out of range", port)
	}
	return port, nil
}

// body strips the keyword and the single separating space
func body(payload string, cmd Command) (string, error) {
	if payload == string(cmd) {
		return "", nil
	}
	rest, ok := strings.CutPrefix(payload, string(cmd)+" ")
	if !ok {
		return "", malformed(cmd, "missing %s keyword", cmd)
	}
	return rest, nil
}

func nicknameBody(payload string, cmd Command) (string, error) {
	rest, err := body(payload, cmd)
	if err != nil {
		return "", err
	}
	nickname := strings.TrimSpace(rest)
	if nickname == "" {
		return "", malformed(cmd, "empty nickname")
	}
	return nickname, nil
}
