package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/aeolun/peerchat/pkg/client"
)

const helpText = `Commands:
  /peers                  list registered peers
  /dial <nickname>        ask a peer to chat
  /accept, /reject        answer the latest chat request
  /msg <text>             send to the active chat (plain text does the same)
  /leave                  leave the active chat
  /broadcast <text>       send to every registered peer via the server
  /ping <nickname> <text> send a discovery datagram
  /recent                 peers you chatted with before
  /stats                  connection and traffic summary
  /help                   this text
  /quit                   exit`

// repl drives a Client from typed lines and renders its events
type repl struct {
	client        *client.Client
	state         client.StateInterface
	out           io.Writer
	notifications bool
	started       time.Time

	mu     sync.Mutex
	active *client.Session
}

func newREPL(c *client.Client, state client.StateInterface, out io.Writer, notifications bool) *repl {
	return &repl{client: c, state: state, out: &syncWriter{w: out}, notifications: notifications, started: time.Now()}
}

// syncWriter serializes writes from the input and event goroutines
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (r *repl) printf(style func(...string) string, format string, args ...any) {
	fmt.Fprintln(r.out, style(fmt.Sprintf(format, args...)))
}

func (r *repl) activeSession() *client.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *repl) setActive(sess *client.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = sess
}

// run reads commands until /quit or EOF
func (r *repl) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if quit := r.execute(scanner.Text()); quit {
			return nil
		}
	}
	return scanner.Err()
}

// execute runs one input line and reports whether the user asked to quit
func (r *repl) execute(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		r.sendChat(line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "/quit", "/q":
		return true
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/peers":
		r.listPeers()
	case "/dial":
		r.dial(arg)
	case "/accept":
		r.respond(true)
	case "/reject":
		r.respond(false)
	case "/msg":
		r.sendChat(arg)
	case "/leave":
		r.leave()
	case "/broadcast":
		if arg == "" {
			r.printf(ErrorStyle.Render, "Usage: /broadcast <message>")
			return false
		}
		if err := r.client.SendBroadcast(arg); err != nil {
			r.printf(ErrorStyle.Render, "%v", err)
		}
	case "/ping":
		nick, text, ok := strings.Cut(arg, " ")
		if !ok || nick == "" || strings.TrimSpace(text) == "" {
			r.printf(ErrorStyle.Render, "Usage: /ping <nickname> <text>")
			return false
		}
		if err := r.client.SendDatagram(nick, text); err != nil {
			r.printf(ErrorStyle.Render, "%v", err)
		}
	case "/recent":
		r.listRecent()
	case "/stats":
		r.showStats()
	default:
		r.printf(ErrorStyle.Render, "Unknown command %s (try /help)", cmd)
	}
	return false
}

func (r *repl) listPeers() {
	peers := r.client.Directory().List()
	if len(peers) == 0 {
		r.printf(InfoStyle.Render, "No other peers registered")
		return
	}
	r.printf(HeaderStyle.Render, "%d peer(s):", len(peers))
	for _, p := range peers {
		chat := "no chat port"
		if p.ChatPort != 0 {
			chat = fmt.Sprintf("chat %d", p.ChatPort)
		}
		fmt.Fprintf(r.out, "  %s %s (udp %d, %s)\n", NicknameStyle.Render(p.Nickname), p.IP, p.DiscoveryPort, chat)
	}
}

func (r *repl) listRecent() {
	if r.state == nil {
		return
	}
	peers, err := r.state.RecentPeers(10)
	if err != nil {
		r.printf(ErrorStyle.Render, "failed to read recent peers: %v", err)
		return
	}
	if len(peers) == 0 {
		r.printf(InfoStyle.Render, "No recent chats")
		return
	}
	for _, p := range peers {
		fmt.Fprintf(r.out, "  %s %s:%d (%s)\n", NicknameStyle.Render(p.Nickname), p.IP, p.ChatPort, p.LastChatAt.Format("2006-01-02 15:04"))
	}
}

func (r *repl) showStats() {
	conn := r.client.Connection()
	if conn == nil {
		r.printf(InfoStyle.Render, "Not registered (up %s)", client.FormatDuration(time.Since(r.started)))
		return
	}
	state := "connected"
	if !conn.IsConnected() {
		state = "disconnected"
	}
	r.printf(HeaderStyle.Render, "%s via %s (%s), up %s", conn.Address(), conn.Method(), state, client.FormatDuration(time.Since(r.started)))
	fmt.Fprintf(r.out, "  %s\n", client.FormatTrafficLine(conn.BytesSent(), conn.BytesReceived()))
	fmt.Fprintf(r.out, "  %d peer(s) registered, %d open chat session(s)\n", r.client.Directory().Len(), len(r.client.Peers().Sessions()))
}

func (r *repl) dial(nickname string) {
	if nickname == "" {
		r.printf(ErrorStyle.Render, "Usage: /dial <nickname>")
		return
	}
	if _, err := r.client.DialNickname(nickname); err != nil {
		r.printf(ErrorStyle.Render, "%v", err)
		return
	}
	r.printf(InfoStyle.Render, "Chat request sent to %s, waiting for an answer...", nickname)
}

func (r *repl) respond(accept bool) {
	if err := r.client.RespondToChatRequest(accept); err != nil {
		r.printf(ErrorStyle.Render, "%v", err)
	}
}

func (r *repl) sendChat(text string) {
	sess := r.activeSession()
	if sess == nil {
		r.printf(ErrorStyle.Render, "No active chat (use /dial <nickname>)")
		return
	}
	if text == "" {
		return
	}
	if err := r.client.SendChatMessage(sess, text); err != nil {
		// The client already reported it as an event
		return
	}
	fmt.Fprintf(r.out, "%s: %s\n", OwnNicknameStyle.Render(r.client.Nickname()), text)
}

func (r *repl) leave() {
	sess := r.activeSession()
	if sess == nil {
		r.printf(ErrorStyle.Render, "No active chat")
		return
	}
	r.client.CloseChat(sess)
}

// render prints one event and keeps the active session current
func (r *repl) render(ev client.Event) {
	switch e := ev.(type) {
	case client.PeerJoined:
		r.printf(PresenceStyle.Render, "%s joined (%s)", e.Nickname, e.IP)
	case client.PeerLeft:
		r.printf(PresenceStyle.Render, "%s left", e.Nickname)
	case client.PeerConnected:
		r.printf(InfoStyle.Render, "Peer connection with %s", e.Session.Key())
	case client.PeerDisconnected:
		r.mu.Lock()
		if r.active != nil && r.active.Key() == e.Addr {
			r.active = nil
		}
		r.mu.Unlock()
		name := e.Nickname
		if name == "" {
			name = e.Addr
		}
		r.printf(InfoStyle.Render, "Disconnected from %s", name)
	case client.ChatRequestReceived:
		r.printf(RequestStyle.Render, "%s wants to chat. /accept or /reject", e.Nickname)
		if r.notifications {
			_ = beeep.Notify("PeerChat", e.Nickname+" wants to chat", "")
		}
	case client.ChatAccepted:
		r.setActive(e.Session)
		if e.ByPeer {
			r.printf(PresenceStyle.Render, "%s accepted your chat request", e.Nickname)
		} else {
			r.printf(PresenceStyle.Render, "Chatting with %s", e.Nickname)
		}
		r.remember(e.Session)
	case client.ChatRejected:
		if e.ByPeer {
			r.printf(ErrorStyle.Render, "%s rejected your chat request", e.Nickname)
		} else {
			r.printf(InfoStyle.Render, "Rejected chat request from %s", e.Nickname)
		}
	case client.PeerLeftChat:
		r.printf(InfoStyle.Render, "%s left the chat", e.Nickname)
	case client.MessageReceived:
		fmt.Fprintf(r.out, "%s: %s\n", NicknameStyle.Render(e.Nickname), e.Text)
	case client.BroadcastReceived:
		r.printf(BroadcastStyle.Render, "[broadcast] %s", e.Text)
	case client.DatagramReceived:
		r.printf(BroadcastStyle.Render, "[ping from %s] %s", e.From, e.Text)
	case client.NicknameTaken:
		r.printf(ErrorStyle.Render, "Nickname %s is already taken, pick another one", e.Nickname)
	case client.InfoEvent:
		r.printf(InfoStyle.Render, "%s", e.Message)
	case client.ErrorEvent:
		r.printf(ErrorStyle.Render, "%s", e.Error())
	}
}

// remember stores the peer's directory address after an accepted chat
func (r *repl) remember(sess *client.Session) {
	if r.state == nil {
		return
	}
	nickname := sess.RemoteNickname()
	entry, ok := r.client.Directory().Lookup(nickname)
	if !ok {
		return
	}
	_ = r.state.RecordPeer(entry.Nickname, entry.IP, entry.ChatPort)
}
