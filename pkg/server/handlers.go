package server

import (
	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/protocol"
)

// handleCommand dispatches one payload from a registered peer.
// Every rejection is answered with ERROR and the loop carries on.
func (s *Server) handleCommand(conn *SafeConn, nickname, payload string, log *zap.Logger) {
	msg, err := protocol.Parse(payload)
	if err != nil {
		log.Debug("unparseable command", zap.String("payload", truncate(payload, 64)), zap.Error(err))
		s.metrics.RecordMessageReceived("invalid")
		s.handleInvalid(conn, payload, log)
		return
	}

	s.metrics.RecordMessageReceived(string(msg.Command()))

	switch m := msg.(type) {
	case *protocol.BroadcastMessage:
		s.handleBroadcast(nickname, m, log)
	case *protocol.PortMessage:
		s.handlePortUpdate(conn, nickname, m, log)
	case *protocol.RegisterMessage:
		s.sendError(conn, "Already registered", log)
	case *protocol.JoinedMessage, *protocol.LeftMessage:
		s.sendError(conn, "JOINED/LEFT messages are server-generated only", log)
	case *protocol.ErrorMessage, *protocol.NicknameTakenMessage:
		s.sendError(conn, "Client cannot send error or conflict messages", log)
	default:
		s.sendError(conn, "Unknown or unexpected command", log)
	}
}

// handleInvalid picks the reply for a payload that failed to decode
func (s *Server) handleInvalid(conn *SafeConn, payload string, log *zap.Logger) {
	keyword, _ := splitKeyword(payload)
	switch protocol.Command(keyword) {
	case protocol.CmdPort:
		s.sendError(conn, "Malformed PORT message or nickname mismatch", log)
	case protocol.CmdRegister:
		s.sendError(conn, "Already registered", log)
	case protocol.CmdJoined, protocol.CmdLeft:
		s.sendError(conn, "JOINED/LEFT messages are server-generated only", log)
	case protocol.CmdError, protocol.CmdNicknameTaken:
		s.sendError(conn, "Client cannot send error or conflict messages", log)
	default:
		s.sendError(conn, "Unknown or unexpected command", log)
	}
}

// handleBroadcast relays a BROADCAST to every other ready peer
func (s *Server) handleBroadcast(nickname string, msg *protocol.BroadcastMessage, log *zap.Logger) {
	delivered := s.broadcast("broadcast", msg, nickname)
	log.Debug("broadcast relayed", zap.Int("recipients", delivered))
}

// handlePortUpdate changes the sender's chat port and tells the other peers
func (s *Server) handlePortUpdate(conn *SafeConn, nickname string, msg *protocol.PortMessage, log *zap.Logger) {
	if err := s.directory.AttachChatPort(nickname, msg.Nickname, msg.TCPPort); err != nil {
		log.Info("rejected PORT update", zap.String("claimed", msg.Nickname), zap.Error(err))
		s.sendError(conn, "Malformed PORT message or nickname mismatch", log)
		return
	}

	log.Info("chat port updated", zap.Int("tcp_port", msg.TCPPort))
	s.broadcast("port", msg, nickname)
}

func splitKeyword(payload string) (string, string) {
	for i := 0; i < len(payload); i++ {
		if payload[i] == ' ' {
			return payload[:i], payload[i+1:]
		}
	}
	return payload, ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
