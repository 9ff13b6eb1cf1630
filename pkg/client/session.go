package client

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/aeolun/peerchat/pkg/protocol"
)

// HandshakeState is the chat handshake position of a peer session
type HandshakeState int

const (
	AwaitingRequest HandshakeState = iota
	AwaitingResponse
	Accepted
	Rejected
	Closed
)

func (s HandshakeState) String() string {
	switch s {
	case AwaitingRequest:
		return "awaiting request"
	case AwaitingResponse:
		return "awaiting response"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("HandshakeState(%d)", int(s))
	}
}

var ErrSessionClosed = errors.New("session closed")

// Session is one peer-to-peer connection and its handshake state
type Session struct {
	key      string
	outbound bool
	conn     net.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	nickname string
	state    HandshakeState
	decision *Decision

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn net.Conn, key string, outbound bool) *Session {
	state := AwaitingRequest
	if outbound {
		state = AwaitingResponse
	}
	return &Session{
		key:      key,
		outbound: outbound,
		conn:     conn,
		state:    state,
		done:     make(chan struct{}),
	}
}

// Key is the remote socket address identifying the session
func (s *Session) Key() string {
	return s.key
}

// Outbound reports whether this side dialed the connection
func (s *Session) Outbound() bool {
	return s.outbound
}

// RemoteNickname returns the nickname the peer identified with, if any
func (s *Session) RemoteNickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

// DisplayName returns the remote nickname, or a placeholder built from the port
func (s *Session) DisplayName() string {
	if nick := s.RemoteNickname(); nick != "" {
		return nick
	}
	_, port, err := net.SplitHostPort(s.key)
	if err != nil {
		return s.key
	}
	return "Peer" + port
}

// State returns the current handshake state
func (s *Session) State() HandshakeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session is torn down
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Decision returns the pending or settled decision for the latest chat request
func (s *Session) Decision() *Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision
}

func (s *Session) setState(state HandshakeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Closed {
		s.state = state
	}
}

func (s *Session) identify(nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nickname = nickname
}

// send writes one command, one writer at a time
func (s *Session) send(msg protocol.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	return protocol.WriteFrame(s.conn, []byte(msg.Encode()))
}

// close marks the session closed and closes the socket; it reports whether
// this call did it
func (s *Session) close() bool {
	closed := false
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()

		close(s.done)
		s.conn.Close()
		closed = true
	})
	return closed
}
