package client

import (
	"fmt"
	"net"
)

// Event is a notification for the application layer. The set of
// implementations is closed; switch on the concrete type.
type Event interface {
	event()
}

// PeerJoined is emitted when the server announces a peer
type PeerJoined struct {
	Nickname      string
	IP            string
	DiscoveryPort int
	ChatPort      int
}

// PeerLeft is emitted when the server announces a peer has gone
type PeerLeft struct {
	Nickname string
}

// PeerConnected is emitted when a peer session opens, in either direction
type PeerConnected struct {
	Session *Session
}

// PeerDisconnected is emitted once when a peer session is torn down
type PeerDisconnected struct {
	Addr     string
	Nickname string // empty if the peer never identified itself
}

// ChatRequestReceived is emitted when a peer asks to chat. Answer with
// Client.RespondToChatRequest or PeerManager.RespondTo before the
// handshake timeout.
type ChatRequestReceived struct {
	Session  *Session
	Nickname string
}

// ChatAccepted is emitted when a chat request is accepted.
// ByPeer is true when the remote side accepted our request.
type ChatAccepted struct {
	Session  *Session
	Nickname string
	ByPeer   bool
}

// ChatRejected is emitted when a chat request is rejected.
// ByPeer is true when the remote side rejected our request.
type ChatRejected struct {
	Session  *Session
	Nickname string
	ByPeer   bool
}

// PeerLeftChat is emitted when the remote side sends LEFT_CHAT
type PeerLeftChat struct {
	Session  *Session
	Nickname string
}

// MessageReceived carries one chat line from a peer
type MessageReceived struct {
	Session  *Session
	Nickname string
	Text     string
}

// BroadcastReceived carries a BROADCAST relayed by the server
type BroadcastReceived struct {
	Text string
}

// ErrorEvent reports a failure. Addr is set when it concerns a peer session.
type ErrorEvent struct {
	Addr string
	Err  error
}

func (e ErrorEvent) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s: %v", e.Addr, e.Err)
	}
	return e.Err.Error()
}

// InfoEvent is a human-readable status line
type InfoEvent struct {
	Message string
}

// NicknameTaken is emitted when the server refuses the nickname.
// The server closes the connection afterwards.
type NicknameTaken struct {
	Nickname string
}

// DatagramReceived carries one discovery datagram
type DatagramReceived struct {
	From *net.UDPAddr
	Text string
}

func (PeerJoined) event()          {}
func (PeerLeft) event()            {}
func (PeerConnected) event()       {}
func (PeerDisconnected) event()    {}
func (ChatRequestReceived) event() {}
func (ChatAccepted) event()        {}
func (ChatRejected) event()        {}
func (PeerLeftChat) event()        {}
func (MessageReceived) event()     {}
func (BroadcastReceived) event()   {}
func (ErrorEvent) event()          {}
func (InfoEvent) event()           {}
func (NicknameTaken) event()       {}
func (DatagramReceived) event()    {}

// EventSink receives events. Emit is called from network goroutines and
// must be safe for concurrent use.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// ChannelSink delivers events on a buffered channel. Emit blocks while the
// buffer is full.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink creates a sink with the given buffer size
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{C: make(chan Event, size)}
}

func (s *ChannelSink) Emit(e Event) { s.C <- e }

type nopSink struct{}

func (nopSink) Emit(Event) {}

func sinkOrNop(sink EventSink) EventSink {
	if sink == nil {
		return nopSink{}
	}
	return sink
}
