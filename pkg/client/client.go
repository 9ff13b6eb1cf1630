package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/logging"
	"github.com/aeolun/peerchat/pkg/protocol"
)

var (
	ErrNotRegistered = errors.New("not registered with server")
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrNicknameTaken = errors.New("nickname already taken")
)

// Options configures a Client
type Options struct {
	ServerAddress string // host:port, ws://host:port or wss://host:port
	Nickname      string
	DiscoveryPort int

	HandshakeTimeout time.Duration
	StrictHandshake  bool

	Sink   EventSink
	Logger *zap.Logger
}

// Client ties the server connection, the client directory, the peer
// sessions and the discovery side-channel together
type Client struct {
	opts   Options
	sink   EventSink
	logger *zap.Logger

	directory *Directory
	peers     *PeerManager

	mu        sync.Mutex
	conn      *Connection
	chatPort  int
	discovery *DatagramListener
}

// New creates a client. Nothing touches the network until a method is called.
func New(opts Options) *Client {
	sink := sinkOrNop(opts.Sink)
	logger := logging.OrNop(opts.Logger).With(zap.String("nickname", opts.Nickname))

	return &Client{
		opts:      opts,
		sink:      sink,
		logger:    logger,
		directory: NewDirectory(opts.Nickname),
		peers: NewPeerManager(PeerConfig{
			Nickname:         opts.Nickname,
			HandshakeTimeout: opts.HandshakeTimeout,
			StrictHandshake:  opts.StrictHandshake,
		}, sink, logger),
	}
}

// Nickname returns the local nickname
func (c *Client) Nickname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Nickname
}

// SetNickname picks a new nickname for the next RegisterWithServer. It fails
// while a server connection is open.
func (c *Client) SetNickname(nickname string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return ErrAlreadyConnected
	}
	c.opts.Nickname = nickname
	c.directory.SetSelf(nickname)
	c.peers.SetNickname(nickname)
	return nil
}

// Directory returns the local view of registered peers
func (c *Client) Directory() *Directory {
	return c.directory
}

// Peers returns the peer session manager
func (c *Client) Peers() *PeerManager {
	return c.peers
}

// ChatPort returns the bound chat port, 0 before StartPeerListener
func (c *Client) ChatPort() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatPort
}

// Connection returns the server connection, nil before RegisterWithServer
func (c *Client) Connection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// StartPeerListener accepts chat connections on port (0 picks one) and
// returns the bound port. When already registered the server is told
// about the new port.
func (c *Client) StartPeerListener(port int) (int, error) {
	bound, err := c.peers.Listen(port)
	if err != nil {
		c.sink.Emit(ErrorEvent{Err: err})
		return 0, err
	}

	c.mu.Lock()
	c.chatPort = bound
	conn := c.conn
	nickname := c.opts.Nickname
	c.mu.Unlock()

	if conn != nil && conn.IsConnected() {
		if err := conn.Send(&protocol.PortMessage{Nickname: nickname, TCPPort: bound}); err != nil {
			return bound, fmt.Errorf("failed to announce chat port: %w", err)
		}
	}
	return bound, nil
}

// RegisterWithServer connects, sends REGISTER and PORT, and starts
// following the server's notices
func (c *Client) RegisterWithServer() error {
	c.mu.Lock()
	if c.conn != nil && c.conn.IsConnected() {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	chatPort := c.chatPort
	discoveryPort := c.opts.DiscoveryPort
	nickname := c.opts.Nickname
	c.mu.Unlock()

	conn, err := NewConnection(c.opts.ServerAddress, c.logger)
	if err != nil {
		c.sink.Emit(ErrorEvent{Err: fmt.Errorf("failed to register with server: %w", err)})
		return err
	}
	if err := conn.Connect(); err != nil {
		c.sink.Emit(ErrorEvent{Err: fmt.Errorf("failed to register with server: %w", err)})
		return err
	}
	if err := conn.Register(nickname, discoveryPort, chatPort); err != nil {
		conn.Close()
		c.sink.Emit(ErrorEvent{Err: fmt.Errorf("failed to register with server: %w", err)})
		return err
	}

	c.directory.Clear()
	conn.Serve(c.directory, c.sink)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.sink.Emit(InfoEvent{Message: fmt.Sprintf(
		"Registered with server %s as %s on UDP port %d and TCP port %d",
		conn.Address(), nickname, discoveryPort, chatPort,
	)})
	return nil
}

// AwaitRegistration waits until the server has kept the connection open for
// settle without refusing the nickname. The server sends no acknowledgement,
// so silence is the only confirmation.
func (c *Client) AwaitRegistration(settle time.Duration) error {
	conn := c.Connection()
	if conn == nil {
		return ErrNotRegistered
	}

	timer := time.NewTimer(settle)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-conn.Done():
	}
	if conn.NicknameRejected() {
		return ErrNicknameTaken
	}
	return ErrNotConnected
}

// DialPeer opens a chat session to ip:port and sends CHAT_REQUEST
func (c *Client) DialPeer(ip string, port int) (*Session, error) {
	return c.peers.Dial(ip, port)
}

// DialNickname dials a peer known from the directory
func (c *Client) DialNickname(nickname string) (*Session, error) {
	entry, ok := c.directory.Lookup(nickname)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, nickname)
	}
	if entry.ChatPort == 0 {
		return nil, fmt.Errorf("%s has not announced a chat port", nickname)
	}
	return c.peers.Dial(entry.IP, entry.ChatPort)
}

// SendChatMessage sends one chat line on sess
func (c *Client) SendChatMessage(sess *Session, text string) error {
	return c.peers.SendChat(sess, text)
}

// CloseChat sends LEFT_CHAT and closes the session
func (c *Client) CloseChat(sess *Session) {
	c.peers.CloseChat(sess)
}

// RespondToChatRequest answers the most recent pending chat request
func (c *Client) RespondToChatRequest(accept bool) error {
	return c.peers.Respond(accept)
}

// SendBroadcast asks the server to relay text to every other peer
func (c *Client) SendBroadcast(text string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotRegistered
	}
	if err := conn.Send(&protocol.BroadcastMessage{Text: text}); err != nil {
		err = fmt.Errorf("failed to send broadcast: %w", err)
		c.sink.Emit(ErrorEvent{Err: err})
		return err
	}
	return nil
}

// StartDiscovery listens for datagrams on the discovery port and emits
// DatagramReceived for each one. It returns the bound port.
func (c *Client) StartDiscovery() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.discovery != nil {
		return c.discovery.Port(), nil
	}

	l, err := ListenDatagrams(c.opts.DiscoveryPort, func(from *net.UDPAddr, text string) {
		c.sink.Emit(DatagramReceived{From: from, Text: text})
	}, c.logger)
	if err != nil {
		return 0, err
	}
	c.discovery = l
	if c.opts.DiscoveryPort == 0 {
		c.opts.DiscoveryPort = l.Port()
	}
	return l.Port(), nil
}

// SendDatagram sends text to a known peer's discovery port
func (c *Client) SendDatagram(nickname, text string) error {
	entry, ok := c.directory.Lookup(nickname)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, nickname)
	}
	return SendDatagram(entry.IP, entry.DiscoveryPort, text)
}

// Close tears everything down
func (c *Client) Close() {
	c.peers.Close()

	c.mu.Lock()
	conn := c.conn
	discovery := c.discovery
	c.discovery = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if discovery != nil {
		discovery.Close()
	}
}
