package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/logging"
	"github.com/aeolun/peerchat/pkg/protocol"
	"github.com/aeolun/peerchat/pkg/wsconn"
)

var (
	ErrNotConnected     = errors.New("not connected to server")
	ErrAlreadyConnected = errors.New("already connected")
)

// Connection is the client's link to the rendezvous server
type Connection struct {
	addr   string
	method string
	dial   func() (net.Conn, error)
	logger *zap.Logger

	mu        sync.RWMutex
	conn      net.Conn
	connected bool
	nickname  string
	rejected  bool // server answered NICKNAME_TAKEN

	writeMu sync.Mutex

	// Traffic counters (bytes on the wire)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConnection creates a connection for addr: host[:port], tcp://, ws:// or wss://
func NewConnection(addr string, logger *zap.Logger) (*Connection, error) {
	dialConfig, err := parseServerAddress(addr)
	if err != nil {
		return nil, err
	}

	return &Connection{
		addr:   dialConfig.display,
		method: dialConfig.method,
		dial:   dialConfig.dial,
		logger: logging.OrNop(logger).With(zap.String("server", dialConfig.display)),
		done:   make(chan struct{}),
	}, nil
}

// Connect dials the server
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	c.logger.Debug("connecting")

	conn, err := c.dial()
	if err != nil {
		c.logger.Info("connection failed", zap.Error(err))
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected", zap.String("method", c.method))
	return nil
}

// Register sends REGISTER followed by PORT
func (c *Connection) Register(nickname string, discoveryPort, chatPort int) error {
	if err := c.Send(&protocol.RegisterMessage{Nickname: nickname, UDPPort: discoveryPort}); err != nil {
		return fmt.Errorf("failed to send REGISTER: %w", err)
	}
	if err := c.Send(&protocol.PortMessage{Nickname: nickname, TCPPort: chatPort}); err != nil {
		return fmt.Errorf("failed to send PORT: %w", err)
	}

	c.mu.Lock()
	c.nickname = nickname
	c.mu.Unlock()
	return nil
}

// Send writes one command to the server
func (c *Connection) Send(msg protocol.Message) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	w := &countingWriter{w: conn, counter: &c.bytesSent}
	return protocol.WriteFrame(w, []byte(msg.Encode()))
}

// Serve starts the read loop, applying server notices to dir and sink
func (c *Connection) Serve(dir *Directory, sink EventSink) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(dir, sinkOrNop(sink))
	}()
}

// Done is closed when the read loop has stopped
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// IsConnected returns whether the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// NicknameRejected reports whether the server refused the nickname
func (c *Connection) NicknameRejected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rejected
}

// Address returns the server address
func (c *Connection) Address() string {
	return c.addr
}

// Method returns the transport used: tcp, ws or wss
func (c *Connection) Method() string {
	return c.method
}

// BytesSent returns the total bytes sent
func (c *Connection) BytesSent() uint64 {
	return c.bytesSent.Load()
}

// BytesReceived returns the total bytes received
func (c *Connection) BytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// Close disconnects and waits for the read loop
func (c *Connection) Close() {
	c.disconnect()
	c.wg.Wait()
	c.markDone()
}

func (c *Connection) disconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return false
	}
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	return true
}

func (c *Connection) markDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readLoop reads server notices until the connection fails or is closed
func (c *Connection) readLoop(dir *Directory, sink EventSink) {
	defer c.markDone()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}

	reader := &countingReader{r: conn, counter: &c.bytesReceived}

	for {
		payload, err := protocol.ReadFrame(reader)
		if err != nil {
			if c.disconnect() {
				// We did not close it ourselves
				c.logger.Info("lost connection to server", zap.Error(err))
				sink.Emit(ErrorEvent{Err: fmt.Errorf("lost connection to server: %w", err)})
			}
			return
		}

		if stop := c.dispatch(string(payload), dir, sink); stop {
			c.disconnect()
			return
		}
	}
}

// dispatch applies one server notice and reports whether the loop must stop
func (c *Connection) dispatch(payload string, dir *Directory, sink EventSink) bool {
	msg, err := protocol.Parse(payload)
	if err != nil {
		c.logger.Debug("unparseable server message", zap.String("payload", payload), zap.Error(err))
		sink.Emit(ErrorEvent{Err: fmt.Errorf("unexpected message from server: %w", err)})
		return false
	}

	switch m := msg.(type) {
	case *protocol.JoinedMessage:
		entry := Entry{Nickname: m.Nickname, IP: m.IP, DiscoveryPort: m.UDPPort, ChatPort: m.TCPPort}
		if dir.Upsert(entry) {
			sink.Emit(PeerJoined{Nickname: m.Nickname, IP: m.IP, DiscoveryPort: m.UDPPort, ChatPort: m.TCPPort})
		}

	case *protocol.LeftMessage:
		dir.Remove(m.Nickname)
		sink.Emit(PeerLeft{Nickname: m.Nickname})

	case *protocol.PortMessage:
		if !dir.UpdateChatPort(m.Nickname, m.TCPPort) {
			c.logger.Debug("PORT for unknown peer", zap.String("nickname", m.Nickname))
		}

	case *protocol.BroadcastMessage:
		sink.Emit(BroadcastReceived{Text: m.Text})

	case *protocol.NicknameTakenMessage:
		c.mu.Lock()
		nickname := c.nickname
		c.rejected = true
		c.mu.Unlock()
		sink.Emit(NicknameTaken{Nickname: nickname})
		return true

	case *protocol.ErrorMessage:
		sink.Emit(ErrorEvent{Err: fmt.Errorf("server error: %s", m.Reason)})

	default:
		c.logger.Debug("unexpected server command", zap.String("command", string(msg.Command())))
		sink.Emit(ErrorEvent{Err: fmt.Errorf("unexpected %s from server", msg.Command())})
	}
	return false
}

// countingReader wraps an io.Reader and counts bytes read using atomic counter
type countingReader struct {
	r       io.Reader
	counter *atomic.Uint64
}

func (cr *countingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	if n > 0 {
		cr.counter.Add(uint64(n))
	}
	return n, err
}

// countingWriter wraps an io.Writer and counts bytes written using atomic counter
type countingWriter struct {
	w       io.Writer
	counter *atomic.Uint64
}

func (cw *countingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 {
		cw.counter.Add(uint64(n))
	}
	return n, err
}

type dialConfig struct {
	display string
	method  string
	dial    func() (net.Conn, error)
}

const (
	defaultTCPPort  = "12345"
	defaultHTTPPort = "9345"
)

func parseServerAddress(raw string) (*dialConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	scheme := "tcp"
	hostPort := trimmed
	path := ""
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
		}

		if u.Scheme != "" {
			scheme = strings.ToLower(u.Scheme)
		}
		hostPort = u.Host
		path = u.Path
	}

	switch scheme {
	case "tcp", "":
		host, port, err := splitHostPortWithDefault(hostPort, defaultTCPPort)
		if err != nil {
			return nil, err
		}

		address := net.JoinHostPort(host, port)
		return &dialConfig{
			display: address,
			method:  "tcp",
			dial: func() (net.Conn, error) {
				return net.DialTimeout("tcp", address, 10*time.Second)
			},
		}, nil

	case "ws", "wss":
		host, port, err := splitHostPortWithDefault(hostPort, defaultHTTPPort)
		if err != nil {
			return nil, err
		}
		if path == "" || path == "/" {
			path = "/ws"
		}

		address := net.JoinHostPort(host, port)
		useTLS := scheme == "wss"
		return &dialConfig{
			display: fmt.Sprintf("%s://%s%s", scheme, address, path),
			method:  scheme,
			dial: func() (net.Conn, error) {
				ctx, cancel := context.WithTimeout(context.Background(), wsconn.HandshakeTimeout)
				defer cancel()
				conn, err := wsconn.Dial(ctx, address, path, useTLS)
				if err != nil {
					return nil, err
				}
				return conn, nil
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported server scheme %q", scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}
