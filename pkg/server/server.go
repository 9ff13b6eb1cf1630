package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/logging"
	"github.com/aeolun/peerchat/pkg/protocol"
)

// rejectLinger bounds how long a rejected connection is drained before closing
const rejectLinger = 500 * time.Millisecond

// Server is the rendezvous server holding the presence directory
type Server struct {
	config    ServerConfig
	logger    *zap.Logger
	metrics   *Metrics
	directory *Directory

	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server

	startTime time.Time
	running   atomic.Bool
	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup // accept loops
	handlers  sync.WaitGroup // per-connection goroutines

	connMu sync.Mutex
	conns  map[string]*SafeConn // every open connection, registered or not
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Address     string
	Port        int
	HTTPAddress string // serves /metrics and /ws; empty disables
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Address: "0.0.0.0",
		Port:    12345,
	}
}

// NewServer creates a new server instance. logger and metrics may be nil.
func NewServer(config ServerConfig, logger *zap.Logger, metrics *Metrics) *Server {
	return &Server{
		config:    config,
		logger:    logging.OrNop(logger),
		metrics:   metrics,
		directory: NewDirectory(),
		shutdown:  make(chan struct{}),
		conns:     make(map[string]*SafeConn),
	}
}

// Directory returns the presence directory
func (s *Server) Directory() *Directory {
	return s.directory
}

// Start binds the listeners and begins accepting connections
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = time.Now()
	s.running.Store(true)
	s.logger.Info("rendezvous server listening", zap.String("address", listener.Addr().String()))

	if s.config.HTTPAddress != "" {
		if err := s.startHTTP(); err != nil {
			s.listener.Close()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound rendezvous address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the bound HTTP address, nil when disabled
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Done is closed once Stop has been called
func (s *Server) Done() <-chan struct{} {
	return s.shutdown
}

// Stop stops accepting, closes every connection and waits for handlers to drain
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.connMu.Lock()
		s.running.Store(false)
		s.connMu.Unlock()
		close(s.shutdown)

		if s.listener != nil {
			s.listener.Close()
		}
		if s.httpServer != nil {
			s.httpServer.Close()
		}
		s.wg.Wait()

		s.connMu.Lock()
		for _, conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()

		s.handlers.Wait()
		s.logger.Info("rendezvous server stopped")
	})
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept error", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		s.serveConn(conn, "tcp")
	}
}

// serveConn runs handleConnection in its own goroutine unless shutting down
func (s *Server) serveConn(conn net.Conn, transport string) {
	s.connMu.Lock()
	if !s.running.Load() {
		s.connMu.Unlock()
		conn.Close()
		return
	}
	s.handlers.Add(1)
	s.connMu.Unlock()

	go func() {
		defer s.handlers.Done()
		s.handleConnection(conn, transport)
	}()
}

// handleConnection runs the registration handshake and the command loop for one client
func (s *Server) handleConnection(raw net.Conn, transport string) {
	conn := NewSafeConn(raw)
	connID := uuid.NewString()
	log := s.logger.With(
		zap.String("conn_id", connID),
		zap.String("remote", raw.RemoteAddr().String()),
		zap.String("transport", transport),
	)

	s.track(connID, conn)
	defer s.untrack(connID)
	defer conn.Close()

	log.Debug("connection opened")

	nickname, ok := s.register(conn, log)
	if !ok {
		conn.CloseLingering(rejectLinger)
		return
	}
	log = log.With(zap.String("nickname", nickname))
	defer s.leave(nickname, log)

	s.announce(nickname)
	s.commandLoop(conn, nickname, log)
}

// register reads REGISTER and PORT. It returns false when the connection must close.
func (s *Server) register(conn *SafeConn, log *zap.Logger) (string, bool) {
	payload, err := conn.ReadPayload()
	if err != nil {
		log.Debug("connection closed before REGISTER", zap.Error(err))
		return "", false
	}

	var reg protocol.RegisterMessage
	if err := reg.Decode(payload); err != nil {
		log.Info("invalid REGISTER", zap.Error(err))
		s.metrics.RecordRegistrationRejected("invalid_register")
		s.sendError(conn, "Invalid REGISTER format", log)
		return "", false
	}

	if err := s.directory.Register(conn, reg.Nickname, remoteIP(conn), reg.UDPPort); err != nil {
		log.Info("nickname taken", zap.String("nickname", reg.Nickname))
		s.metrics.RecordRegistrationRejected("nickname_taken")
		if err := conn.Send(&protocol.NicknameTakenMessage{}); err != nil {
			log.Debug("failed to send NICKNAME_TAKEN", zap.Error(err))
		}
		return "", false
	}

	payload, err = conn.ReadPayload()
	if err != nil {
		s.directory.Remove(reg.Nickname)
		s.metrics.RecordRegistrationRejected("missing_port")
		s.sendError(conn, fmt.Sprintf("No TCP port received: %v", err), log)
		return "", false
	}

	var port protocol.PortMessage
	err = port.Decode(payload)
	if err == nil {
		err = s.activate(conn, reg.Nickname, &port, log)
	}
	if err != nil {
		s.directory.Remove(reg.Nickname)
		log.Info("invalid PORT during registration", zap.String("nickname", reg.Nickname), zap.Error(err))
		s.metrics.RecordRegistrationRejected("invalid_port")
		s.sendError(conn, "Invalid PORT message or nickname mismatch", log)
		return "", false
	}

	s.metrics.RecordRegistration()
	s.metrics.RecordRegisteredPeers(s.directory.Len())
	log.Info("peer registered",
		zap.String("nickname", reg.Nickname),
		zap.Int("udp_port", reg.UDPPort),
		zap.Int("tcp_port", port.TCPPort),
	)
	return reg.Nickname, true
}

// activate marks the record ready and sends the newcomer its JOINED snapshot.
// The write lock is taken before the record turns ready, so broadcasts that
// pick the newcomer up queue behind the snapshot.
func (s *Server) activate(conn *SafeConn, nickname string, port *protocol.PortMessage, log *zap.Logger) error {
	return conn.Exclusive(func(w io.Writer) error {
		snapshot, err := s.directory.Activate(nickname, port.Nickname, port.TCPPort)
		if err != nil {
			return err
		}
		for _, rec := range snapshot {
			joined := &protocol.JoinedMessage{
				Nickname: rec.Nickname,
				IP:       rec.IP,
				UDPPort:  rec.DiscoveryPort,
				TCPPort:  rec.ChatPort,
			}
			if err := protocol.WriteFrame(w, []byte(joined.Encode())); err != nil {
				// The read side notices the broken connection
				log.Debug("failed to send snapshot entry", zap.String("peer", rec.Nickname), zap.Error(err))
				return nil
			}
		}
		return nil
	})
}

// announce tells every other ready peer about the newcomer
func (s *Server) announce(nickname string) {
	self, ok := s.directory.Lookup(nickname)
	if !ok {
		return
	}
	s.broadcast("joined", &protocol.JoinedMessage{
		Nickname: self.Nickname,
		IP:       self.IP,
		UDPPort:  self.DiscoveryPort,
		TCPPort:  self.ChatPort,
	}, nickname)
}

// commandLoop serves a fully registered peer until its connection fails or the server stops
func (s *Server) commandLoop(conn *SafeConn, nickname string, log *zap.Logger) {
	for s.running.Load() {
		payload, err := conn.ReadPayload()
		if err != nil {
			if errors.Is(err, protocol.ErrConnectionClosed) {
				log.Info("peer disconnected")
			} else {
				log.Info("peer read error", zap.Error(err))
			}
			return
		}

		s.handleCommand(conn, nickname, payload, log)
	}
}

// leave removes the peer and announces LEFT exactly once
func (s *Server) leave(nickname string, log *zap.Logger) {
	if !s.directory.Remove(nickname) {
		return
	}
	s.metrics.RecordRegisteredPeers(s.directory.Len())
	s.broadcast("left", &protocol.LeftMessage{Nickname: nickname}, nickname)
	log.Info("peer left")
}

// broadcast fans msg out to every ready peer except exclude
func (s *Server) broadcast(kind string, msg protocol.Message, exclude string) int {
	start := time.Now()
	delivered, failures := s.directory.Broadcast([]byte(msg.Encode()), exclude)
	s.metrics.RecordBroadcast(kind, delivered, len(failures), time.Since(start).Seconds())

	for _, f := range failures {
		s.logger.Debug("broadcast delivery failed",
			zap.String("kind", kind),
			zap.String("recipient", f.Nickname),
			zap.Error(f.Err),
		)
	}
	return delivered
}

// BroadcastText injects a server-originated BROADCAST to every peer
func (s *Server) BroadcastText(text string) int {
	return s.broadcast("operator", &protocol.BroadcastMessage{Text: text}, "")
}

// sendError sends an ERROR reply, logging rather than returning write failures
func (s *Server) sendError(conn *SafeConn, reason string, log *zap.Logger) {
	s.metrics.RecordErrorSent()
	if err := conn.Send(&protocol.ErrorMessage{Reason: reason}); err != nil {
		log.Debug("failed to send ERROR", zap.String("reason", reason), zap.Error(err))
	}
}

func (s *Server) track(id string, conn *SafeConn) {
	s.connMu.Lock()
	s.conns[id] = conn
	// Stop may have swept the table before we were added
	if !s.running.Load() {
		conn.Close()
	}
	s.connMu.Unlock()
	s.metrics.RecordConnectionOpened()
}

func (s *Server) untrack(id string) {
	s.connMu.Lock()
	delete(s.conns, id)
	s.connMu.Unlock()
	s.metrics.RecordConnectionClosed()
}
