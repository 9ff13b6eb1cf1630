package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/logging"
	"github.com/aeolun/peerchat/pkg/protocol"
)

// DefaultHandshakeTimeout is how long an incoming chat request waits for an answer
const DefaultHandshakeTimeout = 10 * time.Second

const timeoutReason = "No response to chat request (timeout)"

var (
	ErrSessionExists     = errors.New("session already open")
	ErrNoPendingRequest  = errors.New("no pending chat request")
	ErrAlreadyDecided    = errors.New("chat request already answered")
	ErrNotAccepted       = errors.New("chat not accepted")
	ErrPeerManagerClosed = errors.New("peer manager closed")
)

// PeerConfig configures the peer side of the client
type PeerConfig struct {
	Nickname         string
	HandshakeTimeout time.Duration // zero means DefaultHandshakeTimeout
	DialTimeout      time.Duration // zero means 10s

	// StrictHandshake answers commands that do not fit the session's
	// handshake state with ERROR instead of processing them
	StrictHandshake bool
}

// PeerManager owns every peer session, inbound and outbound
type PeerManager struct {
	config   PeerConfig
	nickname atomic.Value // string
	sink     EventSink
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	pending  []*Session // sessions with an unanswered request, oldest first
	listener net.Listener
	closed   bool

	wg sync.WaitGroup
}

// NewPeerManager creates a peer manager. sink and logger may be nil.
func NewPeerManager(config PeerConfig, sink EventSink, logger *zap.Logger) *PeerManager {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	pm := &PeerManager{
		config:   config,
		sink:     sinkOrNop(sink),
		logger:   logging.OrNop(logger),
		sessions: make(map[string]*Session),
	}
	pm.nickname.Store(config.Nickname)
	return pm
}

// Nickname returns the local nickname sent in handshake and chat messages
func (pm *PeerManager) Nickname() string {
	return pm.nickname.Load().(string)
}

// SetNickname changes the local nickname for later messages
func (pm *PeerManager) SetNickname(nickname string) {
	pm.nickname.Store(nickname)
}

// Listen accepts peer connections on port (0 picks a free port) and returns
// the bound port
func (pm *PeerManager) Listen(port int) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return 0, fmt.Errorf("failed to listen on chat port %d: %w", port, err)
	}

	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		listener.Close()
		return 0, ErrPeerManagerClosed
	}
	if pm.listener != nil {
		pm.mu.Unlock()
		listener.Close()
		return 0, errors.New("peer listener already running")
	}
	pm.listener = listener
	pm.mu.Unlock()

	bound := listener.Addr().(*net.TCPAddr).Port
	pm.logger.Info("peer listener started", zap.Int("port", bound))
	pm.sink.Emit(InfoEvent{Message: fmt.Sprintf("Peer server listening on TCP port %d", bound)})

	pm.wg.Add(1)
	go pm.acceptLoop(listener)

	return bound, nil
}

func (pm *PeerManager) acceptLoop(listener net.Listener) {
	defer pm.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			pm.logger.Warn("peer accept error", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		sess := newSession(conn, conn.RemoteAddr().String(), false)
		if err := pm.add(sess); err != nil {
			conn.Close()
			continue
		}

		pm.logger.Debug("peer connected", zap.String("addr", sess.Key()))
		pm.sink.Emit(PeerConnected{Session: sess})
		pm.startReadLoop(sess)
	}
}

// Dial opens a session to a peer's chat port and sends CHAT_REQUEST
func (pm *PeerManager) Dial(ip string, port int) (*Session, error) {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))

	pm.mu.Lock()
	_, exists := pm.sessions[addr]
	pm.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("%w with %s", ErrSessionExists, addr)
	}

	conn, err := net.DialTimeout("tcp", addr, pm.config.DialTimeout)
	if err != nil {
		err = fmt.Errorf("failed to connect to peer: %w", err)
		pm.sink.Emit(ErrorEvent{Addr: addr, Err: err})
		return nil, err
	}

	sess := newSession(conn, addr, true)
	if err := pm.add(sess); err != nil {
		conn.Close()
		return nil, err
	}

	pm.sink.Emit(PeerConnected{Session: sess})
	pm.startReadLoop(sess)

	if err := sess.send(&protocol.ChatRequestMessage{Nickname: pm.Nickname()}); err != nil {
		pm.teardown(sess, false)
		return nil, fmt.Errorf("failed to send chat request: %w", err)
	}
	pm.logger.Debug("chat request sent", zap.String("addr", addr))

	return sess, nil
}

// SendChat sends one chat line on sess
func (pm *PeerManager) SendChat(sess *Session, text string) error {
	if pm.config.StrictHandshake && sess.State() != Accepted {
		return fmt.Errorf("%w: session is %s", ErrNotAccepted, sess.State())
	}

	if err := sess.send(&protocol.ChatMessage{Nickname: pm.Nickname(), Text: text}); err != nil {
		err = fmt.Errorf("failed to send message: %w", err)
		pm.sink.Emit(ErrorEvent{Addr: sess.Key(), Err: err})
		return err
	}
	return nil
}

// CloseChat sends LEFT_CHAT and tears the session down
func (pm *PeerManager) CloseChat(sess *Session) {
	pm.teardown(sess, true)
}

// Respond answers the most recent unanswered chat request
func (pm *PeerManager) Respond(accept bool) error {
	pm.mu.Lock()
	var sess *Session
	for len(pm.pending) > 0 && sess == nil {
		last := pm.pending[len(pm.pending)-1]
		pm.pending = pm.pending[:len(pm.pending)-1]
		if d := last.Decision(); d != nil && d.Outcome() == Undecided {
			sess = last
		}
	}
	pm.mu.Unlock()

	if sess == nil {
		return ErrNoPendingRequest
	}
	return pm.RespondTo(sess, accept)
}

// RespondTo answers the chat request on sess. Only the first answer, or the
// timeout, takes effect.
func (pm *PeerManager) RespondTo(sess *Session, accept bool) error {
	decision := sess.Decision()
	if decision == nil {
		return ErrNoPendingRequest
	}

	outcome := DecisionRejected
	if accept {
		outcome = DecisionAccepted
	}
	if !decision.Settle(outcome) {
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, decision.Outcome())
	}
	pm.dropPending(sess)

	nickname := sess.RemoteNickname()
	if accept {
		sess.setState(Accepted)
		if err := sess.send(&protocol.ChatAcceptMessage{Nickname: pm.Nickname()}); err != nil {
			pm.sink.Emit(ErrorEvent{Addr: sess.Key(), Err: fmt.Errorf("failed to accept chat: %w", err)})
			return err
		}
		pm.sink.Emit(ChatAccepted{Session: sess, Nickname: nickname})
		return nil
	}

	sess.setState(Rejected)
	err := sess.send(&protocol.ChatRejectMessage{Nickname: pm.Nickname()})
	pm.sink.Emit(ChatRejected{Session: sess, Nickname: nickname})
	pm.teardown(sess, false)
	return err
}

// Sessions returns the open sessions
func (pm *PeerManager) Sessions() []*Session {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := make([]*Session, 0, len(pm.sessions))
	for _, s := range pm.sessions {
		out = append(out, s)
	}
	return out
}

// Session returns the open session for a remote address
func (pm *PeerManager) Session(addr string) (*Session, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	s, ok := pm.sessions[addr]
	return s, ok
}

// Close stops listening, tears down every session and waits for their goroutines
func (pm *PeerManager) Close() {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return
	}
	pm.closed = true
	listener := pm.listener
	sessions := make([]*Session, 0, len(pm.sessions))
	for _, s := range pm.sessions {
		sessions = append(sessions, s)
	}
	pm.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, s := range sessions {
		pm.teardown(s, true)
	}
	pm.wg.Wait()
}

func (pm *PeerManager) add(sess *Session) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrPeerManagerClosed
	}
	if _, exists := pm.sessions[sess.Key()]; exists {
		return fmt.Errorf("%w with %s", ErrSessionExists, sess.Key())
	}
	pm.sessions[sess.Key()] = sess
	return nil
}

func (pm *PeerManager) dropPending(sess *Session) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i, s := range pm.pending {
		if s == sess {
			pm.pending = append(pm.pending[:i], pm.pending[i+1:]...)
			return
		}
	}
}

// teardown closes sess once, optionally sending LEFT_CHAT first, and
// emits PeerDisconnected
func (pm *PeerManager) teardown(sess *Session, sendLeft bool) {
	if sendLeft {
		// Best effort; the peer may already be gone
		_ = sess.send(&protocol.LeftChatMessage{Nickname: pm.Nickname()})
	}
	if !sess.close() {
		return
	}

	pm.mu.Lock()
	if pm.sessions[sess.Key()] == sess {
		delete(pm.sessions, sess.Key())
	}
	pm.mu.Unlock()
	pm.dropPending(sess)

	pm.logger.Debug("peer disconnected", zap.String("addr", sess.Key()))
	pm.sink.Emit(PeerDisconnected{Addr: sess.Key(), Nickname: sess.RemoteNickname()})
}

func (pm *PeerManager) startReadLoop(sess *Session) {
	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()
		pm.readLoop(sess)
	}()
}

// readLoop routes frames from one peer until the stream fails or the session closes
func (pm *PeerManager) readLoop(sess *Session) {
	log := pm.logger.With(zap.String("addr", sess.Key()))

	for {
		payload, err := protocol.ReadFrame(sess.conn)
		if err != nil {
			select {
			case <-sess.Done():
				// Closed locally
			default:
				if !errors.Is(err, protocol.ErrConnectionClosed) {
					log.Info("peer read error", zap.Error(err))
					pm.sink.Emit(ErrorEvent{Addr: sess.Key(), Err: fmt.Errorf("peer connection error: %w", err)})
				}
			}
			pm.teardown(sess, sess.State() != Rejected)
			return
		}

		pm.route(sess, string(payload), log)

		select {
		case <-sess.Done():
			return
		default:
		}
	}
}

// route dispatches one peer command by type
func (pm *PeerManager) route(sess *Session, payload string, log *zap.Logger) {
	msg, err := protocol.Parse(payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownCommand) {
			pm.replyError(sess, "Unknown or unexpected peer message")
			pm.sink.Emit(ErrorEvent{Addr: sess.Key(), Err: fmt.Errorf("received unknown peer message: %q", payload)})
			return
		}
		var malformed *protocol.MalformedError
		if errors.As(err, &malformed) {
			pm.replyError(sess, "Malformed "+string(malformed.Command))
		} else {
			pm.replyError(sess, "Malformed message")
		}
		log.Debug("malformed peer message", zap.Error(err))
		return
	}

	if pm.config.StrictHandshake && !pm.expected(sess, msg) {
		log.Info("out-of-state peer message", zap.String("command", string(msg.Command())), zap.Stringer("state", sess.State()))
		pm.replyError(sess, fmt.Sprintf("Unexpected %s in state %s", msg.Command(), sess.State()))
		return
	}

	switch m := msg.(type) {
	case *protocol.ChatRequestMessage:
		pm.handleChatRequest(sess, m)

	case *protocol.ChatAcceptMessage:
		sess.identify(m.Nickname)
		sess.setState(Accepted)
		pm.sink.Emit(ChatAccepted{Session: sess, Nickname: m.Nickname, ByPeer: true})

	case *protocol.ChatRejectMessage:
		sess.identify(m.Nickname)
		sess.setState(Rejected)
		pm.sink.Emit(ChatRejected{Session: sess, Nickname: m.Nickname, ByPeer: true})
		pm.teardown(sess, false)

	case *protocol.LeftChatMessage:
		pm.sink.Emit(PeerLeftChat{Session: sess, Nickname: m.Nickname})
		pm.teardown(sess, false)

	case *protocol.ChatMessage:
		pm.sink.Emit(MessageReceived{Session: sess, Nickname: m.Nickname, Text: m.Text})

	case *protocol.ErrorMessage:
		pm.sink.Emit(ErrorEvent{Addr: sess.Key(), Err: fmt.Errorf("peer error: %s", m.Reason)})

	default:
		pm.replyError(sess, "Unknown or unexpected peer message")
		pm.sink.Emit(ErrorEvent{Addr: sess.Key(), Err: fmt.Errorf("received unknown peer message: %q", payload)})
	}
}

// expected reports whether msg fits the session's handshake state
func (pm *PeerManager) expected(sess *Session, msg protocol.Message) bool {
	state := sess.State()
	switch msg.(type) {
	case *protocol.ChatRequestMessage:
		return !sess.Outbound() && state == AwaitingRequest && sess.Decision() == nil
	case *protocol.ChatAcceptMessage, *protocol.ChatRejectMessage:
		return sess.Outbound() && state == AwaitingResponse
	case *protocol.ChatMessage:
		return state == Accepted
	default:
		return true
	}
}

// handleChatRequest records the requester, asks the application and arms the
// timeout. A repeated request while one is still undecided only refreshes the nickname;
// the pending decision and its watcher stay in charge.
func (pm *PeerManager) handleChatRequest(sess *Session, msg *protocol.ChatRequestMessage) {
	decision := newDecision()

	sess.mu.Lock()
	sess.nickname = msg.Nickname
	if sess.decision != nil && sess.decision.Outcome() == Undecided {
		sess.mu.Unlock()
		pm.logger.Debug("repeated chat request while undecided", zap.String("addr", sess.Key()))
		return
	}
	sess.state = AwaitingRequest
	sess.decision = decision
	sess.mu.Unlock()

	pm.mu.Lock()
	pm.pending = append(pm.pending, sess)
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.watchTimeout(sess, decision)

	pm.sink.Emit(ChatRequestReceived{Session: sess, Nickname: msg.Nickname})
}

// watchTimeout sends ERROR and closes the session if nobody answers in time
func (pm *PeerManager) watchTimeout(sess *Session, decision *Decision) {
	defer pm.wg.Done()

	timer := time.NewTimer(pm.config.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-decision.Done():
		return
	case <-sess.Done():
		return
	case <-timer.C:
	}

	if !decision.Settle(DecisionTimedOut) {
		return
	}

	pm.logger.Info("chat request timed out",
		zap.String("addr", sess.Key()),
		zap.String("nickname", sess.RemoteNickname()),
	)
	_ = sess.send(&protocol.ErrorMessage{Reason: timeoutReason})
	pm.sink.Emit(InfoEvent{Message: fmt.Sprintf("Chat request from %s at %s timed out", sess.DisplayName(), sess.Key())})
	pm.teardown(sess, false)
}

func (pm *PeerManager) replyError(sess *Session, reason string) {
	if err := sess.send(&protocol.ErrorMessage{Reason: reason}); err != nil {
		pm.logger.Debug("failed to send ERROR to peer", zap.String("addr", sess.Key()), zap.Error(err))
	}
}
