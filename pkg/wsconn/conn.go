// Package wsconn carries the framed byte stream over WebSocket binary
// messages, so the same handlers serve TCP and WebSocket peers.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const bufferSize = 64 * 1024

// HandshakeTimeout bounds the client side of the upgrade
const HandshakeTimeout = 10 * time.Second

var ErrTextMessage = errors.New("websocket: text message on a binary stream")

// Conn is a net.Conn over a WebSocket. Message boundaries carry no meaning:
// reads stream across messages and every Write becomes one binary message.
type Conn struct {
	ws *websocket.Conn

	readMu sync.Mutex
	cur    io.Reader // remainder of the message being read

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

var _ net.Conn = (*Conn)(nil)

// New wraps an established WebSocket
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, closed: make(chan struct{})}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  bufferSize,
	WriteBufferSize: bufferSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Accept upgrades an HTTP request
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(ws), nil
}

// Dial connects to ws://addr/path, or wss:// when useTLS is set
func Dial(ctx context.Context, addr, path string, useTLS bool) (*Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	if useTLS {
		u.Scheme = "wss"
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
		ReadBufferSize:   bufferSize,
		WriteBufferSize:  bufferSize,
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	switch {
	case errors.Is(err, websocket.ErrBadHandshake) && useTLS:
		return nil, fmt.Errorf("wss handshake with %s failed, the server may only speak ws://: %w", addr, err)
	case errors.Is(err, websocket.ErrBadHandshake):
		return nil, fmt.Errorf("ws handshake with %s failed, the server may require wss://: %w", addr, err)
	case err != nil:
		return nil, err
	}
	return New(ws), nil
}

func (c *Conn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.cur != nil {
			n, err := c.cur.Read(b)
			if errors.Is(err, io.EOF) {
				c.cur = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		kind, r, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if kind != websocket.BinaryMessage {
			return 0, ErrTextMessage
		}
		c.cur = r
	}
}

func (c *Conn) Write(b []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close sends a close message when possible and closes the socket once
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error {
	return errors.Join(c.ws.SetReadDeadline(t), c.ws.SetWriteDeadline(t))
}

func (c *Conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
