package server

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/aeolun/peerchat/pkg/protocol"
)

// SafeConn wraps a net.Conn so that whole frames are written one at a time.
// Reads are left to the connection's single handler goroutine.
type SafeConn struct {
	net.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewSafeConn wraps conn
func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{Conn: conn}
}

// WriteFrame writes one length-prefixed frame
func (c *SafeConn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return protocol.WriteFrame(c.Conn, payload)
}

// Exclusive runs fn with the write lock held. fn writes frames to w directly;
// every other writer waits until it returns.
func (c *SafeConn) Exclusive(fn func(w io.Writer) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return fn(c.Conn)
}

// Send encodes and writes a command
func (c *SafeConn) Send(msg protocol.Message) error {
	return c.WriteFrame([]byte(msg.Encode()))
}

// ReadPayload reads the next frame as text
func (c *SafeConn) ReadPayload() (string, error) {
	payload, err := protocol.ReadFrame(c.Conn)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Close closes the underlying connection once
func (c *SafeConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

type closeWriter interface {
	CloseWrite() error
}

// CloseLingering shuts the write side, discards input until the client hangs
// up or d passes, then closes. Closing with unread input resets the
// connection, which can drop the last reply before the client reads it.
func (c *SafeConn) CloseLingering(d time.Duration) error {
	if cw, ok := c.Conn.(closeWriter); ok {
		c.writeMu.Lock()
		err := cw.CloseWrite()
		c.writeMu.Unlock()
		if err == nil {
			_ = c.Conn.SetReadDeadline(time.Now().Add(d))
			_, _ = io.Copy(io.Discard, c.Conn)
		}
	}
	return c.Close()
}

// remoteIP extracts the host part of the connection's remote address
func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
