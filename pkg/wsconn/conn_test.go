package wsconn

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/peerchat/pkg/protocol"
)

// startEcho serves one upgraded connection with handle
func startEcho(t *testing.T, handle func(*Conn)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func dial(t *testing.T, addr string) *Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Dial(ctx, addr, "/ws", false)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFramesSurviveMessageSplits(t *testing.T) {
	addr := startEcho(t, func(c *Conn) {
		data, _ := protocol.EncodeFrame([]byte("REGISTER alice 5000"))
		// One frame split across three messages, then a second frame whole
		_, _ = c.Write(data[:4])
		_, _ = c.Write(data[4:12])
		_, _ = c.Write(data[12:])
		_ = protocol.WriteFrame(c, []byte("PORT alice 7000"))
		_, _ = io.Copy(io.Discard, c)
	})

	conn := dial(t, addr)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	first, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, "REGISTER alice 5000", string(first))

	second, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, "PORT alice 7000", string(second))
}

func TestEachWriteIsOneMessage(t *testing.T) {
	got := make(chan []byte, 1)
	addr := startEcho(t, func(c *Conn) {
		_, data, err := c.ws.ReadMessage()
		if err == nil {
			got <- data
		}
	})

	conn := dial(t, addr)
	require.NoError(t, protocol.WriteFrame(conn, []byte("BROADCAST hi")))

	select {
	case data := <-got:
		payload, err := protocol.DecodeFrame(data)
		require.NoError(t, err)
		assert.Equal(t, "BROADCAST hi", string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestTextMessageIsRejected(t *testing.T) {
	addr := startEcho(t, func(c *Conn) {
		_ = c.ws.WriteMessage(websocket.TextMessage, []byte("hello"))
		_, _ = io.Copy(io.Discard, c)
	})

	conn := dial(t, addr)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Read(make([]byte, 16))
	assert.ErrorIs(t, err, ErrTextMessage)
}

func TestCloseEndsPeerStream(t *testing.T) {
	readErr := make(chan error, 1)
	addr := startEcho(t, func(c *Conn) {
		_, err := protocol.ReadFrame(c)
		readErr <- err
	})

	conn := dial(t, addr)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err := conn.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close")
	}
}

func TestDialWithoutGateway(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := Dial(context.Background(), strings.TrimPrefix(srv.URL, "http://"), "/ws", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}
