package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDatagramRoundTrip(t *testing.T) {
	received := make(chan string, 1)
	l, err := ListenDatagrams(0, func(from *net.UDPAddr, text string) {
		received <- text
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer l.Close()

	require.NotZero(t, l.Port())
	require.NoError(t, SendDatagram("127.0.0.1", l.Port(), "ping from bob"))

	select {
	case text := <-received:
		assert.Equal(t, "ping from bob", text)
	case <-time.After(waitTimeout):
		t.Fatal("datagram not received")
	}
}

func TestDatagramListenerCloseStopsLoop(t *testing.T) {
	l, err := ListenDatagrams(0, func(*net.UDPAddr, string) {}, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Close did not return")
	}
}
