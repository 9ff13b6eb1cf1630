package server

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleExecute(t *testing.T) {
	srv, _ := startTestServer(t, false)
	alice := registerPeer(t, srv, "alice", 5000, 7000)
	registerPeer(t, srv, "bob", 5001, 7001)
	alice.expect() // JOINED bob

	var out bytes.Buffer
	console := NewConsole(srv, &out)

	t.Run("peers", func(t *testing.T) {
		out.Reset()
		assert.False(t, console.Execute("peers"))
		assert.Equal(t, "2 peer(s): alice, bob\n", out.String())
	})

	t.Run("broadcast", func(t *testing.T) {
		out.Reset()
		assert.False(t, console.Execute("broadcast  server going down "))
		assert.Equal(t, "Broadcast sent to 2 peer(s)\n", out.String())
		assert.Equal(t, "BROADCAST server going down", alice.expect())
	})

	t.Run("broadcast without text", func(t *testing.T) {
		out.Reset()
		assert.False(t, console.Execute("broadcast"))
		assert.Contains(t, out.String(), "Usage")
	})

	t.Run("unknown", func(t *testing.T) {
		out.Reset()
		assert.False(t, console.Execute("reboot"))
		assert.Contains(t, out.String(), `Unknown command "reboot"`)
	})

	t.Run("blank", func(t *testing.T) {
		out.Reset()
		assert.False(t, console.Execute("   "))
		assert.Empty(t, out.String())
	})

	t.Run("quit", func(t *testing.T) {
		assert.True(t, console.Execute("q"))
		assert.True(t, console.Execute("QUIT"))
	})
}

func TestConsoleRunQuitStopsServer(t *testing.T) {
	srv, _ := startTestServer(t, false)

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- NewConsole(srv, &out).Run(strings.NewReader("peers\nq\n"))
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(readTimeout):
		t.Fatal("console did not return after q")
	}

	select {
	case <-srv.Done():
	default:
		t.Fatal("server not stopped")
	}
	assert.Contains(t, out.String(), "No peers registered")
}

func TestConsoleRunReturnsOnEOF(t *testing.T) {
	srv, _ := startTestServer(t, false)

	var out bytes.Buffer
	err := NewConsole(srv, &out).Run(strings.NewReader(""))
	require.NoError(t, err)

	select {
	case <-srv.Done():
		t.Fatal("EOF on the console must not stop the server")
	default:
	}
}
