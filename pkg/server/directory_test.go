package server

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWriter captures frames written to it
type recordingWriter struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (w *recordingWriter) WriteFrame(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, string(payload))
	return nil
}

func (w *recordingWriter) Frames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.frames...)
}

func registerReady(t *testing.T, d *Directory, w FrameWriter, nickname string, udp, tcp int) {
	t.Helper()
	require.NoError(t, d.Register(w, nickname, "10.0.0.1", udp))
	require.NoError(t, d.AttachChatPort(nickname, nickname, tcp))
}

func TestDirectoryRegisterRejectsDuplicate(t *testing.T) {
	d := NewDirectory()

	require.NoError(t, d.Register(&recordingWriter{}, "alice", "10.0.0.1", 5000))
	err := d.Register(&recordingWriter{}, "alice", "10.0.0.2", 5001)
	assert.ErrorIs(t, err, ErrNicknameTaken)

	rec, ok := d.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", rec.IP, "first registration must be kept")
	assert.Equal(t, 5000, rec.DiscoveryPort)
	assert.False(t, rec.Ready)
}

func TestDirectoryConcurrentRegisterSingleWinner(t *testing.T) {
	d := NewDirectory()

	const contenders = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := d.Register(&recordingWriter{}, "bob", "10.0.0.1", 6000+i); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, d.Len())
}

func TestDirectoryAttachChatPort(t *testing.T) {
	d := NewDirectory()
	require.NoError(t, d.Register(&recordingWriter{}, "alice", "10.0.0.1", 5000))
	require.NoError(t, d.Register(&recordingWriter{}, "bob", "10.0.0.2", 5001))

	t.Run("mismatched nickname", func(t *testing.T) {
		err := d.AttachChatPort("alice", "bob", 7000)
		assert.ErrorIs(t, err, ErrProtocolViolation)

		rec, _ := d.Lookup("bob")
		assert.Zero(t, rec.ChatPort, "another peer's record must not change")
		assert.False(t, rec.Ready)
	})

	t.Run("unknown owner", func(t *testing.T) {
		err := d.AttachChatPort("carol", "carol", 7000)
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("matching nickname", func(t *testing.T) {
		require.NoError(t, d.AttachChatPort("alice", "alice", 7000))
		rec, _ := d.Lookup("alice")
		assert.Equal(t, 7000, rec.ChatPort)
		assert.True(t, rec.Ready)
	})
}

func TestDirectoryActivateReturnsReadyPeers(t *testing.T) {
	d := NewDirectory()
	registerReady(t, d, &recordingWriter{}, "alice", 5000, 7000)
	require.NoError(t, d.Register(&recordingWriter{}, "bob", "10.0.0.2", 5001))
	require.NoError(t, d.Register(&recordingWriter{}, "carol", "10.0.0.3", 5002))

	_, err := d.Activate("carol", "alice", 7002)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	rec, _ := d.Lookup("carol")
	assert.False(t, rec.Ready)

	snap, err := d.Activate("carol", "carol", 7002)
	require.NoError(t, err)
	require.Len(t, snap, 1, "provisional bob and carol herself are left out")
	assert.Equal(t, "alice", snap[0].Nickname)
	assert.Equal(t, 7000, snap[0].ChatPort)

	rec, _ = d.Lookup("carol")
	assert.True(t, rec.Ready)
	assert.Equal(t, 7002, rec.ChatPort)

	_, err = d.Activate("dave", "dave", 7003)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDirectorySnapshotSkipsExcludedAndProvisional(t *testing.T) {
	d := NewDirectory()
	registerReady(t, d, &recordingWriter{}, "alice", 5000, 7000)
	registerReady(t, d, &recordingWriter{}, "bob", 5001, 7001)
	require.NoError(t, d.Register(&recordingWriter{}, "pending", "10.0.0.9", 5002))

	snap := d.Snapshot("bob")
	require.Len(t, snap, 1)
	assert.Equal(t, "alice", snap[0].Nickname)
	assert.Equal(t, 7000, snap[0].ChatPort)

	assert.Len(t, d.Snapshot(""), 2)
	assert.Equal(t, []string{"alice", "bob"}, d.Nicknames())
}

func TestDirectoryBroadcastExcludesSender(t *testing.T) {
	d := NewDirectory()
	writers := map[string]*recordingWriter{}
	for i, nick := range []string{"alice", "bob", "carol"} {
		w := &recordingWriter{}
		writers[nick] = w
		registerReady(t, d, w, nick, 5000+i, 7000+i)
	}

	delivered, failures := d.Broadcast([]byte("BROADCAST hi"), "alice")
	assert.Equal(t, 2, delivered)
	assert.Empty(t, failures)

	assert.Empty(t, writers["alice"].Frames())
	assert.Equal(t, []string{"BROADCAST hi"}, writers["bob"].Frames())
	assert.Equal(t, []string{"BROADCAST hi"}, writers["carol"].Frames())
}

func TestDirectoryBroadcastContinuesPastFailures(t *testing.T) {
	d := NewDirectory()
	broken := &recordingWriter{err: errors.New("broken pipe")}
	registerReady(t, d, broken, "dead", 5000, 7000)

	healthy := make([]*recordingWriter, 5)
	for i := range healthy {
		healthy[i] = &recordingWriter{}
		registerReady(t, d, healthy[i], fmt.Sprintf("peer%d", i), 5001+i, 7001+i)
	}

	delivered, failures := d.Broadcast([]byte("LEFT x"), "")
	assert.Equal(t, 5, delivered)
	require.Len(t, failures, 1)
	assert.Equal(t, "dead", failures[0].Nickname)
	assert.EqualError(t, failures[0].Err, "broken pipe")

	for _, w := range healthy {
		assert.Equal(t, []string{"LEFT x"}, w.Frames())
	}

	_, stillThere := d.Lookup("dead")
	assert.True(t, stillThere, "failed recipient is removed by its own handler, not by broadcast")
}

func TestDirectoryBroadcastSkipsProvisional(t *testing.T) {
	d := NewDirectory()
	pending := &recordingWriter{}
	require.NoError(t, d.Register(pending, "pending", "10.0.0.1", 5000))

	delivered, _ := d.Broadcast([]byte("BROADCAST hi"), "")
	assert.Zero(t, delivered)
	assert.Empty(t, pending.Frames())
}

func TestDirectoryRemove(t *testing.T) {
	d := NewDirectory()
	registerReady(t, d, &recordingWriter{}, "alice", 5000, 7000)

	assert.True(t, d.Remove("alice"))
	assert.False(t, d.Remove("alice"), "second remove reports absence")
	assert.Zero(t, d.Len())

	// The nickname is free again
	assert.NoError(t, d.Register(&recordingWriter{}, "alice", "10.0.0.3", 5003))
}
