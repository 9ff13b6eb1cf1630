package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestState(t *testing.T) (*State, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nested", "state.db")
	state, err := OpenState(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })
	return state, path
}

func TestStateConfigValues(t *testing.T) {
	state, path := openTestState(t)

	assert.Equal(t, filepath.Dir(path), state.GetStateDir())
	assert.True(t, state.GetFirstRun())
	require.NoError(t, state.SetFirstRunComplete())
	assert.False(t, state.GetFirstRun())

	assert.Empty(t, state.GetLastNickname())
	require.NoError(t, state.SetLastNickname("alice"))
	require.NoError(t, state.SetLastNickname("alice2"))
	assert.Equal(t, "alice2", state.GetLastNickname())

	require.NoError(t, state.SetLastServer("ws://chat.example.com:9345/ws"))
	assert.Equal(t, "ws://chat.example.com:9345/ws", state.GetLastServer())

	assert.Zero(t, state.GetLastChatPort())
	require.NoError(t, state.SetLastChatPort(7001))
	assert.Equal(t, 7001, state.GetLastChatPort())
}

func TestStateConnectionHistory(t *testing.T) {
	state, _ := openTestState(t)

	method, err := state.GetLastSuccessfulMethod("chat.example.com:9345")
	require.NoError(t, err)
	assert.Empty(t, method)

	require.NoError(t, state.SaveSuccessfulConnection("chat.example.com:9345", "tcp"))
	require.NoError(t, state.SaveSuccessfulConnection("chat.example.com:9345", "ws"))

	method, err = state.GetLastSuccessfulMethod("chat.example.com:9345")
	require.NoError(t, err)
	assert.Equal(t, "ws", method)
}

func TestStateRecentPeers(t *testing.T) {
	state, _ := openTestState(t)

	require.NoError(t, state.RecordPeer("bob", "10.0.0.2", 7001))
	require.NoError(t, state.RecordPeer("carol", "10.0.0.3", 7002))
	require.NoError(t, state.RecordPeer("bob", "10.0.0.9", 7009))

	peers, err := state.RecentPeers(10)
	require.NoError(t, err)
	require.Len(t, peers, 2)

	byNick := map[string]RecentPeer{}
	for _, p := range peers {
		byNick[p.Nickname] = p
	}
	assert.Equal(t, "10.0.0.9", byNick["bob"].IP)
	assert.Equal(t, 7009, byNick["bob"].ChatPort)

	limited, err := state.RecentPeers(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStateReopenKeepsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	state, err := OpenState(path, nil)
	require.NoError(t, err)
	require.NoError(t, state.SetLastNickname("alice"))
	require.NoError(t, state.Close())

	state, err = OpenState(path, nil)
	require.NoError(t, err)
	defer state.Close()

	assert.Equal(t, "alice", state.GetLastNickname())

	version, err := getCurrentVersion(state.db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}
