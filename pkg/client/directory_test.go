package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryNeverStoresSelf(t *testing.T) {
	d := NewDirectory("alice")

	assert.False(t, d.Upsert(Entry{Nickname: "alice", IP: "10.0.0.1", DiscoveryPort: 5000, ChatPort: 7000}))
	assert.Zero(t, d.Len())

	_, ok := d.Lookup("alice")
	assert.False(t, ok)
}

func TestDirectorySetSelf(t *testing.T) {
	d := NewDirectory("alice")
	require.True(t, d.Upsert(Entry{Nickname: "alicia", IP: "10.0.0.2"}))

	d.SetSelf("alicia")
	_, ok := d.Lookup("alicia")
	assert.False(t, ok, "entry under the new local nickname is dropped")
	assert.False(t, d.Upsert(Entry{Nickname: "alicia"}))
	assert.True(t, d.Upsert(Entry{Nickname: "alice"}))
}

func TestDirectoryUpsertAndList(t *testing.T) {
	d := NewDirectory("alice")

	require.True(t, d.Upsert(Entry{Nickname: "carol", IP: "10.0.0.3", DiscoveryPort: 5002, ChatPort: 7002}))
	require.True(t, d.Upsert(Entry{Nickname: "bob", IP: "10.0.0.2", DiscoveryPort: 5001, ChatPort: 0}))
	require.True(t, d.Upsert(Entry{Nickname: "bob", IP: "10.0.0.9", DiscoveryPort: 5001, ChatPort: 7001}))

	list := d.List()
	require.Len(t, list, 2)
	assert.Equal(t, "bob", list[0].Nickname)
	assert.Equal(t, "10.0.0.9", list[0].IP)
	assert.Equal(t, "carol", list[1].Nickname)
}

func TestDirectoryUpdateChatPort(t *testing.T) {
	d := NewDirectory("alice")
	d.Upsert(Entry{Nickname: "bob", IP: "10.0.0.2", DiscoveryPort: 5001})

	assert.True(t, d.UpdateChatPort("bob", 7001))
	assert.False(t, d.UpdateChatPort("nobody", 7001))

	e, ok := d.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, 7001, e.ChatPort)
	assert.Equal(t, 5001, e.DiscoveryPort)
}

func TestDirectoryRemoveAndClear(t *testing.T) {
	d := NewDirectory("alice")
	d.Upsert(Entry{Nickname: "bob"})
	d.Upsert(Entry{Nickname: "carol"})

	assert.True(t, d.Remove("bob"))
	assert.False(t, d.Remove("bob"))
	assert.Equal(t, 1, d.Len())

	d.Clear()
	assert.Empty(t, d.List())
}
