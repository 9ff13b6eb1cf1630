package client

import (
	"sort"
	"sync"
)

// Entry is what the client knows about one registered peer
type Entry struct {
	Nickname      string
	IP            string
	DiscoveryPort int
	ChatPort      int
}

// Directory is the local view of the server's presence table. It never
// holds the local nickname.
type Directory struct {
	mu      sync.RWMutex
	self    string
	entries map[string]Entry
}

// NewDirectory creates an empty directory for the local nickname self
func NewDirectory(self string) *Directory {
	return &Directory{
		self:    self,
		entries: make(map[string]Entry),
	}
}

// Upsert stores e, replacing any previous entry. It reports false for the
// local nickname, which is never stored.
func (d *Directory) Upsert(e Entry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.Nickname == d.self {
		return false
	}
	d.entries[e.Nickname] = e
	return true
}

// SetSelf changes the local nickname and drops any entry stored under it
func (d *Directory) SetSelf(self string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.self = self
	delete(d.entries, self)
}

// UpdateChatPort changes the chat port of a known peer
func (d *Directory) UpdateChatPort(nickname string, port int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[nickname]
	if !ok {
		return false
	}
	e.ChatPort = port
	d.entries[nickname] = e
	return true
}

// Remove deletes a peer and reports whether it was known
func (d *Directory) Remove(nickname string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[nickname]; !ok {
		return false
	}
	delete(d.entries, nickname)
	return true
}

// Lookup returns the entry for nickname
func (d *Directory) Lookup(nickname string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[nickname]
	return e, ok
}

// List returns every entry sorted by nickname
func (d *Directory) List() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Nickname < out[j].Nickname
	})
	return out
}

// Len returns the number of known peers
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Clear forgets every peer
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]Entry)
}
