package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNicknameTaken     = errors.New("nickname already registered")
	ErrProtocolViolation = errors.New("protocol violation")
)

// FrameWriter is the write side of a registered peer's connection
type FrameWriter interface {
	WriteFrame(payload []byte) error
}

// PeerRecord is the directory entry for one registered nickname
type PeerRecord struct {
	Nickname      string
	IP            string
	DiscoveryPort int
	ChatPort      int  // 0 until the PORT message arrives
	Ready         bool // set once registration completed with a PORT

	conn FrameWriter
}

// DeliveryFailure reports a broadcast write that did not reach its recipient
type DeliveryFailure struct {
	Nickname string
	Err      error
}

// Directory is the server-side table of registered peers.
// Every access goes through one mutex; network writes never happen under it.
type Directory struct {
	mu    sync.Mutex
	peers map[string]*PeerRecord
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		peers: make(map[string]*PeerRecord),
	}
}

// Register reserves nickname for conn with a provisional record
func (d *Directory) Register(conn FrameWriter, nickname, ip string, discoveryPort int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.peers[nickname]; exists {
		return ErrNicknameTaken
	}

	d.peers[nickname] = &PeerRecord{
		Nickname:      nickname,
		IP:            ip,
		DiscoveryPort: discoveryPort,
		conn:          conn,
	}
	return nil
}

// AttachChatPort sets the chat port on owner's record. nickname must match
// the identity the connection registered with.
func (d *Directory) AttachChatPort(owner, nickname string, chatPort int) error {
	if owner != nickname {
		return fmt.Errorf("%w: PORT for %q sent by %q", ErrProtocolViolation, nickname, owner)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.peers[owner]
	if !ok {
		return fmt.Errorf("%w: %q is not registered", ErrProtocolViolation, owner)
	}
	rec.ChatPort = chatPort
	rec.Ready = true
	return nil
}

// Activate completes owner's registration with its chat port and returns the
// ready records it must be told about. Marking ready and taking the snapshot
// happen under one lock, so any later LEFT or JOINED for the newcomer refers
// to state at or after the snapshot.
func (d *Directory) Activate(owner, nickname string, chatPort int) ([]PeerRecord, error) {
	if owner != nickname {
		return nil, fmt.Errorf("%w: PORT for %q sent by %q", ErrProtocolViolation, nickname, owner)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.peers[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrProtocolViolation, owner)
	}
	rec.ChatPort = chatPort
	rec.Ready = true

	records := make([]PeerRecord, 0, len(d.peers)-1)
	for nick, other := range d.peers {
		if nick == owner || !other.Ready {
			continue
		}
		records = append(records, *other)
	}
	return records, nil
}

// Snapshot returns copies of all ready records except exclude, in no particular order
func (d *Directory) Snapshot(exclude string) []PeerRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	records := make([]PeerRecord, 0, len(d.peers))
	for nick, rec := range d.peers {
		if nick == exclude || !rec.Ready {
			continue
		}
		records = append(records, *rec)
	}
	return records
}

// Broadcast writes payload to every ready peer except exclude. The recipient
// list is copied under the lock and written outside it, so a stalled peer
// only holds up the calling goroutine. Failed recipients are reported but
// left in place; their own handler removes them when its read fails.
func (d *Directory) Broadcast(payload []byte, exclude string) (delivered int, failures []DeliveryFailure) {
	type recipient struct {
		nickname string
		conn     FrameWriter
	}

	d.mu.Lock()
	recipients := make([]recipient, 0, len(d.peers))
	for nick, rec := range d.peers {
		if nick == exclude || !rec.Ready {
			continue
		}
		recipients = append(recipients, recipient{nickname: nick, conn: rec.conn})
	}
	d.mu.Unlock()

	for _, r := range recipients {
		if err := r.conn.WriteFrame(payload); err != nil {
			failures = append(failures, DeliveryFailure{Nickname: r.nickname, Err: err})
			continue
		}
		delivered++
	}
	return delivered, failures
}

// Remove deletes nickname and reports whether it was present
func (d *Directory) Remove(nickname string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.peers[nickname]; !ok {
		return false
	}
	delete(d.peers, nickname)
	return true
}

// Lookup returns a copy of the record for nickname
func (d *Directory) Lookup(nickname string) (PeerRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.peers[nickname]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// Nicknames returns the sorted nicknames of ready peers
func (d *Directory) Nicknames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.peers))
	for nick, rec := range d.peers {
		if rec.Ready {
			names = append(names, nick)
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of records, provisional ones included
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.peers)
}
