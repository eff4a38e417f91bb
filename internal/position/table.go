// Package position tracks peers exchanging position frames and runs the
// bidirectional position-sync demo.
package position

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r2"
)

// DefaultPeerTimeout retires peers that have been silent this long.
const DefaultPeerTimeout = 5 * time.Second

// Peer is one remote entity.
type Peer struct {
	Key       string    `json:"key"`
	Position  r2.Point  `json:"position"`
	Seq       uint64    `json:"seq"`
	Updates   uint64    `json:"updates"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Table maps peer keys to their latest accepted position.
type Table struct {
	mu      sync.RWMutex
	timeout time.Duration
	peers   map[string]*Peer
}

// NewTable returns an empty table. A non-positive timeout disables expiry.
func NewTable(timeout time.Duration) *Table {
	return &Table{timeout: timeout, peers: make(map[string]*Peer)}
}

// Apply records an accepted frame. It reports whether the peer is new.
func (t *Table) Apply(key string, seq uint64, pos r2.Point, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[key]
	if !ok {
		p = &Peer{Key: key, FirstSeen: at}
		t.peers[key] = p
	}
	p.Position = pos
	p.Seq = seq
	p.Updates++
	p.LastSeen = at
	return !ok
}

// Expire removes peers whose last update is older than the timeout and
// returns their keys.
func (t *Table) Expire(now time.Time) []string {
	if t.timeout <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var gone []string
	for key, p := range t.peers {
		if now.Sub(p.LastSeen) >= t.timeout {
			delete(t.peers, key)
			gone = append(gone, key)
		}
	}
	sort.Strings(gone)
	return gone
}

// Get returns a copy of one peer.
func (t *Table) Get(key string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[key]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Snapshot returns copies of every peer ordered by key.
func (t *Table) Snapshot() []Peer {
	t.mu.RLock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of live peers.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
