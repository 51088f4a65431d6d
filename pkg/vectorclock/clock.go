// Package vectorclock tracks causality between gossip peers without
// trusting wall clocks. transport ticks its own entry when it broadcasts
// an event, and on every inbound message merges the sender's clock and
// then ticks; it attaches the clock to outgoing messages but does not use
// Compare to order events itself.
package vectorclock

import (
	"encoding/json"
	"sync"

	"github.com/replicant/metavoted/pkg/peer"
)

// Ordering is the causal relationship between two clocks.
type Ordering int

const (
	Before     Ordering = iota // receiver's clock happened before the other
	After                      // receiver's clock happened after the other
	Concurrent                 // neither clock dominates the other
	Equal                      // identical component-wise
)

// Clock is one peer's view of how many messages every peer has sent.
// Safe for concurrent use.
type Clock struct {
	mu      sync.RWMutex
	entries map[peer.PeerID]uint64
}

// New returns an empty Clock.
func New() *Clock {
	return &Clock{entries: make(map[peer.PeerID]uint64)}
}

// NewForPeer returns a Clock with a zero entry for self, so the peer shows
// up in every clock it gossips even before its first increment.
func NewForPeer(self peer.PeerID) *Clock {
	c := New()
	c.entries[self] = 0
	return c
}

// Clone returns a deep copy of c.
func (c *Clock) Clone() *Clock {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := New()
	for p, n := range c.entries {
		clone.entries[p] = n
	}
	return clone
}

// Tick increments p's entry.
func (c *Clock) Tick(p peer.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[p]++
}

// Get returns p's entry (zero if p has never been seen).
func (c *Clock) Get(p peer.PeerID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[p]
}

// Merge folds other into c, taking the component-wise maximum.
func (c *Clock) Merge(other *Clock) {
	if other == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	for p, n := range other.entries {
		if n > c.entries[p] {
			c.entries[p] = n
		}
	}
}

// Compare determines the causal relationship between c and other.
func (c *Clock) Compare(other *Clock) Ordering {
	c.mu.RLock()
	defer c.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	var less, greater bool
	for p, n := range c.entries {
		if m := other.entries[p]; n < m {
			less = true
		} else if n > m {
			greater = true
		}
	}
	for p, m := range other.entries {
		if _, ok := c.entries[p]; !ok && m > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	default:
		return Equal
	}
}

// HappenedBefore reports whether c strictly precedes other.
func (c *Clock) HappenedBefore(other *Clock) bool {
	return c.Compare(other) == Before
}

// IsConcurrent reports whether neither clock dominates the other.
func (c *Clock) IsConcurrent(other *Clock) bool {
	return c.Compare(other) == Concurrent
}

// Snapshot returns the entries as a plain map copy.
func (c *Clock) Snapshot() map[peer.PeerID]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[peer.PeerID]uint64, len(c.entries))
	for p, n := range c.entries {
		out[p] = n
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (c *Clock) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c.entries)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Clock) UnmarshalJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries == nil {
		c.entries = make(map[peer.PeerID]uint64)
	}
	return json.Unmarshal(data, &c.entries)
}
