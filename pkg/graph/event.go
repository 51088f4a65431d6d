// Package graph implements the minimal in-memory gossip-event DAG that the
// metavote derivation runs over: events, their parent ancestry, and the
// "most recent meta-vote list per other peer as seen by this event" helper
// that yields the `others` shape metavote.NextTemp/NextFinal take.
// (pkg/engine builds its own `others` from each peer's latest event via
// Graph.Latest rather than through this helper.)
//
// Full gossip-graph construction (event ordering, strongly-seeing,
// interesting-event detection) is out of scope here; this package only
// carries enough structure to exercise the meta-vote core end to end.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/replicant/metavoted/pkg/metavote"
	"github.com/replicant/metavoted/pkg/peer"
)

// Hash identifies an Event by the content hash of its creator, parents, and
// payload.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (used as "no parent").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Event is one gossip-graph node: a peer's observation, optionally citing a
// self-parent (its own previous event) and an other-parent (the most
// recent event it has seen from another peer), carrying an opaque payload
// and the meta-vote opinion lists it has derived so far for every peer it
// knows about (including itself).
type Event struct {
	Hash        Hash
	Creator     peer.PeerID
	SelfParent  Hash
	OtherParent Hash
	Payload     []byte
	MetaVotes   map[peer.PeerID][]metavote.MetaVote
}

// HasSelfParent reports whether e cites a self-parent.
func (e *Event) HasSelfParent() bool {
	return !e.SelfParent.IsZero()
}

// HasOtherParent reports whether e cites an other-parent.
func (e *Event) HasOtherParent() bool {
	return !e.OtherParent.IsZero()
}

// computeHash derives e's content hash from its creator, parents, and
// payload; MetaVotes are not hashed. Two events with identical
// creator/parents/payload collide deliberately (the graph treats them as
// the same event).
func computeHash(creator peer.PeerID, selfParent, otherParent Hash, payload []byte) Hash {
	h := sha256.New()
	h.Write([]byte(creator))
	h.Write(selfParent[:])
	h.Write(otherParent[:])
	h.Write(payload)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// NewEvent constructs an Event and fixes its content hash. metaVotes is
// copied defensively (each per-peer slice too) so later mutation of the
// caller's map cannot alter an already-published event.
func NewEvent(creator peer.PeerID, selfParent, otherParent Hash, payload []byte, metaVotes map[peer.PeerID][]metavote.MetaVote) *Event {
	e := &Event{
		Creator:     creator,
		SelfParent:  selfParent,
		OtherParent: otherParent,
		Payload:     append([]byte(nil), payload...),
		MetaVotes:   copyMetaVotes(metaVotes),
	}
	e.Hash = computeHash(creator, selfParent, otherParent, payload)
	return e
}

func copyMetaVotes(src map[peer.PeerID][]metavote.MetaVote) map[peer.PeerID][]metavote.MetaVote {
	dst := make(map[peer.PeerID][]metavote.MetaVote, len(src))
	for p, votes := range src {
		dst[p] = append([]metavote.MetaVote(nil), votes...)
	}
	return dst
}

// Graph is a thread-safe store of events, indexed by hash, with ancestry
// lookups keyed by creator.
type Graph struct {
	mu     sync.RWMutex
	events map[Hash]*Event
	byPeer map[peer.PeerID][]*Event // append-ordered, each peer's own chain
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		events: make(map[Hash]*Event),
		byPeer: make(map[peer.PeerID][]*Event),
	}
}

// Add inserts e into the graph. It is a no-op if e's hash is already
// present (events are immutable and content-addressed).
func (g *Graph) Add(e *Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.events[e.Hash]; ok {
		return
	}
	g.events[e.Hash] = e
	g.byPeer[e.Creator] = append(g.byPeer[e.Creator], e)
}

// Get looks up an event by hash.
func (g *Graph) Get(h Hash) (*Event, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.events[h]
	return e, ok
}

// Latest returns the most recently added event created by p, if any.
func (g *Graph) Latest(p peer.PeerID) (*Event, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	chain := g.byPeer[p]
	if len(chain) == 0 {
		return nil, false
	}
	return chain[len(chain)-1], true
}

// Peers returns every peer the graph has seen at least one event from.
func (g *Graph) Peers() []peer.PeerID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]peer.PeerID, 0, len(g.byPeer))
	for p := range g.byPeer {
		out = append(out, p)
	}
	return out
}

// Chain returns peer p's own events in the order they were added, the
// same ordering dotdump needs to lay out one peer's column bottom to top.
func (g *Graph) Chain(p peer.PeerID) []*Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Event(nil), g.byPeer[p]...)
}

// All returns every event currently in the graph, in no particular
// order. Intended for read-only snapshot consumers such as dotdump.
func (g *Graph) All() []*Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Event, 0, len(g.events))
	for _, e := range g.events {
		out = append(out, e)
	}
	return out
}

// OtherPeerMetaVotes returns, for every peer other than e.Creator that e
// has recorded an opinion for, that peer's meta-vote list as e last saw
// it. This is exactly the `others [][]metavote.MetaVote` argument that
// metavote.NewForObserver/NextTemp/NextFinal require: the most recent
// meta-vote list per other peer as seen by this event.
func (e *Event) OtherPeerMetaVotes() [][]metavote.MetaVote {
	others := make([][]metavote.MetaVote, 0, len(e.MetaVotes))
	for p, votes := range e.MetaVotes {
		if p == e.Creator {
			continue
		}
		others = append(others, votes)
	}
	return others
}

// SelfMetaVotes returns e's own meta-vote list as recorded on e, or nil if
// e has not derived one yet.
func (e *Event) SelfMetaVotes() []metavote.MetaVote {
	return e.MetaVotes[e.Creator]
}

func (e *Event) String() string {
	return fmt.Sprintf("Event{%s by %s}", e.Hash.String()[:8], e.Creator)
}
