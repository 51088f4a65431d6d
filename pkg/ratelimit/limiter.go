// Package ratelimit bounds how much gossip traffic a single peer may
// produce or receive. Budgets are spent in message-class weight units
// against a shared refill rate (a pull costs more than an ack), and
// peers that misbehave (messages whose handling fails, events the engine
// rejects) collect strikes that escalate into timed quarantines.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/replicant/metavoted/pkg/peer"
)

// Class identifies the kind of gossip message being charged for. The
// values line up with transport's message types so a MessageType converts
// directly.
type Class string

const (
	ClassPush Class = "push"
	ClassPull Class = "pull"
	ClassAck  Class = "ack"
)

// Policy is the shared budget every peer is held to.
type Policy struct {
	// Rate is how many weight units a peer's budget refills per second.
	Rate float64
	// Burst is how many weight units a peer may spend ahead of the
	// refill schedule before being throttled.
	Burst float64
	// Weights prices each message class; classes not listed cost 1.
	Weights map[Class]float64

	// StrikeLimit is how many live strikes trigger a quarantine.
	StrikeLimit int
	// StrikeDecay forgives one strike per this much quiet time.
	StrikeDecay time.Duration
	// QuarantineBase is the first quarantine's length; each repeat
	// doubles it up to QuarantineMax.
	QuarantineBase time.Duration
	QuarantineMax  time.Duration
}

// DefaultPolicy returns limits sized for a small gossip mesh: pulls cost
// more than pushes (they obligate the receiver to respond), acks are
// nearly free, and a quarantine follows once a peer's live strike count,
// which decays by one per quiet minute, reaches three.
func DefaultPolicy() Policy {
	return Policy{
		Rate:  20,
		Burst: 60,
		Weights: map[Class]float64{
			ClassPush: 1,
			ClassPull: 2,
			ClassAck:  0.25,
		},
		StrikeLimit:    3,
		StrikeDecay:    time.Minute,
		QuarantineBase: 30 * time.Second,
		QuarantineMax:  10 * time.Minute,
	}
}

func (p Policy) weight(class Class) float64 {
	if w, ok := p.Weights[class]; ok {
		return w
	}
	return 1
}

// peerState is one peer's standing against the policy. spendHorizon is
// the virtual time its spending schedule has reached: a peer whose
// horizon runs more than Burst/Rate ahead of the wall clock is throttled
// until the clock catches up.
type peerState struct {
	spendHorizon    time.Time
	strikes         float64
	lastStrike      time.Time
	quarantineUntil time.Time
	quarantines     int
}

// PeerLimiter holds every known peer to one shared Policy. Safe for
// concurrent use.
type PeerLimiter struct {
	mu     sync.Mutex
	policy Policy
	peers  map[peer.PeerID]*peerState
	now    func() time.Time
}

// NewPeerLimiter returns a PeerLimiter enforcing policy.
func NewPeerLimiter(policy Policy) *PeerLimiter {
	return &PeerLimiter{
		policy: policy,
		peers:  make(map[peer.PeerID]*peerState),
		now:    time.Now,
	}
}

func (l *PeerLimiter) state(p peer.PeerID) *peerState {
	st, ok := l.peers[p]
	if !ok {
		st = &peerState{}
		l.peers[p] = st
	}
	return st
}

// Allow reports whether p may spend one message of the given class now,
// charging the class weight against p's budget if so. Quarantined peers
// are refused outright without being charged.
func (l *PeerLimiter) Allow(p peer.PeerID, class Class) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.state(p)
	if now.Before(st.quarantineUntil) {
		return false
	}

	cost := time.Duration(l.policy.weight(class) / l.policy.Rate * float64(time.Second))
	headroom := time.Duration(l.policy.Burst / l.policy.Rate * float64(time.Second))

	horizon := st.spendHorizon
	if horizon.Before(now) {
		horizon = now
	}
	if horizon.Add(cost).Sub(now) > headroom {
		return false
	}
	st.spendHorizon = horizon.Add(cost)
	return true
}

// Strike records one act of misbehavior by p. Strikes decay linearly
// with quiet time; reaching the policy's StrikeLimit quarantines p, with
// the quarantine doubling on every repeat offense up to QuarantineMax.
func (l *PeerLimiter) Strike(p peer.PeerID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.state(p)
	st.strikes = l.liveStrikes(st, now) + 1
	st.lastStrike = now

	if st.strikes < float64(l.policy.StrikeLimit) {
		return
	}

	backoff := l.policy.QuarantineBase << uint(st.quarantines)
	if backoff <= 0 || backoff > l.policy.QuarantineMax {
		backoff = l.policy.QuarantineMax
	}
	st.quarantineUntil = now.Add(backoff)
	st.quarantines++
	st.strikes = 0
}

// liveStrikes applies the linear decay to st's strike count as of now.
func (l *PeerLimiter) liveStrikes(st *peerState, now time.Time) float64 {
	if st.strikes == 0 || l.policy.StrikeDecay <= 0 {
		return st.strikes
	}
	forgiven := float64(now.Sub(st.lastStrike)) / float64(l.policy.StrikeDecay)
	if forgiven >= st.strikes {
		return 0
	}
	return st.strikes - forgiven
}

// Quarantined reports whether p is currently quarantined, and until when.
func (l *PeerLimiter) Quarantined(p peer.PeerID) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.peers[p]
	if !ok {
		return time.Time{}, false
	}
	now := l.now()
	if now.Before(st.quarantineUntil) {
		return st.quarantineUntil, true
	}
	return time.Time{}, false
}

// Quarantine forces p into quarantine for d, regardless of strikes. An
// operator override; counts as a repeat offense for backoff purposes.
func (l *PeerLimiter) Quarantine(p peer.PeerID, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(p)
	st.quarantineUntil = l.now().Add(d)
	st.quarantines++
	st.strikes = 0
}

// Pardon clears p's strikes and quarantine and resets its backoff, as if
// the peer were freshly seen. Its spend budget is not refunded.
func (l *PeerLimiter) Pardon(p peer.PeerID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.peers[p]
	if !ok {
		return
	}
	st.strikes = 0
	st.lastStrike = time.Time{}
	st.quarantineUntil = time.Time{}
	st.quarantines = 0
}

// PeerStats is a point-in-time view of one peer's standing.
type PeerStats struct {
	Peer             peer.PeerID `json:"peer_id"`
	DebtSeconds      float64     `json:"debt_seconds"` // how far the spend schedule runs ahead of now
	Strikes          float64     `json:"strikes"`
	Quarantines      int         `json:"quarantines"`
	QuarantinedUntil *time.Time  `json:"quarantined_until,omitempty"`
}

func (l *PeerLimiter) statsLocked(p peer.PeerID, st *peerState, now time.Time) PeerStats {
	stats := PeerStats{
		Peer:        p,
		Strikes:     l.liveStrikes(st, now),
		Quarantines: st.quarantines,
	}
	if debt := st.spendHorizon.Sub(now); debt > 0 {
		stats.DebtSeconds = debt.Seconds()
	}
	if now.Before(st.quarantineUntil) {
		until := st.quarantineUntil
		stats.QuarantinedUntil = &until
	}
	return stats
}

// Stats returns p's current standing, and whether p has ever been seen.
func (l *PeerLimiter) Stats(p peer.PeerID) (PeerStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.peers[p]
	if !ok {
		return PeerStats{}, false
	}
	return l.statsLocked(p, st, l.now()), true
}

// AllStats returns every known peer's standing, ordered by peer id.
func (l *PeerLimiter) AllStats() []PeerStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make([]PeerStats, 0, len(l.peers))
	for p, st := range l.peers {
		out = append(out, l.statsLocked(p, st, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Policy returns a copy of the active policy.
func (l *PeerLimiter) Policy() Policy {
	l.mu.Lock()
	defer l.mu.Unlock()

	pol := l.policy
	pol.Weights = make(map[Class]float64, len(l.policy.Weights))
	for c, w := range l.policy.Weights {
		pol.Weights[c] = w
	}
	return pol
}

// SetPolicy swaps the active policy. Existing spend horizons, strikes,
// and quarantines carry over and are judged against the new limits.
func (l *PeerLimiter) SetPolicy(policy Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policy = policy
}
