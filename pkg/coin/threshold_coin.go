package coin

import (
	"errors"
	"sync"

	"github.com/replicant/metavoted/pkg/peer"
	"github.com/rs/zerolog"
)

// ErrConflictingShare is returned when a peer submits two different coin
// shares for the same round; an honest peer never does this.
var ErrConflictingShare = errors.New("coin: conflicting share for round")

// ThresholdCoin resolves a round's coin value once a supermajority of
// peers' shares agree on it. It has no real cryptographic threshold
// signature backing it: it trusts transport-level authentication to keep
// a Byzantine peer from submitting shares under another peer's name.
type ThresholdCoin struct {
	totalPeers int
	threshold  int // at least two-thirds of totalPeers, rounded up: (2n+2)/3

	mu     sync.RWMutex
	shares map[uint64]map[peer.PeerID]bool
	logger zerolog.Logger
}

// NewThresholdCoin returns a ThresholdCoin over totalPeers participants.
func NewThresholdCoin(totalPeers int, logger zerolog.Logger) *ThresholdCoin {
	return &ThresholdCoin{
		totalPeers: totalPeers,
		threshold:  (2*totalPeers + 2) / 3,
		shares:     make(map[uint64]map[peer.PeerID]bool),
		logger:     logger.With().Str("component", "coin").Logger(),
	}
}

// SubmitShare records p's coin share for round. Submitting the same value
// twice is a no-op; submitting a different value than a prior submission
// from the same peer is a logic error (ErrConflictingShare) since shares
// are meant to be derived deterministically from the round and a stable
// per-peer secret.
func (c *ThresholdCoin) SubmitShare(round uint64, p peer.PeerID, value bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	roundShares, ok := c.shares[round]
	if !ok {
		roundShares = make(map[peer.PeerID]bool)
		c.shares[round] = roundShares
	}

	if existing, voted := roundShares[p]; voted {
		if existing != value {
			c.logger.Warn().Uint64("round", round).Str("peer", string(p)).Msg("conflicting coin share")
			return ErrConflictingShare
		}
		return nil
	}

	roundShares[p] = value
	c.logger.Debug().Uint64("round", round).Str("peer", string(p)).Bool("value", value).
		Int("shares", len(roundShares)).Msg("coin share recorded")
	return nil
}

// Toss implements Coin: it resolves once either true or false has been
// submitted by at least threshold peers.
func (c *ThresholdCoin) Toss(round uint64) (value bool, resolved bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	shares, ok := c.shares[round]
	if !ok {
		return false, false
	}

	trueCount, falseCount := 0, 0
	for _, v := range shares {
		if v {
			trueCount++
		} else {
			falseCount++
		}
	}

	switch {
	case trueCount >= c.threshold:
		return true, true
	case falseCount >= c.threshold:
		return false, true
	default:
		return false, false
	}
}

// ShareCount returns how many peers have submitted a share for round, for
// diagnostics and tests.
func (c *ThresholdCoin) ShareCount(round uint64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.shares[round])
}
