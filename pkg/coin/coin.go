// Package coin resolves the common-coin value a peer's GenuineFlip step
// falls back to when no supermajority of aux values agrees. pkg/metavote
// never computes this value itself: it is always injected via the
// coinTosses map metavote.NextFinal consumes, so this package exists
// purely to produce that map honestly.
package coin

// Coin resolves the coin-toss value for a given round, once enough peers
// have contributed their share of it.
type Coin interface {
	// Toss returns (value, resolved). resolved is false until enough
	// shares have been submitted for round to determine value.
	Toss(round uint64) (value bool, resolved bool)
}
