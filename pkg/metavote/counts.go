package metavote

// Counts aggregates peer contributions at a single (round, step): how many
// peers' estimates, bin-values, and aux-values currently contain true/false,
// plus any decision a contributing peer has already reached. It is
// transient, built fresh for every update and never persisted.
type Counts struct {
	EstimatesTrue  int
	EstimatesFalse int
	BinValuesTrue  int
	BinValuesFalse int
	AuxValuesTrue  int
	AuxValuesFalse int
	Decision       *bool
	TotalPeers     int
}

// NewCounts aggregates the contribution of parent plus, for each slice in
// others, the last entry whose (round, step) matches parent's: that peer's
// most recent opinion on the question parent is deriving. Peers with no
// matching entry are skipped.
func NewCounts(parent MetaVote, others [][]MetaVote, totalPeers int) Counts {
	c := Counts{TotalPeers: totalPeers}

	for _, otherList := range others {
		var last *MetaVote
		for i := range otherList {
			if otherList[i].Round == parent.Round && otherList[i].Step == parent.Step {
				last = &otherList[i]
			}
		}
		if last != nil {
			c.add(last.Values.count())
		}
	}
	c.add(parent.Values.count())
	return c
}

// add sums other's numeric fields into c and unifies Decision via
// left-biased "first-set wins": c's existing decision, if any, is kept.
func (c *Counts) add(other Counts) {
	c.EstimatesTrue += other.EstimatesTrue
	c.EstimatesFalse += other.EstimatesFalse
	c.BinValuesTrue += other.BinValuesTrue
	c.BinValuesFalse += other.BinValuesFalse
	c.AuxValuesTrue += other.AuxValuesTrue
	c.AuxValuesFalse += other.AuxValuesFalse
	if c.Decision == nil {
		c.Decision = other.Decision
	}
}

// AuxValuesSet returns the number of peers that have set an aux value
// (either true or false) at this (round, step).
func (c Counts) AuxValuesSet() int {
	return c.AuxValuesTrue + c.AuxValuesFalse
}

// IsSupermajority reports whether count is a strict supermajority: more
// than two-thirds of TotalPeers (3*count > 2*TotalPeers). This is the
// threshold the protocol relies on for safety under f < n/3 Byzantine
// peers.
func (c Counts) IsSupermajority(count int) bool {
	return 3*count > 2*c.TotalPeers
}

// AtLeastOneThird reports whether count is at least one-third of
// TotalPeers (3*count >= TotalPeers). This is the amplification threshold:
// any value supported by at least a third of peers must be echoed, so an
// honest majority can never be split into two non-communicating halves.
func (c Counts) AtLeastOneThird(count int) bool {
	return 3*count >= c.TotalPeers
}

// CheckExceeding flags a logic violation: any category exceeding
// TotalPeers means more peers contributed to this (round, step) than exist,
// which can only happen from a bug in the caller's ancestry bookkeeping.
// logFn receives a human-readable description if the check fails; pass nil
// to silently ignore. Values.update goes through assertNotExceeding, which
// panics under the `debug` build tag (assert_debug.go) and logs otherwise
// (assert_release.go).
func (c Counts) CheckExceeding(logFn func(msg string)) {
	exceeding := c.EstimatesTrue > c.TotalPeers ||
		c.EstimatesFalse > c.TotalPeers ||
		c.BinValuesTrue > c.TotalPeers ||
		c.BinValuesFalse > c.TotalPeers ||
		c.AuxValuesTrue > c.TotalPeers ||
		c.AuxValuesFalse > c.TotalPeers

	if exceeding && logFn != nil {
		logFn("meta-vote count exceeds total peers")
	}
}
