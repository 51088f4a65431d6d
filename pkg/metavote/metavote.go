package metavote

// MetaVote holds the state of one binary meta-vote at a given (round, step):
// the estimates/bin-values/aux-value cells while Undecided, or a terminal
// decision. An event's full opinion on the question is a list of MetaVote,
// one entry per (round, step) visited so far, in non-decreasing
// lexicographic (round, step) order.
type MetaVote struct {
	Round  uint64
	Step   Step
	Values Values
}

// RoundAndStep returns the (round, step) pair identifying this entry.
func (m MetaVote) RoundAndStep() (uint64, Step) {
	return m.Round, m.Step
}

// IsDecided reports whether this entry's values are terminal.
func (m MetaVote) IsDecided() bool {
	return m.Values.IsDecided()
}

// Decision returns (value, true) iff this entry is Decided.
func (m MetaVote) Decision() (bool, bool) {
	return m.Values.Decision()
}

// ContainsAuxValue reports whether this entry has an aux value set.
func (m MetaVote) ContainsAuxValue() bool {
	return m.Values.ContainsAuxValue()
}

// HasEmptyEstimates reports whether this entry is Undecided with an empty
// estimates set (the stall indicator: no further derivation is possible
// until more gossip, or a coin toss, arrives).
func (m MetaVote) HasEmptyEstimates() bool {
	return m.Values.HasEmptyEstimates()
}

// NewForObserver builds the seed meta-vote list for an event that first
// observes the question, with the given initial estimate: one MetaVote at
// (round 0, ForcedTrue) carrying Undecided{estimates: {initialEstimate}},
// then immediately derived forward via next-votes with no coin tosses.
func NewForObserver(initialEstimate bool, others [][]MetaVote, totalPeers int) []MetaVote {
	seed := MetaVote{Values: valuesFromInitialEstimate(initialEstimate)}
	return nextVotes([]MetaVote{seed}, others, nil, totalPeers)
}

// NextTemp derives a tentative next meta-vote list from parent with no coin
// tosses available yet. The result may stall (an Undecided tip with empty
// estimates in GenuineFlip): callers compute the common coin from this
// tentative tip, then call NextFinal with the resolved coin map.
func NextTemp(parent []MetaVote, others [][]MetaVote, totalPeers int) []MetaVote {
	return nextVotes(parent, others, nil, totalPeers)
}

// NextFinal re-derives the next meta-vote list from temp using the now
// resolved coinTosses map (round -> value), finalizing any step/round
// advance that was stalled waiting on a coin.
func NextFinal(temp []MetaVote, others [][]MetaVote, coinTosses map[uint64]bool, totalPeers int) []MetaVote {
	return nextVotes(temp, others, coinTosses, totalPeers)
}

// nextVotes re-runs `update` over every entry of prev
// (stopping just after the first entry that was already Decided before its
// update), then keep deriving new (round, step) entries via nextVote until
// it returns nil.
func nextVotes(prev []MetaVote, others [][]MetaVote, coinTosses map[uint64]bool, totalPeers int) []MetaVote {
	next := make([]MetaVote, 0, len(prev)+1)

	for _, vote := range prev {
		counts := NewCounts(vote, others, totalPeers)
		wasDecided := vote.IsDecided()
		updated := vote
		updated.apply(counts, coinTosses)
		next = append(next, updated)
		if wasDecided {
			break
		}
	}

	for {
		nv, ok := nextVote(lastOf(next), others, coinTosses, totalPeers)
		if !ok {
			break
		}
		next = append(next, nv)
	}

	return next
}

func lastOf(list []MetaVote) *MetaVote {
	if len(list) == 0 {
		return nil
	}
	return &list[len(list)-1]
}

// apply runs the update rule for this entry's own round/step using
// counts, consuming the coin toss for this entry's round from coinTosses
// (if present).
func (m *MetaVote) apply(counts Counts, coinTosses map[uint64]bool) {
	var coinToss *bool
	if v, ok := coinTosses[m.Round]; ok {
		coinToss = &v
	}
	m.Values.update(counts, coinToss, m.Step)
}

// nextVote advances the derivation by one entry: given parent (the current
// tip), advances to the next (round, step) iff parent has a supermajority
// of aux values set, applying the coin-toss-aware increaseStep transition
// and then running update on the freshly advanced entry with counts
// recomputed at its own (round, step).
func nextVote(parent *MetaVote, others [][]MetaVote, coinTosses map[uint64]bool, totalPeers int) (MetaVote, bool) {
	if parent == nil || parent.IsDecided() {
		return MetaVote{}, false
	}

	counts := NewCounts(*parent, others, totalPeers)
	if !counts.IsSupermajority(counts.AuxValuesSet()) {
		return MetaVote{}, false
	}

	var coinToss *bool
	if v, ok := coinTosses[parent.Round]; ok {
		coinToss = &v
	}

	next := parent.increaseStep(counts, coinToss)
	newCounts := NewCounts(next, others, totalPeers)
	next.apply(newCounts, coinTosses)
	return next, true
}

// increaseStep returns a copy of m advanced to the next step (and round, on
// the GenuineFlip->ForcedTrue wrap), with its values reset. The new
// estimates are computed from the step being left (m.Step) before the step
// itself is advanced.
func (m MetaVote) increaseStep(counts Counts, coinToss *bool) MetaVote {
	next := m
	next.Values.increaseStep(counts, coinToss, m.Step)
	step, roundDelta := m.Step.Next()
	next.Step = step
	next.Round += roundDelta
	return next
}

// AsChars renders this entry's values as the four-character debug tuple
// used by dotdump.
func (m MetaVote) AsChars() [4]byte {
	return m.Values.asChars()
}
