package metavote

// estimates holds the set of boolean values a peer currently believes might
// be the answer. Once nonempty, it only grows within a single (round, step).
type estimates struct {
	set BoolSet
}

func estimatesFromInitial(value bool) estimates {
	return estimates{set: FromBool(value)}
}

// calculate applies the estimates update rule: if empty, adopt
// the coin toss (if any) as the sole estimate; otherwise echo any value
// supported by at least one-third of peers that isn't already present.
func (e *estimates) calculate(c *Counts, coinToss *bool) {
	if e.set.IsEmpty() {
		if coinToss != nil {
			if *coinToss {
				c.EstimatesTrue++
			} else {
				c.EstimatesFalse++
			}
			e.set = FromBool(*coinToss)
		}
		return
	}

	if c.AtLeastOneThird(c.EstimatesTrue) && e.set.Insert(true) {
		c.EstimatesTrue++
	}
	if c.AtLeastOneThird(c.EstimatesFalse) && e.set.Insert(false) {
		c.EstimatesFalse++
	}
}

func (e estimates) isEmpty() bool {
	return e.set.IsEmpty()
}

// binValues holds the set of values that have achieved supermajority
// support at the estimates level. Only grows within a (round, step).
type binValues struct {
	set BoolSet
}

// calculate applies the bin-values update rule: a value may be
// added only once it has supermajority support among estimates.
func (b *binValues) calculate(c *Counts) {
	if c.IsSupermajority(c.EstimatesTrue) && b.set.Insert(true) {
		c.BinValuesTrue++
	}
	if c.IsSupermajority(c.EstimatesFalse) && b.set.Insert(false) {
		c.BinValuesFalse++
	}
}

// auxValue is a write-once optional bool, set only on the transition of
// bin_values from empty to nonempty.
type auxValue struct {
	value *bool
}

// calculate applies the aux-value update rule: acts only on the
// empty->nonempty transition of bin_values, deterministically tie-breaking
// to true when bin_values has just become Both.
func (a *auxValue) calculate(c *Counts, binValuesBefore, binValuesNow binValues) {
	if a.value != nil {
		return
	}
	if !binValuesBefore.set.IsEmpty() {
		return
	}

	switch binValuesNow.set.Len() {
	case 1:
		v := binValuesNow.set.Contains(true)
		a.value = &v
		if v {
			c.AuxValuesTrue++
		} else {
			c.AuxValuesFalse++
		}
	case 2:
		v := true
		a.value = &v
		c.AuxValuesTrue++
	}
}

// UndecidedValues is the aggregate of the three value cells for an
// Undecided meta-vote.
type UndecidedValues struct {
	estimates estimates
	binValues binValues
	auxValue  auxValue
}

// Values is the sum type {Decided(b), Undecided(UndecidedValues)}.
// A Decided value is terminal and immutable: once reached, update and
// increaseStep become no-ops and the meta-vote list stops growing past it.
type Values struct {
	decided   bool
	decision  bool
	undecided UndecidedValues
}

// DecidedValues constructs a terminal Decided(value) values.
func DecidedValues(value bool) Values {
	return Values{decided: true, decision: value}
}

// valuesFromInitialEstimate constructs an Undecided values with the given
// initial estimate and everything else empty/unset.
func valuesFromInitialEstimate(value bool) Values {
	return Values{undecided: UndecidedValues{estimates: estimatesFromInitial(value)}}
}

// IsDecided reports whether these values are the terminal Decided variant.
func (v Values) IsDecided() bool {
	return v.decided
}

// Decision returns (value, true) iff v is Decided.
func (v Values) Decision() (bool, bool) {
	return v.decision, v.decided
}

// HasEmptyEstimates reports whether v is Undecided with an empty estimates
// set, the stall indicator.
func (v Values) HasEmptyEstimates() bool {
	return !v.decided && v.undecided.estimates.isEmpty()
}

// ContainsAuxValue reports whether v has an aux value: true for any Decided
// value, or for an Undecided value whose aux_value is set.
func (v Values) ContainsAuxValue() bool {
	if v.decided {
		return true
	}
	return v.undecided.auxValue.value != nil
}

// count returns this value's contribution to a Counts aggregation: a
// Decided(b) contributes 1 to every category for b and records the
// decision; an Undecided value contributes 1 per category whose set/option
// currently contains the corresponding value.
func (v Values) count() Counts {
	var c Counts
	if v.decided {
		d := v.decision
		c.Decision = &d
		if v.decision {
			c.EstimatesTrue = 1
			c.BinValuesTrue = 1
			c.AuxValuesTrue = 1
		} else {
			c.EstimatesFalse = 1
			c.BinValuesFalse = 1
			c.AuxValuesFalse = 1
		}
		return c
	}

	u := v.undecided
	if u.estimates.set.Contains(true) {
		c.EstimatesTrue = 1
	}
	if u.estimates.set.Contains(false) {
		c.EstimatesFalse = 1
	}
	if u.binValues.set.Contains(true) {
		c.BinValuesTrue = 1
	}
	if u.binValues.set.Contains(false) {
		c.BinValuesFalse = 1
	}
	if u.auxValue.value != nil {
		if *u.auxValue.value {
			c.AuxValuesTrue = 1
		} else {
			c.AuxValuesFalse = 1
		}
	}
	return c
}

// update applies the full per-step update rule to an Undecided
// values, in order: estimates, then bin_values, then aux_value (using the
// pre-update bin_values snapshot), then the exceeding check, then the
// decision rule for step. Decided values are left untouched.
func (v *Values) update(c Counts, coinToss *bool, step Step) {
	if v.decided {
		return
	}

	binValuesBefore := v.undecided.binValues

	v.undecided.estimates.calculate(&c, coinToss)
	v.undecided.binValues.calculate(&c)
	v.undecided.auxValue.calculate(&c, binValuesBefore, v.undecided.binValues)

	assertNotExceeding(c)

	v.calculateDecision(c, step)
}

// calculateDecision applies the decision rule for step: in a forced step, a
// supermajority of aux values matching the forced value (with bin_values
// already containing it) decides that value; otherwise the decision, if
// any, is inherited from counts (i.e. propagated from a peer that already
// decided). GenuineFlip never originates a decision, only inherits one.
func (v *Values) calculateDecision(c Counts, step Step) {
	if v.decided {
		return
	}

	bin := v.undecided.binValues
	var decision *bool

	switch step {
	case ForcedTrue:
		if bin.set.Contains(true) && c.IsSupermajority(c.AuxValuesTrue) {
			t := true
			decision = &t
		} else {
			decision = c.Decision
		}
	case ForcedFalse:
		if bin.set.Contains(false) && c.IsSupermajority(c.AuxValuesFalse) {
			f := false
			decision = &f
		} else {
			decision = c.Decision
		}
	default: // GenuineFlip
		decision = c.Decision
	}

	if decision != nil {
		*v = DecidedValues(*decision)
	}
}

// increaseStep resets values for the next step: computes new
// estimates from the step being LEFT (the caller then advances step/round),
// and clears bin_values and aux_value. No-op on a Decided values.
func (v *Values) increaseStep(c Counts, coinToss *bool, leavingStep Step) {
	if v.decided {
		return
	}

	var newSet BoolSet
	switch leavingStep {
	case ForcedTrue:
		if c.IsSupermajority(c.AuxValuesFalse) {
			newSet = FromBool(false)
		} else {
			newSet = FromBool(true)
		}
	case ForcedFalse:
		if c.IsSupermajority(c.AuxValuesTrue) {
			newSet = FromBool(true)
		} else {
			newSet = FromBool(false)
		}
	default: // GenuineFlip
		switch {
		case c.IsSupermajority(c.AuxValuesTrue):
			newSet = FromBool(true)
		case c.IsSupermajority(c.AuxValuesFalse):
			newSet = FromBool(false)
		case coinToss != nil:
			newSet = FromBool(*coinToss)
		default:
			// Stall: clear estimates to indicate we're waiting for more
			// gossip (or a coin toss) before we can proceed.
			newSet = Empty
		}
	}

	v.undecided = UndecidedValues{estimates: estimates{set: newSet}}
}

// asChars renders v as the four-character debug tuple:
// Decided(b) => (d,d,d,d) with d in {t,f}; Undecided => (est, bin, aux, '_').
func (v Values) asChars() [4]byte {
	pretty := func(b bool) byte {
		if b {
			return 't'
		}
		return 'f'
	}
	if v.decided {
		d := pretty(v.decision)
		return [4]byte{d, d, d, d}
	}
	u := v.undecided
	aux := byte('_')
	if u.auxValue.value != nil {
		aux = pretty(*u.auxValue.value)
	}
	return [4]byte{u.estimates.set.debugChar(), u.binValues.set.debugChar(), aux, '_'}
}
