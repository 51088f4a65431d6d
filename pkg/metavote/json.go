package metavote

import (
	"encoding/json"
	"fmt"
)

// wireValues is the explicit on-the-wire shape of Values: a discriminator
// tag plus every field of the Undecided variant named individually, so the
// encoding re-encodes byte-identically without relying on struct-tag
// reflection over unexported fields.
type wireValues struct {
	Decided   bool    `json:"decided"`
	Decision  *bool   `json:"decision,omitempty"`
	Estimates BoolSet `json:"estimates,omitempty"`
	BinValues BoolSet `json:"bin_values,omitempty"`
	AuxValue  *bool   `json:"aux_value,omitempty"`
}

// MarshalJSON implements json.Marshaler for Values.
func (v Values) MarshalJSON() ([]byte, error) {
	w := wireValues{Decided: v.decided}
	if v.decided {
		d := v.decision
		w.Decision = &d
		return json.Marshal(w)
	}
	w.Estimates = v.undecided.estimates.set
	w.BinValues = v.undecided.binValues.set
	w.AuxValue = v.undecided.auxValue.value
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler for Values.
func (v *Values) UnmarshalJSON(data []byte) error {
	var w wireValues
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Decided {
		if w.Decision == nil {
			return fmt.Errorf("metavote: decided value missing decision")
		}
		*v = DecidedValues(*w.Decision)
		return nil
	}
	*v = Values{
		undecided: UndecidedValues{
			estimates: estimates{set: w.Estimates},
			binValues: binValues{set: w.BinValues},
			auxValue:  auxValue{value: w.AuxValue},
		},
	}
	return nil
}

// wireMetaVote is the explicit on-the-wire shape of MetaVote.
type wireMetaVote struct {
	Round  uint64 `json:"round"`
	Step   Step   `json:"step"`
	Values Values `json:"values"`
}

// MarshalJSON implements json.Marshaler for MetaVote.
func (m MetaVote) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMetaVote{Round: m.Round, Step: m.Step, Values: m.Values})
}

// UnmarshalJSON implements json.Unmarshaler for MetaVote.
func (m *MetaVote) UnmarshalJSON(data []byte) error {
	var w wireMetaVote
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Round = w.Round
	m.Step = w.Step
	m.Values = w.Values
	return nil
}

// MarshalJSON implements json.Marshaler for Step, encoding it as its
// canonical small integer (0/1/2) rather than a string, keeping the wire
// format compact.
func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint8(s))
}

// UnmarshalJSON implements json.Unmarshaler for Step.
func (s *Step) UnmarshalJSON(data []byte) error {
	var n uint8
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n > uint8(GenuineFlip) {
		return fmt.Errorf("metavote: invalid step %d", n)
	}
	*s = Step(n)
	return nil
}
