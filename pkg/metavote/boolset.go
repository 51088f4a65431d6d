// Package metavote implements the binary meta-voting core of a PARSEC-style
// asynchronous Byzantine-fault-tolerant gossip consensus protocol: the
// per-event meta-vote state, its update rule, step/round progression, and
// the counting rule used to apply one-third / supermajority thresholds.
//
// The package is purely computational: no goroutines, no I/O, no shared
// mutable state. Every function here takes immutable inputs and returns a
// freshly owned result, so the caller (see package engine) can run many
// derivations concurrently over disjoint events without locking.
package metavote

// BoolSet is a set over the two-element universe {true, false}, represented
// as a 2-bit value: bit 0 means the set contains true, bit 1 means it
// contains false. This gives four states (Empty, Single(true),
// Single(false), Both) with constant-time, allocation-free operations.
type BoolSet uint8

const (
	// Empty contains neither true nor false.
	Empty BoolSet = 0
	// SingleTrue contains only true.
	SingleTrue BoolSet = 1 << 0
	// SingleFalse contains only false.
	SingleFalse BoolSet = 1 << 1
	// Both contains true and false.
	Both BoolSet = SingleTrue | SingleFalse
)

// FromBool returns the singleton set containing only b.
func FromBool(b bool) BoolSet {
	if b {
		return SingleTrue
	}
	return SingleFalse
}

// Contains reports whether the set contains b.
func (s BoolSet) Contains(b bool) bool {
	if b {
		return s&SingleTrue != 0
	}
	return s&SingleFalse != 0
}

// Insert adds b to the set, returning true iff the set actually changed.
func (s *BoolSet) Insert(b bool) bool {
	before := *s
	if b {
		*s |= SingleTrue
	} else {
		*s |= SingleFalse
	}
	return *s != before
}

// Len returns the number of elements in the set (0, 1, or 2).
func (s BoolSet) Len() int {
	switch s {
	case Empty:
		return 0
	case Both:
		return 2
	default:
		return 1
	}
}

// IsEmpty reports whether the set has no elements.
func (s BoolSet) IsEmpty() bool {
	return s == Empty
}

// debugChar renders the set as the compact diagnostic character used by
// dotdump: 't', 'f', 'b' (Both), or '-' (Empty).
func (s BoolSet) debugChar() byte {
	switch s {
	case Empty:
		return '-'
	case SingleTrue:
		return 't'
	case SingleFalse:
		return 'f'
	default:
		return 'b'
	}
}
