// Package peer identifies the participants in a meta-vote derivation: a
// peer is anything capable of contributing an opinion (an ordered list of
// metavote.MetaVote) and a vote weight toward the one-third/supermajority
// thresholds in pkg/metavote.
package peer

// PeerID identifies a single peer. It is a plain string so it is usable
// directly as a map key, orders naturally with <, and serializes with no
// custom JSON support needed. Production callers should derive it from a
// verified public key's stable encoding; see pkg/peer/mock for a
// human-readable stand-in used by tests and demos.
type PeerID string
