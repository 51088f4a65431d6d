// Package mock provides human-readable peer identities for tests and local
// demos. **NOT FOR PRODUCTION USE**: these identities carry no keys and no
// verification; they exist purely so test output and dotdump graphs read
// "Alice", "Bob", "Carol" instead of opaque hex strings.
package mock

import (
	"fmt"

	"github.com/replicant/metavoted/pkg/peer"
)

var names = []string{
	"Alice", "Bob", "Carol", "Dave", "Eric", "Fred", "Gina", "Hank", "Iris", "Judy", "Kent",
	"Lucy", "Mike", "Nina", "Oran", "Paul", "Quin", "Rose", "Stan", "Tina",
}

// MaxIdentities is the number of distinct mock names available.
func MaxIdentities() int {
	return len(names)
}

// NewIdentities returns count mock peer IDs drawn from a fixed table of
// human names, in a stable order. It panics if count exceeds
// MaxIdentities rather than silently recycling names.
func NewIdentities(count int) []peer.PeerID {
	if count > len(names) {
		panic(fmt.Sprintf("mock: requested %d identities, only %d names available", count, len(names)))
	}
	ids := make([]peer.PeerID, count)
	for i := 0; i < count; i++ {
		ids[i] = peer.PeerID(names[i])
	}
	return ids
}
