package coin

import (
	"testing"

	"github.com/replicant/metavoted/pkg/peer"
	"github.com/rs/zerolog"
)

func TestDeterministicCoin_ResolvesByParity(t *testing.T) {
	c := NewDeterministicCoin()
	if v, ok := c.Toss(0); !ok || v != true {
		t.Errorf("round 0: got (%v, %v), want (true, true)", v, ok)
	}
	if v, ok := c.Toss(1); !ok || v != false {
		t.Errorf("round 1: got (%v, %v), want (false, true)", v, ok)
	}
}

func TestThresholdCoin_ResolvesOnSupermajority(t *testing.T) {
	c := NewThresholdCoin(4, zerolog.Nop())
	if _, resolved := c.Toss(1); resolved {
		t.Fatalf("round with no shares should not resolve")
	}

	peers := []peer.PeerID{"Alice", "Bob", "Carol", "Dave"}
	for _, p := range peers[:2] {
		if err := c.SubmitShare(1, p, true); err != nil {
			t.Fatalf("SubmitShare: %v", err)
		}
	}
	if _, resolved := c.Toss(1); resolved {
		t.Fatalf("2 of 4 shares should not reach the supermajority threshold")
	}

	if err := c.SubmitShare(1, peers[2], true); err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}
	v, resolved := c.Toss(1)
	if !resolved || !v {
		t.Fatalf("3 of 4 matching shares should resolve true, got (%v, %v)", v, resolved)
	}
}

func TestThresholdCoin_ConflictingShareRejected(t *testing.T) {
	c := NewThresholdCoin(4, zerolog.Nop())
	if err := c.SubmitShare(1, "Alice", true); err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}
	if err := c.SubmitShare(1, "Alice", true); err != nil {
		t.Errorf("repeating the same share should be a no-op, got %v", err)
	}
	if err := c.SubmitShare(1, "Alice", false); err != ErrConflictingShare {
		t.Errorf("conflicting share should return ErrConflictingShare, got %v", err)
	}
}

func TestThresholdCoin_ShareCount(t *testing.T) {
	c := NewThresholdCoin(4, zerolog.Nop())
	c.SubmitShare(5, "Alice", true)
	c.SubmitShare(5, "Bob", false)
	if got := c.ShareCount(5); got != 2 {
		t.Errorf("ShareCount(5) = %d, want 2", got)
	}
	if got := c.ShareCount(6); got != 0 {
		t.Errorf("ShareCount(6) = %d, want 0", got)
	}
}
