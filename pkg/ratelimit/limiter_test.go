package ratelimit

import (
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{
		Rate:  1,
		Burst: 5,
		Weights: map[Class]float64{
			ClassPush: 1,
			ClassPull: 2,
			ClassAck:  0.5,
		},
		StrikeLimit:    3,
		StrikeDecay:    time.Minute,
		QuarantineBase: 30 * time.Second,
		QuarantineMax:  2 * time.Minute,
	}
}

// newTestLimiter pins the limiter's clock so budget and decay arithmetic
// is exact; advance time through the returned pointer.
func newTestLimiter(pol Policy) (*PeerLimiter, *time.Time) {
	l := NewPeerLimiter(pol)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l, now := newTestLimiter(testPolicy())

	// Burst of 5 weight units at 1 unit per push.
	for i := 0; i < 5; i++ {
		if !l.Allow("Alice", ClassPush) {
			t.Fatalf("push %d should fit within the burst", i)
		}
	}
	if l.Allow("Alice", ClassPush) {
		t.Fatalf("6th instant push should exceed the burst")
	}

	// Two seconds of refill at rate 1 buys exactly two more pushes.
	*now = now.Add(2 * time.Second)
	for i := 0; i < 2; i++ {
		if !l.Allow("Alice", ClassPush) {
			t.Errorf("push %d after refill should be allowed", i)
		}
	}
	if l.Allow("Alice", ClassPush) {
		t.Errorf("refill should buy exactly two pushes, not three")
	}
}

func TestAllow_ClassWeights(t *testing.T) {
	l, _ := newTestLimiter(testPolicy())

	// Pulls cost 2: only two fit in a burst of 5.
	for i := 0; i < 2; i++ {
		if !l.Allow("Alice", ClassPull) {
			t.Fatalf("pull %d should be allowed", i)
		}
	}
	if l.Allow("Alice", ClassPull) {
		t.Errorf("third pull should exceed the burst")
	}

	// Acks cost 0.5: ten fit for a fresh peer.
	for i := 0; i < 10; i++ {
		if !l.Allow("Bob", ClassAck) {
			t.Fatalf("ack %d should be allowed", i)
		}
	}
	if l.Allow("Bob", ClassAck) {
		t.Errorf("11th ack should exceed the burst")
	}
}

func TestAllow_UnknownClassCostsUnitWeight(t *testing.T) {
	l, _ := newTestLimiter(testPolicy())
	for i := 0; i < 5; i++ {
		if !l.Allow("Alice", Class("handshake")) {
			t.Fatalf("unlisted class message %d should cost the default weight", i)
		}
	}
	if l.Allow("Alice", Class("handshake")) {
		t.Errorf("expected default-weight budget to be exhausted after 5")
	}
}

func TestAllow_PeersHaveIndependentBudgets(t *testing.T) {
	l, _ := newTestLimiter(testPolicy())
	for i := 0; i < 5; i++ {
		l.Allow("Alice", ClassPush)
	}
	if l.Allow("Alice", ClassPush) {
		t.Fatalf("Alice should be throttled")
	}
	if !l.Allow("Bob", ClassPush) {
		t.Errorf("Bob's budget should be untouched by Alice's spending")
	}
}

func TestStrike_QuarantineAfterLimitWithEscalatingBackoff(t *testing.T) {
	l, now := newTestLimiter(testPolicy())

	l.Strike("Alice")
	l.Strike("Alice")
	if _, q := l.Quarantined("Alice"); q {
		t.Fatalf("two strikes should not quarantine yet")
	}

	l.Strike("Alice")
	until, q := l.Quarantined("Alice")
	if !q {
		t.Fatalf("third strike should quarantine")
	}
	if want := now.Add(30 * time.Second); !until.Equal(want) {
		t.Errorf("first quarantine until %v, want %v", until, want)
	}
	if l.Allow("Alice", ClassAck) {
		t.Errorf("quarantined peer must not be allowed, even for cheap classes")
	}

	// Served in full: allowed again.
	*now = now.Add(31 * time.Second)
	if !l.Allow("Alice", ClassPush) {
		t.Fatalf("peer should be allowed after quarantine expires")
	}

	// A repeat offense doubles the quarantine.
	l.Strike("Alice")
	l.Strike("Alice")
	l.Strike("Alice")
	until, q = l.Quarantined("Alice")
	if !q {
		t.Fatalf("repeat offense should quarantine again")
	}
	if want := now.Add(time.Minute); !until.Equal(want) {
		t.Errorf("second quarantine until %v, want doubled %v", until, want)
	}
}

func TestStrike_BackoffIsCappedAtQuarantineMax(t *testing.T) {
	pol := testPolicy()
	l, now := newTestLimiter(pol)

	for round := 0; round < 5; round++ {
		for i := 0; i < pol.StrikeLimit; i++ {
			l.Strike("Alice")
		}
		until, q := l.Quarantined("Alice")
		if !q {
			t.Fatalf("round %d should quarantine", round)
		}
		if max := now.Add(pol.QuarantineMax); until.After(max) {
			t.Fatalf("round %d quarantine %v exceeds cap %v", round, until, max)
		}
		*now = until.Add(time.Second)
	}
}

func TestStrike_DecayForgivesQuietPeers(t *testing.T) {
	l, now := newTestLimiter(testPolicy())

	l.Strike("Alice")
	l.Strike("Alice")

	// Three quiet minutes at one strike forgiven per minute clears both.
	*now = now.Add(3 * time.Minute)
	l.Strike("Alice")
	if _, q := l.Quarantined("Alice"); q {
		t.Fatalf("decayed strikes should not count toward the limit")
	}
	stats, ok := l.Stats("Alice")
	if !ok || stats.Strikes != 1 {
		t.Errorf("expected exactly the fresh strike to remain, got %+v", stats)
	}
}

func TestPardon_ClearsStandingAndBackoff(t *testing.T) {
	l, _ := newTestLimiter(testPolicy())

	for i := 0; i < 3; i++ {
		l.Strike("Alice")
	}
	if _, q := l.Quarantined("Alice"); !q {
		t.Fatalf("setup: expected quarantine")
	}

	l.Pardon("Alice")
	if _, q := l.Quarantined("Alice"); q {
		t.Errorf("pardoned peer should not be quarantined")
	}
	if !l.Allow("Alice", ClassPush) {
		t.Errorf("pardoned peer should be allowed")
	}
	stats, _ := l.Stats("Alice")
	if stats.Strikes != 0 || stats.Quarantines != 0 {
		t.Errorf("pardon should reset strikes and backoff, got %+v", stats)
	}
}

func TestQuarantine_OperatorOverride(t *testing.T) {
	l, now := newTestLimiter(testPolicy())

	l.Quarantine("Alice", 45*time.Second)
	until, q := l.Quarantined("Alice")
	if !q || !until.Equal(now.Add(45*time.Second)) {
		t.Errorf("expected forced quarantine until +45s, got %v (%v)", until, q)
	}
	if l.Allow("Alice", ClassPush) {
		t.Errorf("force-quarantined peer must not be allowed")
	}
}

func TestStats_ReportsDebtAndOrdering(t *testing.T) {
	l, _ := newTestLimiter(testPolicy())

	l.Allow("Bob", ClassPull) // debt 2s
	l.Allow("Alice", ClassPush)

	all := l.AllStats()
	if len(all) != 2 || all[0].Peer != "Alice" || all[1].Peer != "Bob" {
		t.Fatalf("expected [Alice, Bob], got %+v", all)
	}
	if all[1].DebtSeconds != 2 {
		t.Errorf("expected Bob's pull to cost 2 seconds of debt, got %v", all[1].DebtSeconds)
	}
	if _, ok := l.Stats("Carol"); ok {
		t.Errorf("unseen peer should report no stats")
	}
}

func TestSetPolicy_AppliesToSubsequentSpending(t *testing.T) {
	l, _ := newTestLimiter(testPolicy())

	tightened := testPolicy()
	tightened.Burst = 1
	l.SetPolicy(tightened)

	if !l.Allow("Alice", ClassPush) {
		t.Fatalf("first push should fit the tightened burst")
	}
	if l.Allow("Alice", ClassPush) {
		t.Errorf("second push should exceed the tightened burst")
	}
	if got := l.Policy().Burst; got != 1 {
		t.Errorf("Policy() should reflect the update, got burst %v", got)
	}
}
