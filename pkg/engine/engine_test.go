package engine

import (
	"context"
	"testing"

	"github.com/replicant/metavoted/pkg/coin"
	"github.com/replicant/metavoted/pkg/peer"
	"github.com/replicant/metavoted/pkg/peer/mock"
	"github.com/rs/zerolog"
)

// exchange copies every engine's latest event into every other engine's
// local graph, simulating gossip convergence without any real transport.
func exchange(t *testing.T, engines map[peer.PeerID]*Engine) {
	t.Helper()
	for _, src := range engines {
		event, ok := src.LatestEvent()
		if !ok {
			continue
		}
		for id, dst := range engines {
			if id == event.Creator {
				continue
			}
			dst.Ingest(event)
		}
	}
}

func newTestEngines(t *testing.T, estimates map[peer.PeerID]bool) map[peer.PeerID]*Engine {
	t.Helper()
	ids := mock.NewIdentities(len(estimates))
	resolver := coin.NewDeterministicCoin()
	engines := make(map[peer.PeerID]*Engine, len(ids))
	for _, id := range ids {
		cfg := DefaultConfig(id, len(ids), estimates[id])
		e := New(cfg, resolver, nil, zerolog.Nop())
		e.Start()
		engines[id] = e
	}
	return engines
}

func runUntilAllDecided(t *testing.T, engines map[peer.PeerID]*Engine, maxRounds int) map[peer.PeerID]bool {
	t.Helper()
	ctx := context.Background()
	decisions := make(map[peer.PeerID]bool)

	for round := 0; round < maxRounds; round++ {
		exchange(t, engines)
		for id, e := range engines {
			if _, already := decisions[id]; already {
				continue
			}
			if err := e.Step(ctx); err != nil {
				t.Fatalf("Step(%s): %v", id, err)
			}
			if v, ok := e.Decision(); ok {
				decisions[id] = v
			}
		}
		if len(decisions) == len(engines) {
			break
		}
	}
	return decisions
}

// S2/agreement: four peers unanimously estimating true should converge to
// a unanimous true decision.
func TestEngine_UnanimousEstimateDecidesTrue(t *testing.T) {
	estimates := map[peer.PeerID]bool{}
	for _, id := range mock.NewIdentities(4) {
		estimates[id] = true
	}
	engines := newTestEngines(t, estimates)

	decisions := runUntilAllDecided(t, engines, 50)
	if len(decisions) != len(engines) {
		t.Fatalf("expected all %d peers to decide, got %d: %+v", len(engines), len(decisions), decisions)
	}
	for id, v := range decisions {
		if !v {
			t.Errorf("peer %s decided false, expected unanimous true", id)
		}
	}
}

// Agreement: even with a single dissenting minority estimate, all peers
// converge to the same decision (safety under the protocol's thresholds
// at n=4).
func TestEngine_MinorityDissentStillConverges(t *testing.T) {
	ids := mock.NewIdentities(4)
	estimates := map[peer.PeerID]bool{
		ids[0]: false,
		ids[1]: true,
		ids[2]: true,
		ids[3]: true,
	}
	engines := newTestEngines(t, estimates)

	decisions := runUntilAllDecided(t, engines, 50)
	if len(decisions) != len(engines) {
		t.Fatalf("expected all %d peers to decide, got %d: %+v", len(engines), len(decisions), decisions)
	}

	var first bool
	i := 0
	for _, v := range decisions {
		if i == 0 {
			first = v
		} else if v != first {
			t.Errorf("peers disagreed on the decided value: %+v", decisions)
		}
		i++
	}
}

func TestEngine_DecisionChanFiresOnce(t *testing.T) {
	estimates := map[peer.PeerID]bool{}
	for _, id := range mock.NewIdentities(1) {
		estimates[id] = true
	}
	engines := newTestEngines(t, estimates)
	var e *Engine
	for _, eng := range engines {
		e = eng
	}

	select {
	case v := <-e.DecisionChan():
		if !v {
			t.Errorf("single-peer engine should decide true immediately, got false")
		}
	default:
		t.Fatalf("expected single-peer engine to decide on Start (trivial supermajority of itself)")
	}
}
