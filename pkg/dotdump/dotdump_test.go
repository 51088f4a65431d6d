package dotdump

import (
	"strings"
	"testing"

	"github.com/replicant/metavoted/pkg/graph"
	"github.com/replicant/metavoted/pkg/metavote"
	"github.com/replicant/metavoted/pkg/peer"
)

func TestRender_IncludesEveryPeerCluster(t *testing.T) {
	g := graph.New()
	votes := metavote.NewForObserver(true, nil, 1)

	alice := graph.NewEvent("Alice", graph.Hash{}, graph.Hash{}, nil,
		map[peer.PeerID][]metavote.MetaVote{"Alice": votes})
	g.Add(alice)

	bob := graph.NewEvent("Bob", graph.Hash{}, alice.Hash, nil,
		map[peer.PeerID][]metavote.MetaVote{"Bob": votes, "Alice": votes})
	g.Add(bob)

	out := Render(g)

	if !strings.Contains(out, "cluster_") {
		t.Errorf("expected dot output to contain peer clusters, got:\n%s", out)
	}
	for _, label := range []string{`label="Alice"`, `label="Bob"`} {
		if !strings.Contains(out, label) {
			t.Errorf("expected dot output to contain %s, got:\n%s", label, out)
		}
	}
	if !strings.Contains(out, "digraph") {
		t.Errorf("expected dot output to open a digraph, got:\n%s", out)
	}
}

func TestRender_EmptyGraphProducesValidDocument(t *testing.T) {
	out := Render(graph.New())
	if !strings.Contains(out, "digraph") {
		t.Errorf("expected an empty graph to still render a digraph wrapper, got:\n%s", out)
	}
}
