// Package dotdump renders a read-only snapshot of a gossip-event graph to
// Graphviz DOT, for visual debugging of meta-vote convergence: one
// subgraph cluster per peer (rank-ordered bottom to top by that peer's
// own chain), self-parent edges inside the cluster, other-parent edges
// crossing clusters, and each event labelled with its creator/index plus,
// for every peer the event records meta-votes for, the four-character
// debug tuple of that peer's latest meta-vote.
package dotdump

import (
	"fmt"
	"sort"

	"github.com/emicklei/dot"
	"github.com/replicant/metavoted/pkg/graph"
	"github.com/replicant/metavoted/pkg/peer"
)

// Render builds a Graphviz DOT document for every event currently in g,
// grouped into one cluster per peer in g.Peers().
func Render(g *graph.Graph) string {
	out := dot.NewGraph(dot.Directed)
	out.Attr("rankdir", "BT")
	out.Attr("splines", "false")

	peers := g.Peers()
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })

	nodes := make(map[graph.Hash]dot.Node)

	for _, p := range peers {
		chain := g.Chain(p)
		cluster := out.Subgraph(string(p), dot.ClusterOption{})
		cluster.Attr("label", string(p))
		cluster.Attr("style", "invis")

		for i, event := range chain {
			n := cluster.Node(event.Hash.String())
			n.Attr("shape", "rectangle")
			n.Attr("label", eventLabel(p, i, event))
			nodes[event.Hash] = n
		}

		for i := 1; i < len(chain); i++ {
			parent, ok := nodes[chain[i-1].Hash]
			if !ok {
				continue
			}
			out.Edge(parent, nodes[chain[i].Hash])
		}
	}

	for _, p := range peers {
		for _, event := range g.Chain(p) {
			if !event.HasOtherParent() {
				continue
			}
			otherNode, ok := nodes[event.OtherParent]
			if !ok {
				continue
			}
			selfNode, ok := nodes[event.Hash]
			if !ok {
				continue
			}
			out.Edge(otherNode, selfNode).Attr("constraint", "false")
		}
	}

	return out.String()
}

// eventLabel formats creator_index followed by a line per known peer's
// most recent meta-vote debug tuple, mirroring write_evaluates's
// per-peer "X: [ ... ]" annotation blocks.
func eventLabel(creator peer.PeerID, index int, event *graph.Event) string {
	label := fmt.Sprintf("%s_%d", creator, index)

	peers := make([]peer.PeerID, 0, len(event.MetaVotes))
	for p := range event.MetaVotes {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })

	for _, p := range peers {
		votes := event.MetaVotes[p]
		if len(votes) == 0 {
			label += fmt.Sprintf("\n%s: []", p)
			continue
		}
		tip := votes[len(votes)-1]
		chars := tip.AsChars()
		label += fmt.Sprintf("\n%s: [%s]", p, string(chars[:]))
	}

	return label
}
