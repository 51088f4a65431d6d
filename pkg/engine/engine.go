// Package engine orchestrates one meta-vote derivation step per peer as
// gossip events arrive: the thing that actually calls
// metavote.NewForObserver/NextTemp/NextFinal, resolving the common coin
// via pkg/coin and fanning new events out via pkg/transport.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/replicant/metavoted/pkg/coin"
	"github.com/replicant/metavoted/pkg/graph"
	"github.com/replicant/metavoted/pkg/metavote"
	"github.com/replicant/metavoted/pkg/peer"
	"github.com/rs/zerolog"
)

// ErrNotStarted is returned by Step if Start has not yet run.
var ErrNotStarted = errors.New("engine: not started")

// ShareSubmitter is implemented by coin resolvers (pkg/coin.ThresholdCoin)
// that need each peer to contribute its own share before a round
// resolves. Engine submits a share under its own peer id, valued by the
// round's parity, whenever its own derivation stalls waiting on that
// round's coin.
type ShareSubmitter interface {
	SubmitShare(round uint64, p peer.PeerID, value bool) error
}

// Config configures an Engine.
type Config struct {
	Self            peer.PeerID
	TotalPeers      int
	InitialEstimate bool
	StepInterval    time.Duration
}

// DefaultConfig returns sensible defaults for self among totalPeers peers.
func DefaultConfig(self peer.PeerID, totalPeers int, initialEstimate bool) Config {
	return Config{
		Self:            self,
		TotalPeers:      totalPeers,
		InitialEstimate: initialEstimate,
		StepInterval:    50 * time.Millisecond,
	}
}

// Broadcaster is the subset of transport.Protocol that Engine depends on,
// so tests can supply a stub instead of a real gossip protocol.
type Broadcaster interface {
	Broadcast(ctx context.Context, event *graph.Event) error
}

// Engine derives meta-vote opinions for a single peer and keeps them
// synchronized with the rest of the network via gossip.
type Engine struct {
	config Config
	coin   coin.Coin
	graph  *graph.Graph
	bcast  Broadcaster
	logger zerolog.Logger

	mu      sync.Mutex
	started bool

	decidedOnce sync.Once
	decidedCh   chan bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine. bcast may be nil, in which case Step only
// updates local state without gossiping it (useful for tests that wire
// peers together directly).
func New(config Config, resolver coin.Coin, bcast Broadcaster, logger zerolog.Logger) *Engine {
	return &Engine{
		config:    config,
		coin:      resolver,
		graph:     graph.New(),
		bcast:     bcast,
		logger:    logger.With().Str("component", "engine").Str("peer", string(config.Self)).Logger(),
		decidedCh: make(chan bool, 1),
	}
}

// Start seeds this peer's genesis event with its initial estimate and
// marks the engine ready to Step.
func (e *Engine) Start() *graph.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	votes := metavote.NewForObserver(e.config.InitialEstimate, nil, e.config.TotalPeers)
	event := graph.NewEvent(e.config.Self, graph.Hash{}, graph.Hash{}, nil,
		map[peer.PeerID][]metavote.MetaVote{e.config.Self: votes})
	e.graph.Add(event)
	e.started = true

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.checkDecision(votes)
	return event
}

// Run launches a background loop that calls Step on StepInterval until
// the context is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.config.StepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.ctx.Done():
				return
			case <-ticker.C:
				if err := e.Step(ctx); err != nil {
					e.logger.Warn().Err(err).Msg("step failed")
				}
			}
		}
	}()
}

// Stop halts the background Run loop, if any.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Ingest records an event received from gossip. It satisfies
// transport.EventHandler's OnEvent signature via the thin adapter in
// cmd/metavoted.
func (e *Engine) Ingest(event *graph.Event) {
	e.graph.Add(event)
}

// LatestEvent returns this peer's own most recent event, for responding
// to pull requests.
func (e *Engine) LatestEvent() (*graph.Event, bool) {
	return e.graph.Latest(e.config.Self)
}

// Graph exposes the local event DAG for read-only consumers such as
// dotdump.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// OtherPeers returns the peers (other than self) this engine currently
// has at least one event from.
func (e *Engine) OtherPeers() []peer.PeerID {
	out := make([]peer.PeerID, 0)
	for _, p := range e.graph.Peers() {
		if p != e.config.Self {
			out = append(out, p)
		}
	}
	return out
}

// Decision returns (value, true) once this peer's own derivation has
// reached a terminal decision.
func (e *Engine) Decision() (bool, bool) {
	event, ok := e.LatestEvent()
	if !ok {
		return false, false
	}
	votes := event.SelfMetaVotes()
	if len(votes) == 0 {
		return false, false
	}
	return votes[len(votes)-1].Decision()
}

// DecisionChan fires exactly once, with this peer's decided value, the
// first time Start or Step observes a decision.
func (e *Engine) DecisionChan() <-chan bool {
	return e.decidedCh
}

// Step runs one derivation round: gather the latest known meta-vote list
// for every peer, derive this peer's next list (resolving any
// GenuineFlip stall via the coin), publish the resulting event locally
// and, if a Broadcaster was supplied, to the network.
func (e *Engine) Step(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.mu.Unlock()

	parentEvent, ok := e.LatestEvent()
	if !ok {
		return ErrNotStarted
	}
	if _, ok := parentEvent.SelfMetaVotes()[len(parentEvent.SelfMetaVotes())-1].Decision(); ok {
		return nil // already decided; nothing further to derive
	}

	parentVotes := parentEvent.SelfMetaVotes()
	otherVotesByPeer := make(map[peer.PeerID][]metavote.MetaVote)
	others := make([][]metavote.MetaVote, 0)
	var otherParent graph.Hash

	for _, p := range e.OtherPeers() {
		latest, ok := e.graph.Latest(p)
		if !ok {
			continue
		}
		votes, ok := latest.MetaVotes[p]
		if !ok {
			continue
		}
		otherVotesByPeer[p] = votes
		others = append(others, votes)
		otherParent = latest.Hash
	}

	temp := metavote.NextTemp(parentVotes, others, e.config.TotalPeers)
	coinTosses := e.resolveStalls(temp)
	final := metavote.NextFinal(temp, others, coinTosses, e.config.TotalPeers)

	metaVotes := make(map[peer.PeerID][]metavote.MetaVote, len(otherVotesByPeer)+1)
	for p, v := range otherVotesByPeer {
		metaVotes[p] = v
	}
	metaVotes[e.config.Self] = final

	event := graph.NewEvent(e.config.Self, parentEvent.Hash, otherParent, nil, metaVotes)
	e.graph.Add(event)

	e.checkDecision(final)

	if e.bcast != nil {
		return e.bcast.Broadcast(ctx, event)
	}
	return nil
}

// resolveStalls submits this peer's coin share for every round at which
// its own derivation has stalled (Undecided with empty estimates), then
// returns the coin value of each of those rounds that has resolved.
func (e *Engine) resolveStalls(temp []metavote.MetaVote) map[uint64]bool {
	resolved := make(map[uint64]bool)
	for _, mv := range temp {
		if mv.IsDecided() || !mv.HasEmptyEstimates() {
			continue
		}
		if submitter, ok := e.coin.(ShareSubmitter); ok {
			share := mv.Round%2 == 0
			if err := submitter.SubmitShare(mv.Round, e.config.Self, share); err != nil {
				e.logger.Warn().Err(err).Uint64("round", mv.Round).Msg("failed to submit coin share")
			}
		}
		if v, ok := e.coin.Toss(mv.Round); ok {
			resolved[mv.Round] = v
		}
	}
	return resolved
}

func (e *Engine) checkDecision(votes []metavote.MetaVote) {
	if len(votes) == 0 {
		return
	}
	value, ok := votes[len(votes)-1].Decision()
	if !ok {
		return
	}
	e.decidedOnce.Do(func() {
		e.decidedCh <- value
	})
}
