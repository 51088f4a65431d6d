// Package transport fans gossip-graph events out across peers: epidemic
// push spreading with bounded concurrency and TTL, push-pull
// synchronization, peer health tracking, and per-peer rate limiting.
//
// Outbound sends are gated through a per-peer rate limiter so one noisy
// or misbehaving peer cannot starve the others of send capacity.
package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/replicant/metavoted/pkg/graph"
	"github.com/replicant/metavoted/pkg/peer"
	"github.com/replicant/metavoted/pkg/ratelimit"
	"github.com/replicant/metavoted/pkg/vectorclock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// MessageType identifies the kind of gossip message.
type MessageType string

const (
	MessageTypePush MessageType = "push" // carries a new event
	MessageTypePull MessageType = "pull" // requests a peer's latest event
	MessageTypeAck  MessageType = "ack"  // acknowledges receipt
)

// Message is one gossip protocol message.
type Message struct {
	ID          string
	Type        MessageType
	Sender      peer.PeerID
	VectorClock *vectorclock.Clock
	Event       *graph.Event // nil for pull/ack
	TTL         int
}

// PeerInfo tracks a remote peer's reachability and health.
type PeerInfo struct {
	ID        peer.PeerID
	Address   string
	LastSeen  time.Time
	FailCount int
	mu        sync.RWMutex
}

// UpdateLastSeen marks p as freshly reachable and clears its failure count.
func (p *PeerInfo) UpdateLastSeen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LastSeen = time.Now()
	p.FailCount = 0
}

// RecordFailure records a failed send to p.
func (p *PeerInfo) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FailCount++
}

// IsHealthy reports whether p should still be gossiped to.
func (p *PeerInfo) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.FailCount < 3 && time.Since(p.LastSeen) < 5*time.Minute
}

// Sender delivers gossip messages to a single remote peer. Implementations
// live outside this package (see transport/wsnet for a real websocket
// Sender; tests use an in-memory one).
type Sender interface {
	Send(ctx context.Context, to *PeerInfo, msg *Message) error
}

// EventHandler is the engine-side callback surface a Protocol drives as
// messages arrive.
type EventHandler interface {
	// OnEvent is called when a new event is received from a peer.
	OnEvent(ctx context.Context, sender peer.PeerID, event *graph.Event) error
	// LatestEvent returns the most recent event this node has created, for
	// responding to pull requests.
	LatestEvent() (*graph.Event, bool)
}

// Config holds gossip protocol tuning parameters.
type Config struct {
	Self             peer.PeerID
	FanOut           int
	GossipInterval   time.Duration
	MaxTTL           int
	MaxConcurrent    int
	PushPullInterval time.Duration
	SendPolicy       ratelimit.Policy
}

// DefaultConfig returns sensible defaults for self.
func DefaultConfig(self peer.PeerID) *Config {
	return &Config{
		Self:             self,
		FanOut:           3,
		GossipInterval:   100 * time.Millisecond,
		MaxTTL:           5,
		MaxConcurrent:    10,
		PushPullInterval: time.Second,
		SendPolicy:       ratelimit.DefaultPolicy(),
	}
}

// Protocol runs the epidemic gossip loop over a fixed Sender and
// EventHandler.
type Protocol struct {
	config *Config

	peersMu sync.RWMutex
	peers   map[peer.PeerID]*PeerInfo

	clockMu     sync.RWMutex
	vectorClock *vectorclock.Clock

	sender  Sender
	handler EventHandler
	logger  zerolog.Logger

	sendSem     *semaphore.Weighted
	peerLimiter *ratelimit.PeerLimiter

	seenMu sync.RWMutex
	seen   map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Protocol instance. It does not start its background loops
// until Start is called.
func New(config *Config, sender Sender, handler EventHandler, logger zerolog.Logger) *Protocol {
	ctx, cancel := context.WithCancel(context.Background())
	return &Protocol{
		config:      config,
		peers:       make(map[peer.PeerID]*PeerInfo),
		vectorClock: vectorclock.NewForPeer(config.Self),
		sender:      sender,
		handler:     handler,
		logger:      logger.With().Str("component", "transport").Logger(),
		sendSem:     semaphore.NewWeighted(int64(config.MaxConcurrent)),
		peerLimiter: ratelimit.NewPeerLimiter(config.SendPolicy),
		seen:        make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// AddPeer registers a remote peer at address.
func (p *Protocol) AddPeer(id peer.PeerID, address string) {
	p.peersMu.Lock()
	defer p.peersMu.Unlock()
	if _, exists := p.peers[id]; !exists {
		p.peers[id] = &PeerInfo{ID: id, Address: address, LastSeen: time.Now()}
		p.logger.Info().Str("peer", string(id)).Str("address", address).Msg("peer added")
	}
}

// Peers returns every known peer.
func (p *Protocol) Peers() []*PeerInfo {
	p.peersMu.RLock()
	defer p.peersMu.RUnlock()
	out := make([]*PeerInfo, 0, len(p.peers))
	for _, info := range p.peers {
		out = append(out, info)
	}
	return out
}

func (p *Protocol) selectRandomPeers(n int) []*PeerInfo {
	p.peersMu.RLock()
	defer p.peersMu.RUnlock()

	healthy := make([]*PeerInfo, 0, len(p.peers))
	for _, info := range p.peers {
		if info.IsHealthy() {
			healthy = append(healthy, info)
		}
	}

	rand.Shuffle(len(healthy), func(i, j int) {
		healthy[i], healthy[j] = healthy[j], healthy[i]
	})

	if n > len(healthy) {
		n = len(healthy)
	}
	return healthy[:n]
}

func (p *Protocol) tick() {
	p.clockMu.Lock()
	defer p.clockMu.Unlock()
	p.vectorClock.Tick(p.config.Self)
}

// Limiter exposes the outbound send limiter so the ratelimit admin
// server can inspect and adjust it at runtime.
func (p *Protocol) Limiter() *ratelimit.PeerLimiter {
	return p.peerLimiter
}

// VectorClock returns a copy of this node's current vector clock.
func (p *Protocol) VectorClock() *vectorclock.Clock {
	p.clockMu.RLock()
	defer p.clockMu.RUnlock()
	return p.vectorClock.Clone()
}

func (p *Protocol) hasSeen(msgID string) bool {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	if _, ok := p.seen[msgID]; ok {
		return true
	}
	p.seen[msgID] = time.Now()
	return false
}

func (p *Protocol) cleanupSeen() {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	cutoff := time.Now().Add(-5 * time.Minute)
	for id, seen := range p.seen {
		if seen.Before(cutoff) {
			delete(p.seen, id)
		}
	}
}

// Broadcast epidemically spreads event to a random fan-out of healthy
// peers, rate-limiting each send by peer.
func (p *Protocol) Broadcast(ctx context.Context, event *graph.Event) error {
	p.tick()
	msg := &Message{
		ID:          event.Hash.String(),
		Type:        MessageTypePush,
		Sender:      p.config.Self,
		VectorClock: p.VectorClock(),
		Event:       event,
		TTL:         p.config.MaxTTL,
	}
	p.hasSeen(msg.ID) // don't re-broadcast back to ourselves on receipt
	return p.sendToMany(ctx, p.selectRandomPeers(p.config.FanOut), msg)
}

func (p *Protocol) sendToMany(ctx context.Context, peers []*PeerInfo, msg *Message) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(peers))

	for _, target := range peers {
		target := target

		if !p.peerLimiter.Allow(target.ID, ratelimit.Class(msg.Type)) {
			p.logger.Warn().Str("peer", string(target.ID)).Str("type", string(msg.Type)).
				Msg("send budget exhausted, dropping")
			continue
		}

		if err := p.sendSem.Acquire(ctx, 1); err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.sendSem.Release(1)

			if err := p.sender.Send(ctx, target, msg); err != nil {
				target.RecordFailure()
				errCh <- err
				p.logger.Warn().Err(err).Str("peer", string(target.ID)).Msg("send failed")
			} else {
				target.UpdateLastSeen()
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// HandleMessage processes an inbound message from a peer: TTL expiry,
// dedup, vector clock merge, and epidemic re-forwarding of pushes.
func (p *Protocol) HandleMessage(ctx context.Context, msg *Message) error {
	if msg.Type == MessageTypePush && msg.TTL <= 0 {
		return nil
	}
	if p.hasSeen(msg.ID) {
		return nil
	}

	p.clockMu.Lock()
	p.vectorClock.Merge(msg.VectorClock)
	p.vectorClock.Tick(p.config.Self)
	p.clockMu.Unlock()

	switch msg.Type {
	case MessageTypePush:
		if err := p.handler.OnEvent(ctx, msg.Sender, msg.Event); err != nil {
			p.peerLimiter.Strike(msg.Sender)
			return err
		}
		if msg.TTL > 1 {
			forward := *msg
			forward.TTL--
			targets := p.selectRandomPeers(p.config.FanOut)
			filtered := targets[:0]
			for _, t := range targets {
				if t.ID != msg.Sender {
					filtered = append(filtered, t)
				}
			}
			if len(filtered) > 0 {
				go p.sendToMany(ctx, filtered, &forward)
			}
		}

	case MessageTypePull:
		event, ok := p.handler.LatestEvent()
		if !ok {
			return nil
		}
		response := &Message{
			ID:          event.Hash.String() + "-pull-response",
			Type:        MessageTypePush,
			Sender:      p.config.Self,
			VectorClock: p.VectorClock(),
			Event:       event,
			TTL:         1,
		}
		p.peersMu.RLock()
		sender, exists := p.peers[msg.Sender]
		p.peersMu.RUnlock()
		if exists {
			go p.sender.Send(ctx, sender, response)
		}

	case MessageTypeAck:
	}

	return nil
}

// Start launches the background gossip round, push-pull, and
// seen-message cleanup loops.
func (p *Protocol) Start() {
	p.wg.Add(1)
	go p.loop(p.config.GossipInterval, p.doGossipRound)

	p.wg.Add(1)
	go p.loop(p.config.PushPullInterval, p.doPushPull)

	p.wg.Add(1)
	go p.loop(time.Minute, p.cleanupSeen)

	p.logger.Info().Msg("transport started")
}

func (p *Protocol) loop(interval time.Duration, fn func()) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (p *Protocol) doGossipRound() {
	event, ok := p.handler.LatestEvent()
	if !ok {
		return
	}
	if err := p.Broadcast(p.ctx, event); err != nil {
		p.logger.Warn().Err(err).Msg("gossip round failed")
	}
}

func (p *Protocol) doPushPull() {
	targets := p.selectRandomPeers(1)
	if len(targets) == 0 {
		return
	}
	target := targets[0]
	msg := &Message{
		ID:          "pull-" + time.Now().Format(time.RFC3339Nano),
		Type:        MessageTypePull,
		Sender:      p.config.Self,
		VectorClock: p.VectorClock(),
		TTL:         1,
	}
	if err := p.sender.Send(p.ctx, target, msg); err != nil {
		p.logger.Warn().Err(err).Str("peer", string(target.ID)).Msg("push-pull failed")
		target.RecordFailure()
	}
}

// Stop gracefully shuts down the protocol's background loops.
func (p *Protocol) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("transport stopped")
}
