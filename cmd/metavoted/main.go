// Command metavoted runs one peer's binary meta-vote derivation over a
// gossiped event DAG: flag-based config, structured logging, a websocket
// gossip listener, and signal-driven graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/replicant/metavoted/pkg/coin"
	"github.com/replicant/metavoted/pkg/dotdump"
	"github.com/replicant/metavoted/pkg/engine"
	"github.com/replicant/metavoted/pkg/graph"
	"github.com/replicant/metavoted/pkg/peer"
	"github.com/replicant/metavoted/pkg/ratelimit"
	"github.com/replicant/metavoted/pkg/transport"
	"github.com/replicant/metavoted/pkg/transport/wsnet"
	"github.com/rs/zerolog"
)

var (
	selfID          = flag.String("peer-id", "", "this peer's identifier, e.g. Alice")
	totalPeers      = flag.Int("total-peers", 0, "total number of peers participating in the vote")
	initialEstimate = flag.Bool("estimate", false, "this peer's initial boolean estimate")
	addr            = flag.String("addr", ":8080", "address this peer listens on for gossip")
	peerList        = flag.String("peers", "", "comma-separated peer-id@address pairs, e.g. Alice@host1:8080,Bob@host2:8080")
	logLevel        = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	coinKind        = flag.String("coin", "threshold", "common-coin implementation: threshold or deterministic")
	dotPath         = flag.String("dot-out", "", "if set, write a Graphviz dump of the local event graph here on shutdown")
)

// engineAdapter satisfies transport.EventHandler by forwarding inbound
// gossip events to an *engine.Engine, which otherwise only exposes
// Ingest(event) with no sender parameter.
type engineAdapter struct {
	eng *engine.Engine
}

func (a *engineAdapter) OnEvent(_ context.Context, _ peer.PeerID, event *graph.Event) error {
	a.eng.Ingest(event)
	return nil
}

func (a *engineAdapter) LatestEvent() (*graph.Event, bool) {
	return a.eng.LatestEvent()
}

func parsePeers(spec string) map[peer.PeerID]string {
	out := make(map[peer.PeerID]string)
	if spec == "" {
		return out
	}
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.SplitN(entry, "@", 2)
		if len(parts) != 2 {
			continue
		}
		out[peer.PeerID(parts[0])] = parts[1]
	}
	return out
}

func main() {
	flag.Parse()

	level, _ := zerolog.ParseLevel(*logLevel)
	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("peer", *selfID).
		Logger()

	if *selfID == "" {
		logger.Fatal().Msg("peer-id is required")
	}
	if *totalPeers <= 0 {
		logger.Fatal().Msg("total-peers must be positive")
	}

	self := peer.PeerID(*selfID)

	var resolver coin.Coin
	switch *coinKind {
	case "deterministic":
		resolver = coin.NewDeterministicCoin()
	case "threshold":
		resolver = coin.NewThresholdCoin(*totalPeers, logger)
	default:
		logger.Fatal().Str("coin", *coinKind).Msg("unknown coin kind")
	}

	sender := wsnet.New(logger)
	defer sender.Close()

	// protocol needs an EventHandler before the Engine it will adapt to
	// exists, and the Engine needs protocol as its Broadcaster: break
	// the cycle with an adapter whose target is filled in afterward.
	handler := &engineAdapter{}
	gossipConfig := transport.DefaultConfig(self)
	protocol := transport.New(gossipConfig, sender, handler, logger)

	eng := engine.New(engine.DefaultConfig(self, *totalPeers, *initialEstimate), resolver, protocol, logger)
	handler.eng = eng

	for id, address := range parsePeers(*peerList) {
		protocol.AddPeer(id, address)
		logger.Info().Str("peer", string(id)).Str("addr", address).Msg("registered peer")
	}

	genesis := eng.Start()
	logger.Info().Str("event", genesis.Hash.String()).Msg("seeded genesis event")

	protocol.Start()

	ctx, cancel := context.WithCancel(context.Background())
	eng.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	// Inbound messages spend against their own limiter, separate from the
	// outbound limiter inside transport: an attacker hammering /gossip
	// should not be able to consume this peer's send budget. Both are
	// mounted for runtime inspection and tuning.
	inbound := ratelimit.NewPeerLimiter(ratelimit.DefaultPolicy())
	http.Handle("/ratelimit/inbound/", http.StripPrefix("/ratelimit/inbound", ratelimit.NewServer(inbound).Handler()))
	http.Handle("/ratelimit/outbound/", http.StripPrefix("/ratelimit/outbound", ratelimit.NewServer(protocol.Limiter()).Handler()))

	http.HandleFunc("/gossip", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}

			var msg transport.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Warn().Err(err).Msg("invalid message")
				continue
			}
			if !inbound.Allow(msg.Sender, ratelimit.Class(msg.Type)) {
				logger.Warn().Str("peer", string(msg.Sender)).Str("type", string(msg.Type)).
					Msg("inbound message rate limited")
				continue
			}
			if err := protocol.HandleMessage(r.Context(), &msg); err != nil {
				inbound.Strike(msg.Sender)
				logger.Error().Err(err).Msg("handle message failed")
			}
		}
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	http.HandleFunc("/decision", func(w http.ResponseWriter, r *http.Request) {
		value, decided := eng.Decision()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"decided": decided,
			"value":   value,
		})
	})

	server := &http.Server{Addr: *addr}
	go func() {
		logger.Info().Str("addr", *addr).Msg("listening for gossip")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("signal received, shutting down")
	case value := <-eng.DecisionChan():
		logger.Info().Bool("value", value).Msg("decision reached")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	eng.Stop()
	protocol.Stop()
	server.Shutdown(shutdownCtx)

	if *dotPath != "" {
		if err := writeDotDump(eng, *dotPath); err != nil {
			logger.Error().Err(err).Str("path", *dotPath).Msg("failed to write dot dump")
		}
	}
}

func writeDotDump(eng *engine.Engine, path string) error {
	return os.WriteFile(path, []byte(dotdump.Render(eng.Graph())), 0o644)
}
