// Package wsnet implements a real network transport.Sender over
// websockets: one persistent outbound connection per peer, dialed lazily
// on first send and reused afterward.
package wsnet

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/replicant/metavoted/pkg/transport"
	"github.com/rs/zerolog"
)

// Sender is a transport.Sender backed by websocket connections, one per
// peer address.
type Sender struct {
	connections map[string]*websocket.Conn
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// New returns an empty Sender; connections are established lazily.
func New(logger zerolog.Logger) *Sender {
	return &Sender{
		connections: make(map[string]*websocket.Conn),
		logger:      logger.With().Str("component", "wsnet").Logger(),
	}
}

// Send implements transport.Sender: marshal msg and write it as a text
// frame to to's connection, dialing one if none exists yet.
func (s *Sender) Send(ctx context.Context, to *transport.PeerInfo, msg *transport.Message) error {
	conn, err := s.connFor(ctx, to)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Sender) connFor(ctx context.Context, to *transport.PeerInfo) (*websocket.Conn, error) {
	s.mu.RLock()
	conn, exists := s.connections[to.Address]
	s.mu.RUnlock()
	if exists {
		return conn, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, exists = s.connections[to.Address]; exists {
		return conn, nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+to.Address+"/gossip", nil)
	if err != nil {
		return nil, err
	}
	s.connections[to.Address] = conn
	return conn, nil
}

// Close closes every open connection.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, conn := range s.connections {
		if err := conn.Close(); err != nil {
			s.logger.Warn().Err(err).Str("addr", addr).Msg("close failed")
		}
	}
	s.connections = make(map[string]*websocket.Conn)
}
