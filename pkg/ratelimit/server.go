package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/replicant/metavoted/pkg/peer"
)

// Server is the HTTP admin surface over a live PeerLimiter: operators can
// inspect peer standings, pardon or quarantine peers, and retune the
// policy at runtime. It administers the limiter instance the node is
// actually enforcing, not a private copy.
type Server struct {
	limiter *PeerLimiter
	mux     *http.ServeMux
}

// NewServer wraps limiter in its admin API.
func NewServer(limiter *PeerLimiter) *Server {
	s := &Server{
		limiter: limiter,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/peers", s.handlePeers)
	s.mux.HandleFunc("/api/v1/peer", s.handlePeer)
	s.mux.HandleFunc("/api/v1/pardon", s.handlePardon)
	s.mux.HandleFunc("/api/v1/quarantine", s.handleQuarantine)
	s.mux.HandleFunc("/api/v1/policy", s.handlePolicy)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

// handlePeers lists every known peer's standing.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.limiter.AllStats())
}

// handlePeer returns one peer's standing (404 if never seen).
func (s *Server) handlePeer(w http.ResponseWriter, r *http.Request) {
	id := peer.PeerID(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	stats, ok := s.limiter.Stats(id)
	if !ok {
		http.Error(w, "unknown peer", http.StatusNotFound)
		return
	}
	writeJSON(w, stats)
}

// peerRequest is the body of the pardon and quarantine endpoints.
type peerRequest struct {
	PeerID  peer.PeerID `json:"peer_id"`
	Seconds float64     `json:"seconds,omitempty"` // quarantine only
}

func (s *Server) handlePardon(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePeerRequest(w, r)
	if !ok {
		return
	}
	s.limiter.Pardon(req.PeerID)
	writeJSON(w, map[string]interface{}{"pardoned": true, "peer_id": req.PeerID})
}

func (s *Server) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePeerRequest(w, r)
	if !ok {
		return
	}
	if req.Seconds <= 0 {
		http.Error(w, "seconds must be positive", http.StatusBadRequest)
		return
	}
	until := time.Duration(req.Seconds * float64(time.Second))
	s.limiter.Quarantine(req.PeerID, until)
	writeJSON(w, map[string]interface{}{"quarantined": true, "peer_id": req.PeerID})
}

func decodePeerRequest(w http.ResponseWriter, r *http.Request) (peerRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return peerRequest{}, false
	}
	var req peerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return peerRequest{}, false
	}
	if req.PeerID == "" {
		http.Error(w, "missing peer_id", http.StatusBadRequest)
		return peerRequest{}, false
	}
	return req, true
}

// policyWire is the JSON shape of a Policy, with durations in seconds so
// the API doesn't expose Go duration encoding.
type policyWire struct {
	Rate                  float64           `json:"rate"`
	Burst                 float64           `json:"burst"`
	Weights               map[Class]float64 `json:"weights"`
	StrikeLimit           int               `json:"strike_limit"`
	StrikeDecaySeconds    float64           `json:"strike_decay_seconds"`
	QuarantineBaseSeconds float64           `json:"quarantine_base_seconds"`
	QuarantineMaxSeconds  float64           `json:"quarantine_max_seconds"`
}

func toWire(p Policy) policyWire {
	return policyWire{
		Rate:                  p.Rate,
		Burst:                 p.Burst,
		Weights:               p.Weights,
		StrikeLimit:           p.StrikeLimit,
		StrikeDecaySeconds:    p.StrikeDecay.Seconds(),
		QuarantineBaseSeconds: p.QuarantineBase.Seconds(),
		QuarantineMaxSeconds:  p.QuarantineMax.Seconds(),
	}
}

func fromWire(w policyWire) Policy {
	return Policy{
		Rate:           w.Rate,
		Burst:          w.Burst,
		Weights:        w.Weights,
		StrikeLimit:    w.StrikeLimit,
		StrikeDecay:    time.Duration(w.StrikeDecaySeconds * float64(time.Second)),
		QuarantineBase: time.Duration(w.QuarantineBaseSeconds * float64(time.Second)),
		QuarantineMax:  time.Duration(w.QuarantineMaxSeconds * float64(time.Second)),
	}
}

// handlePolicy reads (GET) or replaces (POST) the active policy.
func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, toWire(s.limiter.Policy()))

	case http.MethodPost:
		var wire policyWire
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		pol := fromWire(wire)
		if pol.Rate <= 0 || pol.Burst <= 0 {
			http.Error(w, "rate and burst must be positive", http.StatusBadRequest)
			return
		}
		s.limiter.SetPolicy(pol)
		writeJSON(w, toWire(s.limiter.Policy()))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
