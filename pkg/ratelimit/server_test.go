package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServer_PardonRestoresQuarantinedPeer(t *testing.T) {
	l, _ := newTestLimiter(testPolicy())
	s := NewServer(l)

	for i := 0; i < 3; i++ {
		l.Strike("Alice")
	}
	if l.Allow("Alice", ClassPush) {
		t.Fatalf("setup: Alice should be quarantined")
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/peer?id=Alice", nil)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("peer lookup: status %d", rec.Code)
	}
	var stats PeerStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.QuarantinedUntil == nil {
		t.Fatalf("expected quarantined_until in %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/pardon", strings.NewReader(`{"peer_id":"Alice"}`))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("pardon: status %d: %s", rec.Code, rec.Body.String())
	}
	if !l.Allow("Alice", ClassPush) {
		t.Errorf("pardoned peer should be allowed again")
	}
}

func TestServer_QuarantineEndpoint(t *testing.T) {
	l, _ := newTestLimiter(testPolicy())
	s := NewServer(l)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/quarantine", strings.NewReader(`{"peer_id":"Bob","seconds":60}`))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("quarantine: status %d: %s", rec.Code, rec.Body.String())
	}
	if _, q := l.Quarantined("Bob"); !q {
		t.Errorf("endpoint should have quarantined Bob")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/quarantine", strings.NewReader(`{"peer_id":"Bob"}`))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing seconds should be rejected, got %d", rec.Code)
	}
}

func TestServer_PeersListing(t *testing.T) {
	l, _ := newTestLimiter(testPolicy())
	s := NewServer(l)

	l.Allow("Alice", ClassPush)
	l.Allow("Bob", ClassPull)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/peers", nil)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("peers: status %d", rec.Code)
	}
	var all []PeerStats
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(all) != 2 || all[0].Peer != "Alice" || all[1].Peer != "Bob" {
		t.Errorf("expected [Alice, Bob], got %+v", all)
	}
}

func TestServer_PolicyRoundTrip(t *testing.T) {
	l, _ := newTestLimiter(testPolicy())
	s := NewServer(l)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/policy", nil)
	s.Handler().ServeHTTP(rec, req)
	var wire policyWire
	if err := json.Unmarshal(rec.Body.Bytes(), &wire); err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	if wire.Rate != 1 || wire.StrikeLimit != 3 {
		t.Fatalf("unexpected starting policy: %+v", wire)
	}

	wire.Rate = 50
	body, _ := json.Marshal(wire)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/policy", strings.NewReader(string(body)))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("policy update: status %d: %s", rec.Code, rec.Body.String())
	}
	if got := l.Policy().Rate; got != 50 {
		t.Errorf("expected updated rate 50, got %v", got)
	}

	wire.Rate = 0
	body, _ = json.Marshal(wire)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/policy", strings.NewReader(string(body)))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero rate should be rejected, got %d", rec.Code)
	}
}
