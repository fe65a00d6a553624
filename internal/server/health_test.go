package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakePinger implements Pinger with a configurable result.
type fakePinger struct {
	name string
	err  error
}

func (p *fakePinger) Name() string                 { return p.name }
func (p *fakePinger) Ping(_ context.Context) error { return p.err }

func newReadyTestServer(pingers ...Pinger) *Server {
	return &Server{
		cfg:     &Config{},
		log:     slog.Default(),
		pingers: pingers,
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestHandleReady_NoPingers(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 in liveness-only mode, got %d", w.Code)
	}
}

func TestHandleReady_AllHealthy(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "qdrant"},
		&fakePinger{name: "jobstore"},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready=true")
	}
	if len(resp.Checks) != 2 {
		t.Errorf("expected 2 checks, got %d", len(resp.Checks))
	}
}

func TestHandleReady_OneFailing(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "qdrant", err: fmt.Errorf("connection refused")},
		&fakePinger{name: "jobstore"},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Ready {
		t.Error("expected ready=false")
	}

	var failing *readyCheck
	for i := range resp.Checks {
		if resp.Checks[i].Name == "qdrant" {
			failing = &resp.Checks[i]
		}
	}
	if failing == nil {
		t.Fatal("qdrant check missing from response")
	}
	if failing.OK || failing.Error == "" {
		t.Errorf("expected failing qdrant check with error, got %+v", failing)
	}
}

func TestMultiPinger_FirstErrorWins(t *testing.T) {
	t.Parallel()

	m := NewMultiPinger(
		&fakePinger{name: "a"},
		&fakePinger{name: "b", err: fmt.Errorf("down")},
		&fakePinger{name: "c", err: fmt.Errorf("also down")},
	)

	err := m.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "b: down" {
		t.Errorf("expected first failure, got %q", got)
	}
}
