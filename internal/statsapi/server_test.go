package statsapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skyops/rulescope/pkg/config"
	"github.com/skyops/rulescope/pkg/engine"
	"github.com/skyops/rulescope/pkg/regions"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg, err := config.Parse([]byte("rules:\n  r:\n    actions:\n      print: true\n"))
	if err != nil {
		t.Fatalf("config parse failed: %v", err)
	}
	eng, err := engine.New(cfg, engine.Options{
		Regions: &regions.Set{},
		Output:  io.Discard,
	})
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func TestStatsEndpoint(t *testing.T) {
	srv := New(testEngine(t), 0)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var snap engine.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("Bad stats payload: %v", err)
	}
	if snap.ReportsProcessed != 0 {
		t.Errorf("Expected zero counters on fresh engine, got %+v", snap)
	}
}

func TestFlightsEndpoint(t *testing.T) {
	srv := New(testEngine(t), 0)

	req := httptest.NewRequest(http.MethodGet, "/api/flights", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var flights []flightJSON
	if err := json.NewDecoder(rec.Body).Decode(&flights); err != nil {
		t.Fatalf("Bad flights payload: %v", err)
	}
	if len(flights) != 0 {
		t.Errorf("Expected no live flights, got %d", len(flights))
	}
}

func TestHealthz(t *testing.T) {
	srv := New(testEngine(t), 0)

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}
