// Package statsapi exposes the engine's counters and live flight
// table over HTTP for dashboards and health checks. Read-only; the
// engine keeps running whether or not anyone is listening.
package statsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/skyops/rulescope/pkg/engine"
)

// Server serves the stats endpoints for one engine.
type Server struct {
	engine     *engine.Engine
	httpServer *http.Server
}

// New builds the server listening on port.
func New(eng *engine.Engine, port int) *Server {
	s := &Server{engine: eng}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/flights", s.handleFlights)
		r.Get("/healthz", s.handleHealthz)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("stats API listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("stats API: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Stats().Snapshot())
}

// flightJSON is the wire shape of one live flight.
type flightJSON struct {
	ID       string   `json:"id"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	AltBaro  float64  `json:"alt_baro"`
	Track    float64  `json:"track"`
	Regions  []string `json:"regions"`
	LastSeen float64  `json:"last_seen"`
}

func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	views := s.engine.LiveFlights()
	out := make([]flightJSON, len(views))
	for i, v := range views {
		out[i] = flightJSON{
			ID:       v.ID,
			Lat:      v.Report.Lat,
			Lon:      v.Report.Lon,
			AltBaro:  v.Report.AltBaro,
			Track:    v.Report.Track,
			Regions:  v.Regions,
			LastSeen: v.LastSeen,
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("stats API: encode response: %v", err)
	}
}
