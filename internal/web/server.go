// Package web serves the dashboard API: control endpoints, the full
// state snapshot, and the live event stream over SSE and WebSocket.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"td9scan/internal/bus"
	"td9scan/internal/engine"
	"td9scan/internal/metrics"
)

// keepaliveEvery paces SSE comment frames so idle proxies keep the
// connection open.
const keepaliveEvery = 15 * time.Second

// Server is the HTTP front of the scanner.
type Server struct {
	engine *engine.Engine
	bus    *bus.Bus
	met    *metrics.Metrics
	health *metrics.HealthStatus
	srv    *http.Server
}

// NewServer wires all routes onto a fresh mux.
func NewServer(addr string, eng *engine.Engine, b *bus.Bus, met *metrics.Metrics, health *metrics.HealthStatus) *Server {
	s := &Server{engine: eng, bus: b, met: met, health: health}

	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/scan_now", s.handleScanNow)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	if health != nil {
		mux.HandleFunc("/healthz", health.ServeHTTP)
	}

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server failed", "err", err)
		}
	}()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// setCORS sets CORS headers for REST endpoints.
func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v any) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ok, msg := s.engine.Start()
	writeJSON(w, map[string]any{"ok": ok, "msg": msg})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleScanNow(w http.ResponseWriter, r *http.Request) {
	inFlight := s.engine.ScanNow()
	writeJSON(w, map[string]any{"ok": true, "scanning": inFlight})
}

// handleConfig applies dashboard tuning and echoes the clamped values.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	interval := s.engine.ScanIntervalMin()
	if v, err := strconv.Atoi(q.Get("interval")); err == nil {
		interval = v
	}
	wr, dist := 50.0, 5.0
	if v, err := strconv.ParseFloat(q.Get("wr"), 64); err == nil {
		wr = v
	}
	if v, err := strconv.ParseFloat(q.Get("dist"), 64); err == nil {
		dist = v
	}
	interval, wr, dist = s.engine.SetConfig(interval, wr, dist)
	writeJSON(w, map[string]any{"ok": true, "interval": interval, "wr": wr, "dist": dist})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Snapshot())
}

// handleStream is the SSE event feed. Every bus event becomes one
// "event:/data:" frame; comment frames keep idle connections alive.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setCORS(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	events, cancel := s.bus.Subscribe()
	defer cancel()
	s.met.Subscribers.Inc()
	defer s.met.Subscribers.Dec()

	keepalive := time.NewTicker(keepaliveEvery)
	defer keepalive.Stop()

	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				// Evicted as a slow subscriber.
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
			flusher.Flush()
			s.met.EventsPublished.Inc()
		}
	}
}
