// Package metrics registers the scanner's Prometheus instruments and
// serves the health endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the scanner.
type Metrics struct {
	ScansTotal    prometheus.Counter
	ScanDuration  prometheus.Histogram
	SymbolsOK     prometheus.Counter
	SymbolErrors  prometheus.Counter
	SignalsTotal  *prometheus.CounterVec // labels: side=buy|sell
	TradesOpened  *prometheus.CounterVec // labels: direction
	TradesClosed  *prometheus.CounterVec // labels: reason
	OpenPositions prometheus.Gauge
	Balance       prometheus.Gauge
	PortfolioVal  prometheus.Gauge

	EventsPublished prometheus.Counter
	SubscriberDrops prometheus.Counter
	Subscribers     prometheus.Gauge

	ExchangeReqDur prometheus.Histogram
	BarCacheHits   prometheus.Counter
	BarCacheMisses prometheus.Counter
}

// NewMetrics registers all metrics on reg; nil means the default
// Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_scans_total",
			Help: "Completed scan cycles",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_scan_duration_seconds",
			Help:    "Wall time of one full scan cycle",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		SymbolsOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_symbols_scanned_total",
			Help: "Symbols evaluated successfully",
		}),
		SymbolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_symbol_errors_total",
			Help: "Symbols that failed evaluation",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_signals_total",
			Help: "Completed setups that passed admission (by side)",
		}, []string{"side"}),
		TradesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_trades_opened_total",
			Help: "Paper trades opened (by direction)",
		}, []string{"direction"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_trades_closed_total",
			Help: "Paper trades closed (by exit reason)",
		}, []string{"reason"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_open_positions",
			Help: "Currently open paper positions",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_balance_usdt",
			Help: "Free paper balance",
		}),
		PortfolioVal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_portfolio_value_usdt",
			Help: "Balance plus marked open positions",
		}),

		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_events_published_total",
			Help: "Dashboard events published on the bus",
		}),
		SubscriberDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_subscriber_drops_total",
			Help: "Slow stream subscribers evicted",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_stream_subscribers",
			Help: "Live SSE/WebSocket subscribers",
		}),

		ExchangeReqDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_exchange_request_duration_seconds",
			Help:    "Exchange REST call latency",
			Buckets: prometheus.DefBuckets,
		}),
		BarCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_bar_cache_hits_total",
			Help: "Bar windows served from Redis",
		}),
		BarCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_bar_cache_misses_total",
			Help: "Bar windows fetched from the exchange",
		}),
	}

	reg.MustRegister(
		m.ScansTotal,
		m.ScanDuration,
		m.SymbolsOK,
		m.SymbolErrors,
		m.SignalsTotal,
		m.TradesOpened,
		m.TradesClosed,
		m.OpenPositions,
		m.Balance,
		m.PortfolioVal,
		m.EventsPublished,
		m.SubscriberDrops,
		m.Subscribers,
		m.ExchangeReqDur,
		m.BarCacheHits,
		m.BarCacheMisses,
	)
	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	ExchangeConnected bool      `json:"exchange_connected"`
	RedisConnected    bool      `json:"redis_connected"`
	Scanning          bool      `json:"scanning"`
	LastScanAt        time.Time `json:"last_scan_at"`

	RedisLatencyMs float64   `json:"redis_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetExchangeConnected(v bool) {
	h.mu.Lock()
	h.ExchangeConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetScanning(v bool) {
	h.mu.Lock()
	h.Scanning = v
	if !v {
		h.LastScanAt = time.Now()
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. A lost exchange connection
// degrades the status; Redis is optional and only reported.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.ExchangeConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	lastScan := ""
	if !h.LastScanAt.IsZero() {
		lastScan = h.LastScanAt.Format(time.RFC3339)
	}

	status := struct {
		Status            string  `json:"status"`
		Uptime            string  `json:"uptime"`
		ExchangeConnected bool    `json:"exchange_connected"`
		RedisConnected    bool    `json:"redis_connected"`
		RedisLatencyMs    float64 `json:"redis_latency_ms"`
		Scanning          bool    `json:"scanning"`
		LastScanAt        string  `json:"last_scan_at"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		ExchangeConnected: h.ExchangeConnected,
		RedisConnected:    h.RedisConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		Scanning:          h.Scanning,
		LastScanAt:        lastScan,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
