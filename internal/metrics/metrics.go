package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the band simulator.
type Metrics struct {
	PassesTotal      *prometheus.CounterVec // labels: outcome=ok|source_error|malformed|invalid_trigger
	SignalsTotal     *prometheus.CounterVec // labels: action=buy|sell
	OrderEventsTotal *prometheus.CounterVec // labels: type=buy|sell
	FinalizesTotal   prometheus.Counter
	PassDur          prometheus.Histogram

	// Ledger
	LedgerAppendDur     prometheus.Histogram
	LedgerWriteFailures prometheus.Counter
	LedgerBreakerState  prometheus.Gauge // 0=closed, 1=open, 2=half-open
	LedgerBreakerTrips  prometheus.Counter

	OpenSessions  prometheus.Gauge
	AlertsDropped prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bandsim_passes_total",
			Help: "Refresh passes run, by outcome",
		}, []string{"outcome"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bandsim_signals_total",
			Help: "Advisory band-touch signals detected, by action",
		}, []string{"action"}),
		OrderEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bandsim_order_events_total",
			Help: "Simulated order events recorded, by type",
		}, []string{"type"}),
		FinalizesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandsim_finalizes_total",
			Help: "Sessions finalized into the trade ledger",
		}),
		PassDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bandsim_pass_duration_seconds",
			Help:    "Fetch, normalize, indicator and simulator latency per pass",
			Buckets: prometheus.DefBuckets,
		}),

		LedgerAppendDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bandsim_ledger_append_duration_seconds",
			Help:    "Trade ledger append latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		LedgerWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandsim_ledger_write_failures_total",
			Help: "Trade ledger appends that failed",
		}),
		LedgerBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bandsim_ledger_breaker_state",
			Help: "Redis ledger circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		LedgerBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandsim_ledger_breaker_trips_total",
			Help: "Times the Redis ledger circuit breaker tripped open",
		}),

		OpenSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bandsim_open_sessions",
			Help: "Simulator sessions currently registered",
		}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandsim_alerts_dropped_total",
			Help: "Alerts dropped because a notifier queue was full",
		}),
	}

	reg.MustRegister(
		m.PassesTotal,
		m.SignalsTotal,
		m.OrderEventsTotal,
		m.FinalizesTotal,
		m.PassDur,
		m.LedgerAppendDur,
		m.LedgerWriteFailures,
		m.LedgerBreakerState,
		m.LedgerBreakerTrips,
		m.OpenSessions,
		m.AlertsDropped,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LedgerBackend  string    `json:"ledger_backend"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	SourceOK       bool      `json:"source_ok"`
	LastPassAt     time.Time `json:"last_pass_at"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a health status for the given ledger backend.
// The candle source is assumed healthy until a pass says otherwise.
func NewHealthStatus(backend string) *HealthStatus {
	return &HealthStatus{
		LedgerBackend: backend,
		SourceOK:      true,
		StartedAt:     time.Now(),
	}
}

// RecordPass notes the outcome of a candle fetch.
func (h *HealthStatus) RecordPass(sourceOK bool, at time.Time) {
	h.mu.Lock()
	h.SourceOK = sourceOK
	if sourceOK {
		h.LastPassAt = at
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

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// Check probes whichever ledger stores are configured; nil ones are skipped.
func (h *HealthStatus) Check(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB) {
	if rdb != nil {
		h.CheckRedis(ctx, rdb)
	}
	if sqlDB != nil {
		h.CheckSQLite(ctx, sqlDB)
	}
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		h.Check(probeCtx, rdb, sqlDB)
		cancel()
	}
	probe()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

func (h *HealthStatus) ledgerOK() bool {
	switch h.LedgerBackend {
	case "redis":
		return h.RedisConnected
	case "sqlite":
		return h.SQLiteOK
	default:
		return true
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	ledgerOK := h.ledgerOK()
	if !ledgerOK || !h.SourceOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !ledgerOK && !h.SourceOK {
		overallStatus = "unhealthy"
	}

	lastPass := ""
	if !h.LastPassAt.IsZero() {
		lastPass = h.LastPassAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LedgerBackend   string  `json:"ledger_backend"`
		LedgerOK        bool    `json:"ledger_ok"`
		SourceOK        bool    `json:"source_ok"`
		LastPassAt      string  `json:"last_pass_at"`
		RedisLatencyMs  float64 `json:"redis_latency_ms,omitempty"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms,omitempty"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LedgerBackend:   h.LedgerBackend,
		LedgerOK:        ledgerOK,
		SourceOK:        h.SourceOK,
		LastPassAt:      lastPass,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
