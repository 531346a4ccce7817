// cmd/bandsim serves the band simulator: the session API, the dashboard
// WebSocket gateway, and a separate /metrics + /healthz server.
//
// Usage:
//
//	go run ./cmd/bandsim --config=bandsim.yaml
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bandsim/config"
	"bandsim/internal/gateway"
	"bandsim/internal/logger"
	"bandsim/internal/marketdata/binance"
	"bandsim/internal/metrics"
	"bandsim/internal/model"
	"bandsim/internal/notification"
	"bandsim/internal/simengine"
	"bandsim/internal/store/memory"
	redisstore "bandsim/internal/store/redis"
	sqlitestore "bandsim/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[bandsim] starting...")

	cfgPath := flag.String("config", os.Getenv("BANDSIM_CONFIG"), "Path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[bandsim] config: %v", err)
	}
	cfg.Summary()
	logger.Init("bandsim", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus(cfg.Ledger.Backend)

	// ---- Trade ledger ----
	var (
		ledger model.TradeLedger
		rdb    *goredis.Client
		sqlDB  *sql.DB
	)
	switch cfg.Ledger.Backend {
	case "redis":
		rl, err := redisstore.NewLedger(redisstore.LedgerConfig{
			Addr:         cfg.Ledger.Redis.Addr,
			Password:     cfg.Ledger.Redis.Password,
			DB:           cfg.Ledger.Redis.DB,
			KeyPrefix:    cfg.Ledger.Redis.KeyPrefix,
			MaxFailures:  cfg.Ledger.Redis.MaxFailures,
			ResetTimeout: cfg.Ledger.Redis.ResetTimeout,
		})
		if err != nil {
			log.Fatalf("[bandsim] redis ledger init failed: %v", err)
		}
		rl.Breaker().OnStateChange = func(from, to redisstore.State) {
			log.Printf("[bandsim] ledger breaker %s -> %s", from, to)
			prom.LedgerBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.LedgerBreakerTrips.Inc()
			}
		}
		ledger, rdb = rl, rl.Client()
	case "sqlite":
		sl, err := sqlitestore.NewLedger(sqlitestore.LedgerConfig{DBPath: cfg.Ledger.SQLitePath})
		if err != nil {
			log.Fatalf("[bandsim] sqlite ledger init failed: %v", err)
		}
		ledger, sqlDB = sl, sl.DB()
	default:
		log.Println("[bandsim] WARNING: in-memory ledger, trades are lost on restart")
		ledger = memory.NewLedger()
	}
	defer ledger.Close()
	health.StartLivenessChecker(ctx, rdb, sqlDB, cfg.Ledger.HealthInterval)

	// ---- Notifiers ----
	alerts := notification.NewDispatcher(256)
	alerts.OnDrop = func(sinkIdx int, a notification.Alert) {
		prom.AlertsDropped.Inc()
		log.Printf("[bandsim] notifier %d backed up, dropped %q", sinkIdx, a.Title)
	}
	alerts.Add(notification.NewLogNotifier())
	if cfg.Notify.WebhookURL != "" {
		alerts.Add(notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
		log.Println("[bandsim] webhook alerts enabled")
	}
	if cfg.Notify.TelegramToken != "" {
		alerts.Add(notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		log.Println("[bandsim] telegram alerts enabled")
	}
	go alerts.Run(ctx)

	// ---- Simulator service ----
	hub := gateway.NewHub()
	source := binance.NewClient(binance.Config{
		BaseURL: cfg.Binance.BaseURL,
		Timeout: cfg.Binance.Timeout,
		Debug:   cfg.Binance.Debug,
	})
	svc := simengine.New(simengine.Market{
		Symbol:   cfg.Market.Symbol,
		Interval: cfg.Market.Interval,
		Lookback: cfg.Market.Lookback,
		Window:   cfg.Market.Window,
	}, simengine.Deps{
		Source:   source,
		Ledger:   ledger,
		Notifier: notification.MinLevel{Level: notification.AlertLevel(cfg.Notify.MinLevel), Next: alerts},
		Hub:      hub,
		Metrics:  prom,
		Health:   health,
	})

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux, simengine.Options{
		Symbols:   config.Symbols,
		Intervals: config.Intervals,
		Lookbacks: config.LookbackOptions,
	})
	gateway.RegisterRoutes(mux, hub)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[bandsim] API listening on %s", cfg.Server.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[bandsim] http server error: %v", err)
		}
	}()

	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddr, health, nil)
	metricsSrv.Start()

	// ---- Wait for shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[bandsim] received %v, shutting down...", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[bandsim] http shutdown: %v", err)
	}
	metricsSrv.Stop(shutdownCtx)
	log.Println("[bandsim] stopped")
}
