// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search and click events from Kafka, aggregates them in memory
// (query popularity, latency percentiles, cache hit rate, zero-result
// queries, most-clicked documents), snapshots the aggregate to PostgreSQL
// so popularity survives restarts, and serves the figures over HTTP.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml] [-retain 288]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/postgres"
)

const snapshotInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	retain := flag.Int("retain", aggregator.DefaultRetention, "number of analytics snapshots to keep")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.NewRegistry())
		shutdownMetrics, err := m.StartServer(cfg.Metrics.Port)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer shutdownMetrics(context.Background())
	}

	agg := analytics.NewAggregator(nil)
	checker := health.NewChecker()

	var snapshots analytics.SnapshotLister
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, analytics will not be persisted", "error", err)
	} else {
		defer db.Close()
		store := aggregator.NewStore(db, *retain)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare snapshot table", "error", err)
			os.Exit(1)
		}
		if err := store.Restore(ctx, agg); err != nil {
			slog.Warn("restoring analytics snapshot failed", "error", err)
		}
		store.StartPeriodicSave(ctx, agg, snapshotInterval)
		snapshots = func(ctx context.Context, limit int) (any, error) {
			return store.ListSnapshots(ctx, limit)
		}
		checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDegraded))
	}

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(agg))
		defer consumer.Close()
		agg.SetConsumer(consumer)
		go func() {
			if err := agg.Start(ctx); err != nil {
				slog.Error("aggregator error", "error", err)
			}
		}()
		slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	} else {
		slog.Warn("kafka disabled, no analytics events will arrive")
	}

	h := analytics.NewHandler(agg, snapshots)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/popular", h.Popular)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
