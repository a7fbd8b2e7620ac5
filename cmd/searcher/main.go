package main

import (
	"context"
	"errors"
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
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/source"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/service"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/suggest"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port)

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

	checker := health.NewChecker()

	var contentSource indexer.ContentSource
	if cfg.Indexer.SeedFile != "" {
		static, err := source.LoadSeedFile(cfg.Indexer.SeedFile)
		if err != nil {
			slog.Error("failed to load seed file", "path", cfg.Indexer.SeedFile, "error", err)
			os.Exit(1)
		}
		contentSource = static
		slog.Info("content source: seed file", "path", cfg.Indexer.SeedFile)
	} else {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		contentSource = source.NewPostgres(db.DB, cfg.Indexer.ContentTable)
		checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDegraded))
		slog.Info("content source: postgres", "table", cfg.Indexer.ContentTable)
	}

	engine := indexer.NewEngine(cfg.Indexer, contentSource, m)
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		st := engine.Status()
		if !st.Ready {
			return health.ComponentHealth{Status: health.StatusDown, Message: "index not built"}
		}
		if st.LastFailure != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: st.LastFailure.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d documents", st.Documents)}
	})

	if cfg.Indexer.RebuildOnStart {
		err := resilience.Retry(ctx, "initial-index", resilience.RetryConfig{MaxAttempts: 5}, func() error {
			err := engine.IndexAllContent(ctx)
			var partial *indexer.PartialIndexingError
			if errors.As(err, &partial) {
				slog.Warn("initial index build partial", "failed", partial.Failed, "types", partial.FailedTypes)
				return nil
			}
			return err
		})
		if err != nil {
			slog.Error("initial index build failed, serving unavailable until next rebuild", "error", err)
		}
	}
	engine.StartRebuildLoop(ctx, cfg.Indexer.RebuildInterval)

	if cfg.Kafka.Enabled {
		contentConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ContentChanges, consumer.HandleMessage(engine))
		defer contentConsumer.Close()
		go func() {
			if err := contentConsumer.Start(ctx); err != nil {
				slog.Error("content consumer stopped", "error", err)
			}
		}()
		slog.Info("content change consumer started", "topic", cfg.Kafka.Topics.ContentChanges)
	}

	var (
		queryCache  *cache.QueryCache
		redisClient *pkgredis.Client
	)
	if cfg.Redis.Enabled && cfg.Search.CacheEnabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis, m)
			go pruneCache(ctx, queryCache, engine, cfg.Redis.CacheTTL)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.PingCheck(redisClient.Ping, health.StatusDegraded)(ctx)
	})

	history := analytics.NewHistory(cfg.Suggest.RecentSize, cfg.Suggest.MaxTrackedUsers)
	popularity := analytics.NewAggregator(nil)

	var (
		publisher analytics.Publisher
		batch     *collector.BatchCollector
	)
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		batch = collector.NewBatchCollector(producer, 100, 0, nil)
		batch.Start(ctx)
		publisher = batch
		slog.Info("analytics publishing enabled", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	}
	events := analytics.NewCollector(publisher, cfg.Suggest.EventBuffer, m, history, popularity)
	events.Start(ctx)

	exec := executor.New(engine, popularity, cfg.Search.SnippetWindow)
	searcher := service.New(engine, exec, queryCache, events, cfg.Search, m)
	suggester := suggest.New(engine, history, popularity, cfg.Suggest, cfg.Search.TypoTolerance, m)
	h := handler.New(searcher, suggester, engine, history, popularity, queryCache)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(popularity, nil).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimit, time.Minute, nil)
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					limiter.Sweep()
				}
			}
		}()
	}

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins...)),
		middleware.Metrics(m),
		middleware.RateLimit(limiter, handler.UserID),
		middleware.Timeout(cfg.Server.WriteTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		rpcServer = rpc.NewServer(cfg.Search.QueryTimeout)
		h.RegisterRPC(rpcServer)
		go func() {
			if err := rpcServer.Serve(cfg.RPC.Addr); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if rpcServer != nil {
			rpcServer.Stop()
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	events.Close()
	if batch != nil {
		batch.Close()
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		batch.Flush(flushCtx)
		cancel()
	}
	slog.Info("search service stopped")
}

// pruneCache drops responses cached for superseded index generations.
func pruneCache(ctx context.Context, qc *cache.QueryCache, engine *indexer.Engine, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := qc.PruneStale(ctx, engine.Status().Generation); err != nil {
				slog.Warn("cache prune failed", "error", err)
			}
		}
	}
}
