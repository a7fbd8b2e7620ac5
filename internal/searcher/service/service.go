// Package service ties the query pipeline together for the HTTP and RPC
// front ends: parse, consult the cache, execute, record analytics.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/tracing"
)

// Request is one search as issued by a user or a program.
type Request struct {
	Query  parser.SearchQuery
	UserID string
	// Strict rejects out-of-range values instead of correcting them.
	Strict bool
	// Record marks an explicit, user-initiated search that feeds history
	// and popularity.
	Record bool
}

type Searcher struct {
	idx       executor.IndexProvider
	parser    *parser.Parser
	exec      *executor.Executor
	cache     *cache.QueryCache
	collector *analytics.Collector
	cfg       config.SearchConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a Searcher. queryCache and collector may be nil.
func New(
	idx executor.IndexProvider,
	exec *executor.Executor,
	queryCache *cache.QueryCache,
	collector *analytics.Collector,
	cfg config.SearchConfig,
	m *metrics.Metrics,
) *Searcher {
	return &Searcher{
		idx:       idx,
		parser:    parser.New(cfg),
		exec:      exec,
		cache:     queryCache,
		collector: collector,
		cfg:       cfg,
		metrics:   m,
		logger:    slog.Default().With("component", "search-service"),
	}
}

func (s *Searcher) Parser() *parser.Parser { return s.parser }

// Search runs req through the pipeline. Recording is fire-and-forget and
// never affects the response.
func (s *Searcher) Search(ctx context.Context, req Request) (*executor.Response, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
	defer func() {
		span.End()
		span.Log(logger.FromContext(ctx))
	}()

	plan, err := s.plan(req)
	if err != nil {
		s.metrics.ObserveSearch("invalid", "none", 0, time.Since(start))
		return nil, err
	}
	span.SetAttr("terms", len(plan.Terms))

	var (
		resp        *executor.Response
		cacheStatus = "none"
	)
	err = resilience.WithTimeout(ctx, s.cfg.QueryTimeout, "search", func(ctx context.Context) error {
		var err error
		resp, cacheStatus, err = s.execute(ctx, plan)
		return err
	})
	took := time.Since(start)
	if err != nil {
		s.metrics.ObserveSearch(outcome(err), "none", 0, took)
		logger.FromContext(ctx).Error("search failed", "query", req.Query.Query, "error", err)
		return nil, err
	}

	resp.TookMs = took.Milliseconds()
	status := "ok"
	if resp.Total == 0 {
		status = "empty"
	}
	s.metrics.ObserveSearch(status, cacheStatus, resp.Total, took)
	logger.FromContext(ctx).Info("search completed",
		"query", req.Query.Query,
		"total_hits", resp.Total,
		"returned", len(resp.Results),
		"cache", cacheStatus,
		"latency_ms", resp.TookMs,
	)

	if req.Record && !plan.Empty() && s.collector != nil {
		s.collector.Track(analytics.Search(analytics.SearchEvent{
			Query:      req.Query.Query,
			Normalized: plan.Text(),
			UserID:     req.UserID,
			Filters:    plan.Query.Filters,
			TotalHits:  resp.Total,
			Returned:   len(resp.Results),
			LatencyMs:  resp.TookMs,
			CacheHit:   cacheStatus == "hit",
			RequestID:  logger.RequestID(ctx),
		}))
	}
	return resp, nil
}

func (s *Searcher) plan(req Request) (*parser.Plan, error) {
	if req.Strict {
		return s.parser.ParseStrict(req.Query)
	}
	return s.parser.Parse(req.Query), nil
}

func (s *Searcher) execute(ctx context.Context, plan *parser.Plan) (*executor.Response, string, error) {
	if s.cache == nil || !s.cfg.CacheEnabled || !cache.Cacheable(plan) {
		resp, err := s.exec.Search(ctx, plan)
		return resp, "none", err
	}
	snap, err := s.idx.Snapshot()
	if err != nil {
		return nil, "none", err
	}
	resp, hit, err := s.cache.GetOrCompute(ctx, plan, snap.Generation(), func() (*executor.Response, error) {
		return s.exec.Search(ctx, plan)
	})
	if err != nil {
		return nil, "miss", err
	}
	if !hit {
		return resp, "miss", nil
	}
	// A cached response was built from an equivalent request; report this
	// request's own corrections.
	cp := *resp
	cp.Corrections = plan.Corrections
	return &cp, "hit", nil
}

// All returns every result of q for export, capped at ExportMaxResult.
func (s *Searcher) All(ctx context.Context, q parser.SearchQuery) ([]executor.Item, error) {
	plan := s.parser.Parse(q)
	if limit := s.cfg.ExportMaxResult; limit > 0 {
		plan.Query.Options.MaxResults = limit
	}
	return s.exec.All(ctx, plan)
}

// Click records a click-through on a result.
func (s *Searcher) Click(ctx context.Context, userID string, ref index.DocRef, query string) {
	if s.collector == nil {
		return
	}
	s.collector.Track(analytics.Click(analytics.ClickEvent{
		UserID:     userID,
		Normalized: s.parser.Parse(s.parser.Defaults(query)).Text(),
		Type:       ref.Type,
		DocumentID: ref.ID,
	}))
	logger.FromContext(ctx).Debug("click recorded", "ref", ref.String())
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, apperrors.ErrIndexUnavailable):
		return "unavailable"
	case errors.Is(err, apperrors.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
