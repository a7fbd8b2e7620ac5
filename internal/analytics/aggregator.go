package analytics

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/kafka"
)

const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches     int64           `json:"total_searches"`
	TotalClicks       int64           `json:"total_clicks"`
	CacheHits         int64           `json:"cache_hits"`
	CacheMisses       int64           `json:"cache_misses"`
	ZeroResultCount   int64           `json:"zero_result_count"`
	AvgLatencyMs      float64         `json:"avg_latency_ms"`
	P50LatencyMs      int64           `json:"p50_latency_ms"`
	P95LatencyMs      int64           `json:"p95_latency_ms"`
	P99LatencyMs      int64           `json:"p99_latency_ms"`
	TopQueries        []QueryCount    `json:"top_queries"`
	ZeroResultQueries []QueryCount    `json:"zero_result_queries"`
	TopDocuments      []DocumentCount `json:"top_documents"`
	QueriesPerMinute  float64         `json:"queries_per_minute"`
}

// QueryCount is a popular search: normalized query text and how often it
// was searched.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

type DocumentCount struct {
	Type  index.ContentType `json:"type"`
	ID    string            `json:"id"`
	Count int64             `json:"count"`
}

// Aggregator keeps popularity and latency statistics in memory. It is a
// Sink for the local Collector and, in the analytics service, is fed from
// Kafka through HandleEvent.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     atomic.Int64
	totalClicks       atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	zeroResults       atomic.Int64
	latencies         []int64
	nextLatency       int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	clicks            map[index.DocRef]int64
	startTime         time.Time

	consumer *kafka.Consumer
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator. consumer may be nil when events
// arrive only through Record.
func NewAggregator(consumer *kafka.Consumer) *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		clicks:            make(map[index.DocRef]int64),
		startTime:         time.Now(),
		consumer:          consumer,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// SetConsumer attaches the Kafka consumer that Start will drive.
func (a *Aggregator) SetConsumer(consumer *kafka.Consumer) {
	a.consumer = consumer
}

func (a *Aggregator) Start(ctx context.Context) error {
	a.logger.Info("analytics aggregator starting")
	return a.consumer.Start(ctx)
}

func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

// Record implements Sink.
func (a *Aggregator) Record(ev Event) {
	switch {
	case ev.Search != nil:
		a.recordSearch(*ev.Search)
	case ev.Click != nil:
		a.recordClick(*ev.Click)
	}
}

func (a *Aggregator) recordSearch(event SearchEvent) {
	a.totalSearches.Add(1)
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if event.TotalHits == 0 {
		a.zeroResults.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.nextLatency] = event.LatencyMs
		a.nextLatency = (a.nextLatency + 1) % maxLatencySamples
	}
	if event.Normalized == "" {
		return
	}
	a.queryCounts[event.Normalized]++
	if event.TotalHits == 0 {
		a.zeroResultQueries[event.Normalized]++
	}
}

func (a *Aggregator) recordClick(event ClickEvent) {
	a.totalClicks.Add(1)
	a.mu.Lock()
	a.clicks[event.Ref()]++
	a.mu.Unlock()
}

// Clicks returns the click-through count of ref.
func (a *Aggregator) Clicks(ref index.DocRef) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int(a.clicks[ref])
}

// Popular returns up to n of the most searched queries that start with or
// contain partial, most frequent first. An empty partial matches all.
func (a *Aggregator) Popular(partial string, n int) []QueryCount {
	needle := tokenizer.Normalize(partial)
	a.mu.RLock()
	matching := make(map[string]int64)
	for q, c := range a.queryCounts {
		if strings.Contains(q, needle) {
			matching[q] = c
		}
	}
	a.mu.RUnlock()
	return topN(matching, n)
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches.Load(),
		TotalClicks:     a.totalClicks.Load(),
		CacheHits:       a.cacheHits.Load(),
		CacheMisses:     a.cacheMisses.Load(),
		ZeroResultCount: a.zeroResults.Load(),
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	stats.TopDocuments = topDocuments(a.clicks, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

// Restore seeds the counters from a persisted snapshot so popularity
// survives a restart of the analytics service.
func (a *Aggregator) Restore(stats AggregatedStats) {
	a.totalSearches.Add(stats.TotalSearches)
	a.totalClicks.Add(stats.TotalClicks)
	a.cacheHits.Add(stats.CacheHits)
	a.cacheMisses.Add(stats.CacheMisses)
	a.zeroResults.Add(stats.ZeroResultCount)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, q := range stats.TopQueries {
		a.queryCounts[q.Query] += q.Count
	}
	for _, q := range stats.ZeroResultQueries {
		a.zeroResultQueries[q.Query] += q.Count
	}
	for _, d := range stats.TopDocuments {
		a.clicks[index.DocRef{Type: d.Type, ID: d.ID}] += d.Count
	}
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	slices.SortFunc(result, func(a, b QueryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Query, b.Query)
	})
	if n > 0 && len(result) > n {
		result = result[:n]
	}
	return result
}

func topDocuments(counts map[index.DocRef]int64, n int) []DocumentCount {
	result := make([]DocumentCount, 0, len(counts))
	for ref, count := range counts {
		result = append(result, DocumentCount{Type: ref.Type, ID: ref.ID, Count: count})
	}
	slices.SortFunc(result, func(a, b DocumentCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if a.Type != b.Type {
			return strings.Compare(string(a.Type), string(b.Type))
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
