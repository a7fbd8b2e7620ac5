package analytics

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
)

func TestPopularCountsByNormalizedQuery(t *testing.T) {
	agg := NewAggregator(nil)
	for _, e := range []SearchEvent{
		{Query: "Data", Normalized: "data", TotalHits: 3},
		{Query: "data ", Normalized: "data", TotalHits: 3},
		{Query: "database", Normalized: "database", TotalHits: 1},
		{Query: "big data", Normalized: "big data", TotalHits: 2},
		{Query: "jobs", Normalized: "jobs", TotalHits: 5},
	} {
		agg.Record(Search(e))
	}

	popular := agg.Popular("DA", 10)
	assert.Equal(t, []QueryCount{
		{Query: "data", Count: 2},
		{Query: "big data", Count: 1},
		{Query: "database", Count: 1},
	}, popular)

	assert.Len(t, agg.Popular("", 2), 2)
	assert.Empty(t, agg.Popular("zzz", 5))
}

func TestClicksAndStats(t *testing.T) {
	agg := NewAggregator(nil)
	agg.Record(Search(SearchEvent{Normalized: "data", TotalHits: 0, LatencyMs: 10}))
	agg.Record(Search(SearchEvent{Normalized: "jobs", TotalHits: 2, LatencyMs: 30, CacheHit: true}))
	agg.Record(Click(ClickEvent{Type: "jobs", DocumentID: "7"}))
	agg.Record(Click(ClickEvent{Type: "jobs", DocumentID: "7"}))

	assert.Equal(t, 2, agg.Clicks(index.DocRef{Type: "jobs", ID: "7"}))
	assert.Equal(t, 0, agg.Clicks(index.DocRef{Type: "jobs", ID: "8"}))

	stats := agg.Stats()
	assert.Equal(t, int64(2), stats.TotalSearches)
	assert.Equal(t, int64(2), stats.TotalClicks)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.ZeroResultCount)
	assert.InDelta(t, 20.0, stats.AvgLatencyMs, 0.001)
	assert.Equal(t, []QueryCount{{Query: "data", Count: 1}}, stats.ZeroResultQueries)
	assert.Equal(t, []DocumentCount{{Type: "jobs", ID: "7", Count: 2}}, stats.TopDocuments)
}

func TestRestoreAddsToCounters(t *testing.T) {
	agg := NewAggregator(nil)
	agg.Record(Search(SearchEvent{Normalized: "data", TotalHits: 1}))
	agg.Restore(AggregatedStats{
		TotalSearches: 4,
		TopQueries:    []QueryCount{{Query: "data", Count: 4}},
		TopDocuments:  []DocumentCount{{Type: "news", ID: "n1", Count: 9}},
	})

	assert.Equal(t, []QueryCount{{Query: "data", Count: 5}}, agg.Popular("data", 1))
	assert.Equal(t, 9, agg.Clicks(index.DocRef{Type: "news", ID: "n1"}))
	assert.Equal(t, int64(5), agg.Stats().TotalSearches)
}

func TestHandleEventDecodesEnvelope(t *testing.T) {
	agg := NewAggregator(nil)
	handle := HandleEvent(agg)

	raw, err := json.Marshal(Search(SearchEvent{UserID: "u1", Query: "Data", Normalized: "data", TotalHits: 1}))
	require.NoError(t, err)
	require.NoError(t, handle(context.Background(), []byte("u1"), raw))
	require.NoError(t, handle(context.Background(), nil, []byte("not json")))

	assert.Equal(t, []QueryCount{{Query: "data", Count: 1}}, agg.Popular("d", 5))
}

func TestPercentile(t *testing.T) {
	sorted := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, int64(6), percentile(sorted, 50))
	assert.Equal(t, int64(10), percentile(sorted, 99))
	assert.Equal(t, int64(0), percentile(nil, 50))
}
