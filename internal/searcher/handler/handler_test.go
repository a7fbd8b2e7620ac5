package handler

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/source"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/service"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/suggest"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/config"
)

type fixture struct {
	src       *source.Static
	engine    *indexer.Engine
	collector *analytics.Collector
	mux       *http.ServeMux
}

func newFixture(t *testing.T, build bool) *fixture {
	t.Helper()
	cfg := config.Default()
	src := source.NewStatic(
		&index.Document{ID: "1", Type: index.Jobs, Title: "Senior Data Scientist", URL: "/jobs/1",
			Metadata: index.Metadata{Category: "Engineering"}},
		&index.Document{ID: "2", Type: index.Jobs, Title: "Data Analyst Intern", URL: "/jobs/2"},
		&index.Document{ID: "7", Type: index.Events, Title: "Data Meetup"},
	)
	e := indexer.NewEngine(cfg.Indexer, src, nil)
	if build {
		require.NoError(t, e.IndexAllContent(context.Background()))
	}

	history := analytics.NewHistory(cfg.Suggest.RecentSize, cfg.Suggest.MaxTrackedUsers)
	agg := analytics.NewAggregator(nil)
	collector := analytics.NewCollector(nil, 64, nil, history, agg)

	searcher := service.New(e, executor.New(e, agg, cfg.Search.SnippetWindow), nil, collector, cfg.Search, nil)
	suggester := suggest.New(e, history, agg, cfg.Suggest, cfg.Search.TypoTolerance, nil)
	mux := http.NewServeMux()
	New(searcher, suggester, e, history, agg, nil).Register(mux)
	return &fixture{src: src, engine: e, collector: collector, mux: mux}
}

func (f *fixture) do(t *testing.T, method, target string, body any, user string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/api/v1/search?q=data&type=jobs&limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[executor.Response](t, rec)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, index.Jobs, resp.Results[0].Type)
}

func TestSearchRejectsMalformedParams(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/api/v1/search?q=data&page=abc&fuzzy=maybe", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Contains(t, body["error"], "page")
	assert.Contains(t, body["error"], "fuzzy")
	assert.Equal(t, false, body["retryable"])
	assert.Equal(t, []any{}, body["results"])
}

func TestSearchBeforeIndexBuilt(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/api/v1/search?q=data", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["retryable"])
}

func TestSearchJSONBody(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodPost, "/api/v1/search", map[string]any{
		"query":   "data",
		"filters": map[string]any{"contentTypes": []string{"events"}},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[executor.Response](t, rec)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "7", resp.Results[0].ID)
}

func TestRecordedSearchFeedsHistoryAndSuggestions(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/api/v1/search?q=Data+Analyst&record=true", nil, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	f.do(t, http.MethodGet, "/api/v1/search?q=meetup", nil, "alice")
	f.collector.Close()

	recent := decode[map[string][]analytics.HistoryItem](t, f.do(t, http.MethodGet, "/api/v1/searches/recent", nil, "alice"))
	require.Len(t, recent["searches"], 1)
	assert.Equal(t, "Data Analyst", recent["searches"][0].Query)

	other := decode[map[string][]analytics.HistoryItem](t, f.do(t, http.MethodGet, "/api/v1/searches/recent", nil, ""))
	assert.Empty(t, other["searches"])

	popular := decode[map[string][]analytics.QueryCount](t, f.do(t, http.MethodGet, "/api/v1/searches/popular?prefix=data", nil, ""))
	assert.Equal(t, []analytics.QueryCount{{Query: "data analyst", Count: 1}}, popular["searches"])

	sugg := decode[map[string][]suggest.Suggestion](t, f.do(t, http.MethodGet, "/api/v1/suggest?q=dat", nil, "alice"))
	require.NotEmpty(t, sugg["suggestions"])
	assert.LessOrEqual(t, len(sugg["suggestions"]), 8)
}

func TestPopularRejectsBadLimit(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/api/v1/searches/popular?limit=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClickEndpoint(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodPost, "/api/v1/searches/click", map[string]string{"type": "jobs", "id": "2", "query": "data"}, "alice")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/searches/click", map[string]string{"type": "ships", "id": "2"}, "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportCSVSubset(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/api/v1/search/export?q=data&format=csv&ids=jobs/1,events/7", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	var refs []string
	for _, r := range records[1:] {
		refs = append(refs, r[1]+"/"+r[0])
	}
	assert.ElementsMatch(t, []string{"jobs/1", "events/7"}, refs)

	rec = f.do(t, http.MethodGet, "/api/v1/search/export?q=data&format=xml", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexEndpoints(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPut, "/api/v1/index/documents", index.Document{ID: "n1", Type: index.News, Title: "Data Week"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[executor.Response](t, f.do(t, http.MethodGet, "/api/v1/search?q=data", nil, ""))
	assert.Equal(t, 4, resp.Total)

	rec = f.do(t, http.MethodPut, "/api/v1/index/documents", index.Document{ID: "x", Type: "ships"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/index/documents/news/n1", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/index/documents/news/n1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	status := decode[indexer.Status](t, f.do(t, http.MethodGet, "/api/v1/index/status", nil, ""))
	assert.True(t, status.Ready)
	assert.Equal(t, 3, status.Documents)
}

func TestRebuildEndpoint(t *testing.T) {
	f := newFixture(t, true)
	f.src.Add(&index.Document{ID: "m1", Type: index.Mentors, Title: "Data Mentor"})

	rec := f.do(t, http.MethodPost, "/api/v1/index/rebuild?type=mentors", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[executor.Response](t, f.do(t, http.MethodGet, "/api/v1/search?q=data", nil, ""))
	assert.Equal(t, 4, resp.Total)

	rec = f.do(t, http.MethodPost, "/api/v1/index/rebuild?type=ships", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.src.Fail(index.Events, errors.New("events service down"))
	rec = f.do(t, http.MethodPost, "/api/v1/index/rebuild", nil, "")
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	resp = decode[executor.Response](t, f.do(t, http.MethodGet, "/api/v1/search?q=meetup", nil, ""))
	assert.Equal(t, 1, resp.Total)
}
