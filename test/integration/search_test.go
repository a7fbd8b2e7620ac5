//go:build integration

// Package integration contains tests that verify the interaction between
// the search components with a real PostgreSQL content table. Redis is
// replaced by miniredis; Kafka is not needed.
//
// Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/source"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/service"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/suggest"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/redis"
)

const contentTable = "search_content_it"

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "alumni_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "alumni"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func seedContent(t *testing.T, db *postgres.Client) {
	t.Helper()
	ctx := context.Background()
	_, err := db.DB.ExecContext(ctx, `DROP TABLE IF EXISTS `+contentTable)
	require.NoError(t, err)
	_, err = db.DB.ExecContext(ctx, `CREATE TABLE `+contentTable+` (
		id text NOT NULL,
		type text NOT NULL,
		title text,
		description text,
		content text,
		tags text[],
		url text,
		category text,
		location text,
		company text,
		language text,
		created_at timestamptz,
		published boolean NOT NULL DEFAULT true,
		PRIMARY KEY (type, id)
	)`)
	require.NoError(t, err)
	t.Cleanup(func() { db.DB.Exec(`DROP TABLE IF EXISTS ` + contentTable) })

	rows := []struct {
		id, typ, title, category string
		tags                     []string
		published                bool
	}{
		{"1", "jobs", "Senior Data Scientist", "Engineering", []string{"python"}, true},
		{"2", "jobs", "Data Analyst Intern", "Internship", []string{"sql"}, true},
		{"3", "jobs", "Data Engineer (draft)", "Engineering", nil, false},
		{"10", "events", "Alumni Data Meetup", "Meetup", []string{"networking"}, true},
		{"20", "mentors", "Career mentoring in data science", "", []string{"mentoring"}, true},
	}
	for _, r := range rows {
		_, err := db.DB.ExecContext(ctx, `INSERT INTO `+contentTable+`
			(id, type, title, category, tags, created_at, published)
			VALUES ($1, $2, $3, $4, $5, now(), $6)`,
			r.id, r.typ, r.title, r.category, pq.Array(r.tags), r.published)
		require.NoError(t, err)
	}
}

func newSearchServer(t *testing.T, engine *indexer.Engine) *httptest.Server {
	t.Helper()
	cfg := config.Default()

	mr := miniredis.RunT(t)
	rcfg := config.RedisConfig{Addr: mr.Addr(), CacheTTL: time.Minute}
	client, err := pkgredis.NewClient(rcfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	qc := cache.New(client, rcfg, nil)

	history := analytics.NewHistory(cfg.Suggest.RecentSize, cfg.Suggest.MaxTrackedUsers)
	agg := analytics.NewAggregator(nil)
	events := analytics.NewCollector(nil, 64, nil, history, agg)
	ctx, cancel := context.WithCancel(context.Background())
	events.Start(ctx)
	t.Cleanup(func() {
		cancel()
		events.Close()
	})

	searcher := service.New(engine, executor.New(engine, agg, cfg.Search.SnippetWindow), qc, events, cfg.Search, nil)
	sugg := suggest.New(engine, history, agg, cfg.Suggest, cfg.Search.TypoTolerance, nil)
	mux := http.NewServeMux()
	handler.New(searcher, sugg, engine, history, agg, qc).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestPostgresContentIsSearchable(t *testing.T) {
	db := skipIfNoPostgres(t)
	seedContent(t, db)

	engine := indexer.NewEngine(config.Default().Indexer, source.NewPostgres(db.DB, contentTable), nil)
	require.NoError(t, engine.IndexAllContent(context.Background()))
	srv := newSearchServer(t, engine)

	var resp executor.Response
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/search?q=data", &resp))
	assert.Equal(t, 4, resp.Total, "unpublished rows are not indexed")

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/search?q=data&type=jobs&tag=sql", &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "2", resp.Results[0].ID)

	status := engine.Status()
	assert.True(t, status.Ready)
	assert.Equal(t, 4, status.Documents)
}

func TestContentEventsReachCachedSearches(t *testing.T) {
	db := skipIfNoPostgres(t)
	seedContent(t, db)

	engine := indexer.NewEngine(config.Default().Indexer, source.NewPostgres(db.DB, contentTable), nil)
	require.NoError(t, engine.IndexAllContent(context.Background()))
	srv := newSearchServer(t, engine)

	var before executor.Response
	getJSON(t, srv.URL+"/api/v1/search?q=meetup", &before)
	require.Equal(t, 1, before.Total)

	require.NoError(t, consumer.Apply(engine, consumer.ContentEvent{
		Action:   consumer.ActionUpsert,
		Type:     index.Events,
		ID:       "11",
		Document: &index.Document{ID: "11", Type: index.Events, Title: "Founders Meetup"},
	}))

	var after executor.Response
	getJSON(t, srv.URL+"/api/v1/search?q=meetup", &after)
	assert.Equal(t, 2, after.Total)
	assert.Greater(t, after.Generation, before.Generation)

	// A rebuild from the table keeps writes made after it started but
	// drops documents the table does not hold.
	require.NoError(t, engine.IndexAllContent(context.Background()))
	getJSON(t, srv.URL+"/api/v1/search?q=meetup", &after)
	assert.Equal(t, 1, after.Total)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
