//go:build e2e

// Package e2e contains end-to-end tests that exercise a running search
// service over HTTP: health, search, incremental indexing, suggestions,
// history and export.
//
// Prerequisites:
//   - searcher running with configs/development.yaml (seed file content)
//
// Run with:
//
//	go test -v -tags=e2e -timeout=120s ./test/e2e/...
package e2e

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

type e2eConfig struct {
	SearcherURL string
	UserID      string
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		SearcherURL: envOrDefault("E2E_SEARCHER_URL", "http://localhost:8080"),
		UserID:      fmt.Sprintf("e2e-%d", time.Now().UnixNano()),
	}
}

type searchResponse struct {
	Query   string `json:"query"`
	Total   int    `json:"total"`
	Results []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
	} `json:"results"`
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestPlatformHealth verifies the service responds to health checks.
func TestPlatformHealth(t *testing.T) {
	cfg := loadE2EConfig()

	endpoints := []struct {
		name string
		url  string
	}{
		{"search /health/live", cfg.SearcherURL + "/health/live"},
		{"search /health/ready", cfg.SearcherURL + "/health/ready"},
		{"index status", cfg.SearcherURL + "/api/v1/index/status"},
	}

	client := &http.Client{Timeout: 5 * time.Second}

	for _, ep := range endpoints {
		t.Run(ep.name, func(t *testing.T) {
			resp, err := client.Get(ep.url)
			if err != nil {
				t.Skipf("service unavailable: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("expected 200, got %d: %s", resp.StatusCode, body)
			}
		})
	}
}

// TestSearchSeedContent searches for documents loaded from the seed file.
func TestSearchSeedContent(t *testing.T) {
	cfg := loadE2EConfig()
	skipIfUnavailable(t, cfg)

	var resp searchResponse
	status := doJSON(t, cfg, http.MethodGet, "/api/v1/search?q=data&type=jobs", nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.Total < 2 {
		t.Fatalf("expected at least 2 job results for 'data', got %d", resp.Total)
	}
	for _, r := range resp.Results {
		if r.Type != "jobs" {
			t.Errorf("type filter leaked a %s result (%s)", r.Type, r.ID)
		}
	}
}

// TestIndexAndSearch indexes a document through the API, finds it, then
// removes it again.
func TestIndexAndSearch(t *testing.T) {
	cfg := loadE2EConfig()
	skipIfUnavailable(t, cfg)

	marker := fmt.Sprintf("zebracorn%d", time.Now().UnixNano()%100000)
	doc := map[string]any{
		"id":          "e2e-" + marker,
		"type":        "resources",
		"title":       "E2E handbook " + marker,
		"description": "temporary document created by the end-to-end suite",
		"metadata":    map[string]any{"category": "Testing"},
	}
	if status := doJSON(t, cfg, http.MethodPut, "/api/v1/index/documents", doc, nil); status != http.StatusOK {
		t.Fatalf("indexing document: expected 200, got %d", status)
	}
	t.Cleanup(func() {
		doJSON(t, cfg, http.MethodDelete, "/api/v1/index/documents/resources/e2e-"+marker, nil, nil)
	})

	var resp searchResponse
	doJSON(t, cfg, http.MethodGet, "/api/v1/search?q="+marker, nil, &resp)
	if resp.Total != 1 || resp.Results[0].ID != "e2e-"+marker {
		t.Fatalf("expected the new document, got %+v", resp)
	}

	if status := doJSON(t, cfg, http.MethodDelete, "/api/v1/index/documents/resources/e2e-"+marker, nil, nil); status != http.StatusNoContent {
		t.Fatalf("deleting document: expected 204, got %d", status)
	}
	doJSON(t, cfg, http.MethodGet, "/api/v1/search?q="+marker, nil, &resp)
	if resp.Total != 0 {
		t.Errorf("deleted document still searchable: %+v", resp)
	}
}

// TestHistoryAndSuggestions records a search and waits for it to surface
// in the user's recent searches and in suggestions.
func TestHistoryAndSuggestions(t *testing.T) {
	cfg := loadE2EConfig()
	skipIfUnavailable(t, cfg)

	doJSON(t, cfg, http.MethodGet, "/api/v1/search?record=true&q="+url.QueryEscape("Data Analyst"), nil, nil)

	var recent struct {
		Searches []struct {
			Query string `json:"query"`
		} `json:"searches"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		doJSON(t, cfg, http.MethodGet, "/api/v1/searches/recent", nil, &recent)
		if len(recent.Searches) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if len(recent.Searches) == 0 || recent.Searches[0].Query != "Data Analyst" {
		t.Fatalf("expected recorded search in history, got %+v", recent.Searches)
	}

	var sugg struct {
		Suggestions []struct {
			Text   string `json:"text"`
			Source string `json:"source"`
		} `json:"suggestions"`
	}
	doJSON(t, cfg, http.MethodGet, "/api/v1/suggest?q=dat", nil, &sugg)
	if len(sugg.Suggestions) == 0 {
		t.Fatal("expected suggestions for 'dat'")
	}
}

// TestExportCSV downloads search results as CSV.
func TestExportCSV(t *testing.T) {
	cfg := loadE2EConfig()
	skipIfUnavailable(t, cfg)

	resp, err := http.Get(cfg.SearcherURL + "/api/v1/search/export?q=data")
	if err != nil {
		t.Fatalf("export request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %q", ct)
	}
	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("parsing csv: %v", err)
	}
	if len(records) < 2 {
		t.Fatalf("expected header plus rows, got %d records", len(records))
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func skipIfUnavailable(t *testing.T, cfg e2eConfig) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(cfg.SearcherURL + "/health/live")
	if err != nil {
		t.Skipf("search service unavailable: %v", err)
	}
	resp.Body.Close()
}

func doJSON(t *testing.T, cfg e2eConfig, method, path string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, cfg.SearcherURL+path, reader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", cfg.UserID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
