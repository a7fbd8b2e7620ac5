package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc-123", seen)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(DefaultCORSConfig("https://alumni.example.org"))(ok)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/suggest", nil)
	req.Header.Set("Origin", "https://alumni.example.org")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://alumni.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-User-ID")

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/suggest", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLimiterRefills(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	l := NewLimiter(2, time.Minute, clk)

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"))

	clk.Advance(30 * time.Second)
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))

	clk.Advance(5 * time.Minute)
	assert.Equal(t, 2, l.Sweep())
}

func TestRateLimitMiddleware(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	h := RateLimit(NewLimiter(1, time.Minute, clk), func(r *http.Request) string {
		return r.Header.Get("X-User-ID")
	})(ok)

	do := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-User-ID", "alice")
		h.ServeHTTP(rec, req)
		return rec
	}
	require.Equal(t, http.StatusOK, do("/api/v1/suggest").Code)
	rec := do("/api/v1/suggest")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("/health/ready").Code)
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(nil, nil)(ok)
	for range 5 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
