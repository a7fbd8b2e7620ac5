package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/export"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/service"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/suggest"
	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/logger"
)

const (
	userHeader    = "X-User-ID"
	anonymousUser = "anonymous"
	maxBodyBytes  = 1 << 20
)

type IndexService interface {
	Status() indexer.Status
	IndexAllContent(ctx context.Context) error
	IndexContentType(ctx context.Context, t index.ContentType) error
	IndexDocument(doc *index.Document) error
	RemoveDocument(t index.ContentType, id string) error
}

type Suggester interface {
	Suggest(ctx context.Context, userID, partial string) ([]suggest.Suggestion, error)
}

type HistoryReader interface {
	Recent(userID string) []analytics.HistoryItem
}

type PopularReader interface {
	Popular(partial string, n int) []analytics.QueryCount
}

type Handler struct {
	search    *service.Searcher
	suggester Suggester
	index     IndexService
	history   HistoryReader
	popular   PopularReader
	cache     *cache.QueryCache
	logger    *slog.Logger
}

// New builds the HTTP handler. history, popular and queryCache may be nil.
func New(
	search *service.Searcher,
	suggester Suggester,
	idx IndexService,
	history HistoryReader,
	popular PopularReader,
	queryCache *cache.QueryCache,
) *Handler {
	return &Handler{
		search:    search,
		suggester: suggester,
		index:     idx,
		history:   history,
		popular:   popular,
		cache:     queryCache,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/search", h.SearchJSON)
	mux.HandleFunc("GET /api/v1/search/export", h.Export)
	mux.HandleFunc("GET /api/v1/suggest", h.Suggest)
	mux.HandleFunc("GET /api/v1/searches/recent", h.Recent)
	mux.HandleFunc("GET /api/v1/searches/popular", h.Popular)
	mux.HandleFunc("POST /api/v1/searches/click", h.Click)
	mux.HandleFunc("GET /api/v1/index/status", h.IndexStatus)
	mux.HandleFunc("POST /api/v1/index/rebuild", h.Rebuild)
	mux.HandleFunc("PUT /api/v1/index/documents", h.PutDocument)
	mux.HandleFunc("DELETE /api/v1/index/documents/{type}/{id}", h.DeleteDocument)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// UserID identifies the caller for history and rate limiting.
func UserID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(userHeader)); id != "" {
		return id
	}
	return anonymousUser
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromValues(h.search.Parser(), r.URL.Query())
	if err != nil {
		h.writeSearchError(w, r, err)
		return
	}
	h.runSearch(w, r, q)
}

// SearchJSON accepts a SearchQuery body. Omitted fields keep their
// defaults.
func (h *Handler) SearchJSON(w http.ResponseWriter, r *http.Request) {
	q := h.search.Parser().Defaults("")
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&q); err != nil {
		h.writeSearchError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err))
		return
	}
	h.runSearch(w, r, q)
}

func (h *Handler) runSearch(w http.ResponseWriter, r *http.Request, q parser.SearchQuery) {
	record, _ := strconv.ParseBool(r.URL.Query().Get("record"))
	resp, err := h.search.Search(r.Context(), service.Request{
		Query:  q,
		UserID: UserID(r),
		Record: record,
	})
	if err != nil {
		h.writeSearchError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	format, err := export.ParseFormat(v.Get("format"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q, err := queryFromValues(h.search.Parser(), v)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.search.All(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items = export.Select(items, list(v, "ids"))

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(time.Now())))
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, format, items); err != nil {
		logger.FromContext(r.Context()).Error("export failed", "format", format, "error", err)
	}
}

func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	out, err := h.suggester.Suggest(r.Context(), UserID(r), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	items := []analytics.HistoryItem{}
	if h.history != nil {
		items = h.history.Recent(UserID(r))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"searches": items})
}

func (h *Handler) Popular(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be between 1 and 100"))
			return
		}
		limit = n
	}
	queries := []analytics.QueryCount{}
	if h.popular != nil {
		queries = h.popular.Popular(r.URL.Query().Get("prefix"), limit)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"searches": queries})
}

type clickRequest struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Query string `json:"query"`
}

func (h *Handler) Click(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err))
		return
	}
	t, ok := index.ParseContentType(req.Type)
	if !ok || strings.TrimSpace(req.ID) == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "type and id are required"))
		return
	}
	h.search.Click(r.Context(), UserID(r), index.DocRef{Type: t, ID: req.ID}, req.Query)
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *Handler) IndexStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.index.Status())
}

// Rebuild reindexes everything, or a single type with ?type=.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var err error
	if raw := r.URL.Query().Get("type"); raw != "" {
		err = h.index.IndexContentType(r.Context(), index.ContentType(strings.ToLower(raw)))
	} else {
		err = h.index.IndexAllContent(r.Context())
	}
	var partial *indexer.PartialIndexingError
	switch {
	case errors.As(err, &partial):
		h.writeJSON(w, http.StatusMultiStatus, map[string]any{
			"status":  h.index.Status(),
			"failure": partial,
		})
	case err != nil:
		h.writeError(w, r, err)
	default:
		h.writeJSON(w, http.StatusOK, map[string]any{"status": h.index.Status()})
	}
}

func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	var doc index.Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&doc); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid document: %v", err))
		return
	}
	if err := h.index.IndexDocument(&doc); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "indexed", "ref": doc.Ref().String()})
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	t, ok := index.ParseContentType(r.PathValue("type"))
	if !ok {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown content type %q", r.PathValue("type")))
		return
	}
	if err := h.index.RemoveDocument(t, r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	stats := map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	}
	if entries, err := h.cache.Entries(r.Context()); err == nil {
		stats["entries"] = entries
	} else {
		h.logger.Warn("counting cache entries failed", "error", err)
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// searchErrorBody keeps the response shape of a successful search so
// clients can render an empty result list alongside the error.
type searchErrorBody struct {
	errorBody
	Results []executor.Item `json:"results"`
	Total   int             `json:"total"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	h.logFailure(r, status, err)
	h.writeJSON(w, status, errorBody{Error: message(err), Retryable: apperrors.IsRetryable(err)})
}

func (h *Handler) writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	h.logFailure(r, status, err)
	h.writeJSON(w, status, searchErrorBody{
		errorBody: errorBody{Error: message(err), Retryable: apperrors.IsRetryable(err)},
		Results:   []executor.Item{},
	})
}

func (h *Handler) logFailure(r *http.Request, status int, err error) {
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
		return
	}
	log.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
}

func message(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if status := apperrors.HTTPStatusCode(err); status >= http.StatusInternalServerError && !apperrors.IsRetryable(err) {
		return "internal error"
	}
	return err.Error()
}
