package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/service"
	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/rpc"
)

// SearchParams is the RPC payload for SearchService.Search. Query is the
// same document accepted by POST /api/v1/search.
type SearchParams struct {
	Query  json.RawMessage `json:"query"`
	UserID string          `json:"userId,omitempty"`
	Record bool            `json:"record,omitempty"`
}

type SuggestParams struct {
	UserID  string `json:"userId,omitempty"`
	Partial string `json:"partial"`
}

// RegisterRPC exposes search, suggestions and index status to other
// services. RPC searches are strict: out-of-range values are rejected
// rather than corrected.
func (h *Handler) RegisterRPC(s *rpc.Server) {
	s.Register("SearchService.Search", h.rpcSearch)
	s.Register("SearchService.Suggest", h.rpcSuggest)
	s.Register("IndexService.Status", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return h.index.Status(), nil
	})
}

func (h *Handler) rpcSearch(ctx context.Context, raw json.RawMessage) (any, error) {
	var p SearchParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid params: %v", err)
	}
	q := h.search.Parser().Defaults("")
	if len(p.Query) > 0 {
		if err := json.Unmarshal(p.Query, &q); err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid query: %v", err)
		}
	}
	userID := p.UserID
	if userID == "" {
		userID = anonymousUser
	}
	return h.search.Search(ctx, service.Request{
		Query:  q,
		UserID: userID,
		Strict: true,
		Record: p.Record,
	})
}

func (h *Handler) rpcSuggest(ctx context.Context, raw json.RawMessage) (any, error) {
	var p SuggestParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid params: %v", err)
	}
	userID := p.UserID
	if userID == "" {
		userID = anonymousUser
	}
	return h.suggester.Suggest(ctx, userID, p.Partial)
}
