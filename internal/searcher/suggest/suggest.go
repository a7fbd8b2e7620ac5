// Package suggest builds autocomplete suggestions for a partially typed
// query from three sources: matching document titles, the user's recent
// searches and globally popular searches.
package suggest

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/metrics"
)

type Source string

const (
	SourceDocument Source = "document"
	SourceRecent   Source = "recent"
	SourcePopular  Source = "popular"
)

// Suggestion is one autocomplete entry. Type, ID and URL are set for
// document suggestions; Count for popular ones.
type Suggestion struct {
	Text   string            `json:"text"`
	Source Source            `json:"source"`
	Type   index.ContentType `json:"type,omitempty"`
	ID     string            `json:"id,omitempty"`
	URL    string            `json:"url,omitempty"`
	Count  int64             `json:"count,omitempty"`
}

type IndexProvider interface {
	Snapshot() (*index.Snapshot, error)
}

type HistorySource interface {
	Recent(userID string) []analytics.HistoryItem
}

type PopularSource interface {
	Popular(partial string, n int) []analytics.QueryCount
}

type Suggester struct {
	index         IndexProvider
	history       HistorySource
	popular       PopularSource
	cfg           config.SuggestConfig
	typoTolerance int
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func New(idx IndexProvider, history HistorySource, popular PopularSource, cfg config.SuggestConfig, typoTolerance int, m *metrics.Metrics) *Suggester {
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 8
	}
	if cfg.DocumentSuggestions <= 0 {
		cfg.DocumentSuggestions = 5
	}
	return &Suggester{
		index:         idx,
		history:       history,
		popular:       popular,
		cfg:           cfg,
		typoTolerance: typoTolerance,
		metrics:       m,
		logger:        slog.Default().With("component", "suggester"),
	}
}

// Suggest returns at most MaxSuggestions entries for partial, deduplicated
// by normalized text. Entries whose text starts with partial come first;
// otherwise documents precede recent searches, which precede popular ones.
// An unavailable index only removes the document suggestions.
func (s *Suggester) Suggest(ctx context.Context, userID, partial string) ([]Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	needle := tokenizer.Normalize(partial)

	var candidates []Suggestion
	if needle != "" {
		docs, err := s.documents(needle)
		if err != nil {
			logger.FromContext(ctx).Warn("document suggestions unavailable", "error", err)
		}
		candidates = append(candidates, docs...)
	}
	candidates = append(candidates, s.recent(userID, needle)...)
	candidates = append(candidates, s.popularFor(needle)...)

	out := rank(candidates, needle, s.cfg.MaxSuggestions)
	s.record(out)
	return out, nil
}

func (s *Suggester) documents(needle string) ([]Suggestion, error) {
	snap, err := s.index.Snapshot()
	if err != nil {
		return nil, err
	}
	res := ranker.Rank(snap, tokenizer.Terms(needle), nil, ranker.Options{
		Fuzzy:         true,
		TypoTolerance: s.typoTolerance,
		Prefix:        true,
	})
	n := min(len(res.Matches), s.cfg.DocumentSuggestions)
	out := make([]Suggestion, 0, n)
	for _, m := range res.Matches[:n] {
		out = append(out, Suggestion{
			Text:   m.Doc.Title,
			Source: SourceDocument,
			Type:   m.Doc.Type,
			ID:     m.Doc.ID,
			URL:    m.Doc.URL,
		})
	}
	return out, nil
}

func (s *Suggester) recent(userID, needle string) []Suggestion {
	if s.history == nil {
		return nil
	}
	var out []Suggestion
	for _, item := range s.history.Recent(userID) {
		if strings.Contains(item.Normalized, needle) {
			out = append(out, Suggestion{Text: item.Query, Source: SourceRecent})
		}
	}
	return out
}

func (s *Suggester) popularFor(needle string) []Suggestion {
	if s.popular == nil {
		return nil
	}
	var out []Suggestion
	for _, q := range s.popular.Popular(needle, s.cfg.MaxSuggestions) {
		out = append(out, Suggestion{Text: q.Query, Source: SourcePopular, Count: q.Count})
	}
	return out
}

func (s *Suggester) record(out []Suggestion) {
	counts := make(map[Source]int, 3)
	for _, sg := range out {
		counts[sg.Source]++
	}
	for src, n := range counts {
		s.metrics.Suggestions(string(src), n)
	}
}

// rank dedupes candidates by normalized text, keeping the first, moves
// prefix matches ahead of the rest without otherwise reordering, and caps
// the list.
func rank(candidates []Suggestion, needle string, limit int) []Suggestion {
	seen := make(map[string]struct{}, len(candidates))
	var prefixed, rest []Suggestion
	for _, c := range candidates {
		key := tokenizer.Normalize(c.Text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if strings.HasPrefix(key, needle) {
			prefixed = append(prefixed, c)
		} else {
			rest = append(rest, c)
		}
	}
	out := append(prefixed, rest...)
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Suggestion{}
	}
	return out
}
