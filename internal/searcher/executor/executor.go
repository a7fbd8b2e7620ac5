package executor

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/highlight"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/tracing"
)

// IndexProvider hands out the current index snapshot. It returns an
// ErrIndexUnavailable error until the index has been built.
type IndexProvider interface {
	Snapshot() (*index.Snapshot, error)
}

// ClickCounter reports click-throughs per document for popularity sorting.
type ClickCounter interface {
	Clicks(ref index.DocRef) int
}

// Item is one search result.
type Item struct {
	ID          string                `json:"id"`
	Type        index.ContentType     `json:"type"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	URL         string                `json:"url,omitempty"`
	Score       float64               `json:"score"`
	Highlights  []highlight.Highlight `json:"highlights,omitempty"`
	Tags        []string              `json:"tags,omitempty"`
	Metadata    index.Metadata        `json:"metadata"`
	Content     string                `json:"content,omitempty"`
}

func (it Item) Ref() index.DocRef { return index.DocRef{Type: it.Type, ID: it.ID} }

// Facets counts the filtered candidates by type, category and tag.
type Facets struct {
	Types      map[string]int `json:"types"`
	Categories map[string]int `json:"categories"`
	Tags       map[string]int `json:"tags"`
}

// Response is the answer to one search.
type Response struct {
	Query       string   `json:"query"`
	Results     []Item   `json:"results"`
	Total       int      `json:"total"`
	TotalPages  int      `json:"totalPages"`
	Page        int      `json:"page"`
	Limit       int      `json:"limit"`
	Offset      int      `json:"offset"`
	Facets      Facets   `json:"facets"`
	Suggestions []string `json:"suggestions,omitempty"`
	Corrections []string `json:"corrections,omitempty"`
	Generation  uint64   `json:"generation"`
	TookMs      int64    `json:"tookMs"`
}

type Executor struct {
	idx         IndexProvider
	clicks      ClickCounter
	highlighter *highlight.Highlighter
	logger      *slog.Logger
}

// New builds an Executor. clicks may be nil, in which case popularity sorts
// fall back to relevance order.
func New(idx IndexProvider, clicks ClickCounter, snippetWindow int) *Executor {
	return &Executor{
		idx:         idx,
		clicks:      clicks,
		highlighter: highlight.New(snippetWindow),
		logger:      slog.Default().With("component", "query-executor"),
	}
}

// result is the filtered and sorted candidate set before pagination.
type result struct {
	snap        *index.Snapshot
	matches     []ranker.Match
	suggestions []string
}

// Search runs plan against the current snapshot.
func (e *Executor) Search(ctx context.Context, plan *parser.Plan) (*Response, error) {
	start := time.Now()
	q := plan.Query
	resp := &Response{
		Query:       q.Query,
		Results:     []Item{},
		Page:        q.Pagination.Page,
		Limit:       q.Pagination.Limit,
		Offset:      q.Pagination.Offset,
		Facets:      emptyFacets(),
		Corrections: plan.Corrections,
	}
	if plan.Empty() {
		return resp, nil
	}

	res, err := e.collect(ctx, plan)
	if err != nil {
		return nil, err
	}
	resp.Generation = res.snap.Generation()
	resp.Suggestions = res.suggestions
	resp.Total = len(res.matches)
	resp.Facets = facets(res.matches)

	_, span := tracing.StartChildSpan(ctx, "paginate")
	lo, hi := e.paginate(resp, len(res.matches))
	resp.Results = e.items(res.matches[lo:hi], q.Options)
	span.SetAttr("returned", len(resp.Results))
	span.End()

	resp.TookMs = time.Since(start).Milliseconds()
	e.logger.Debug("query executed",
		"query", q.Query,
		"terms", plan.Terms,
		"total", resp.Total,
		"returned", len(resp.Results),
		"generation", resp.Generation,
	)
	return resp, nil
}

// All returns every result of plan in order, ignoring pagination but
// honouring MaxResults.
func (e *Executor) All(ctx context.Context, plan *parser.Plan) ([]Item, error) {
	if plan.Empty() {
		return []Item{}, nil
	}
	res, err := e.collect(ctx, plan)
	if err != nil {
		return nil, err
	}
	return e.items(res.matches, plan.Query.Options), nil
}

func (e *Executor) collect(ctx context.Context, plan *parser.Plan) (*result, error) {
	snap, err := e.idx.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", plan.Query.Query, err)
	}
	if plan.NoTypes {
		return &result{snap: snap}, nil
	}
	q := plan.Query

	_, span := tracing.StartChildSpan(ctx, "match")
	ranked := ranker.Rank(snap, plan.Terms, plan.Exclude, ranker.Options{
		Fuzzy:         q.Options.FuzzyMatching,
		TypoTolerance: q.Options.TypoTolerance,
		MatchAll:      plan.MatchAll,
		Types:         plan.Types,
	})
	span.SetAttr("candidates", len(ranked.Matches))
	span.End()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, span = tracing.StartChildSpan(ctx, "filter")
	matches := filter(ranked.Matches, plan)
	span.SetAttr("remaining", len(matches))
	span.End()

	_, span = tracing.StartChildSpan(ctx, "sort")
	e.sort(matches, q.Sort)
	if len(matches) > q.Options.MaxResults {
		matches = matches[:q.Options.MaxResults]
	}
	span.End()

	return &result{
		snap:        snap,
		matches:     matches,
		suggestions: didYouMean(plan.Terms, ranked.Corrections),
	}, nil
}

func filter(ms []ranker.Match, plan *parser.Plan) []ranker.Match {
	q := plan.Query
	out := ms[:0]
	for _, m := range ms {
		md := m.Doc.Metadata
		switch {
		case m.Score < q.Options.MinScore:
		case len(plan.Categories) > 0 && !slices.Contains(plan.Categories, tokenizer.Normalize(md.Category)):
		case len(plan.Tags) > 0 && !hasAnyTag(m.Doc.Tags, plan.Tags):
		case !q.Filters.DateRange.IsZero() && (md.CreatedAt.IsZero() || !q.Filters.DateRange.Contains(md.CreatedAt)):
		case plan.Language != "" && md.Language != "" && tokenizer.Normalize(md.Language) != plan.Language:
		default:
			out = append(out, m)
		}
	}
	return out
}

func hasAnyTag(tags []string, wanted []string) bool {
	for _, tag := range tags {
		if slices.Contains(wanted, tokenizer.Normalize(tag)) {
			return true
		}
	}
	return false
}

func (e *Executor) sort(ms []ranker.Match, s parser.Sort) {
	sign := 1
	if s.Direction == parser.Asc {
		sign = -1
	}
	var primary func(a, b ranker.Match) int
	switch s.Field {
	case parser.SortDate:
		primary = func(a, b ranker.Match) int {
			return b.Doc.Metadata.CreatedAt.Compare(a.Doc.Metadata.CreatedAt)
		}
	case parser.SortTitle:
		// Ascending is the natural order for titles, so flip the sign.
		sign = -sign
		primary = func(a, b ranker.Match) int {
			return strings.Compare(tokenizer.Normalize(a.Doc.Title), tokenizer.Normalize(b.Doc.Title))
		}
	case parser.SortPopularity:
		if e.clicks != nil {
			primary = func(a, b ranker.Match) int {
				return cmp.Compare(e.clicks.Clicks(b.Ref()), e.clicks.Clicks(a.Ref()))
			}
		}
	}
	byScore := func(a, b ranker.Match) int { return cmp.Compare(b.Score, a.Score) }
	slices.SortStableFunc(ms, func(a, b ranker.Match) int {
		if primary != nil {
			if c := primary(a, b); c != 0 {
				return sign * c
			}
			if c := byScore(a, b); c != 0 {
				return c
			}
		} else if c := byScore(a, b); c != 0 {
			return sign * c
		}
		return ranker.TieBreak(a, b)
	})
}

// paginate clamps the requested page and returns the slice bounds. A
// positive offset takes precedence over the page number.
func (e *Executor) paginate(resp *Response, total int) (int, int) {
	limit := resp.Limit
	resp.TotalPages = (total + limit - 1) / limit
	var lo int
	if resp.Offset > 0 {
		lo = resp.Offset
		resp.Page = lo/limit + 1
	} else {
		if resp.TotalPages > 0 && resp.Page > resp.TotalPages {
			resp.Corrections = append(resp.Corrections,
				fmt.Sprintf("pagination.page %d is past the last page, using %d", resp.Page, resp.TotalPages))
			resp.Page = resp.TotalPages
		}
		lo = (resp.Page - 1) * limit
		resp.Offset = lo
	}
	lo = min(lo, total)
	return lo, min(lo+limit, total)
}

func (e *Executor) items(ms []ranker.Match, opts parser.Options) []Item {
	items := make([]Item, 0, len(ms))
	for _, m := range ms {
		d := m.Doc
		it := Item{
			ID:          d.ID,
			Type:        d.Type,
			Title:       d.Title,
			Description: d.Description,
			URL:         d.URL,
			Score:       m.Score,
			Tags:        d.Tags,
			Metadata:    d.Metadata,
		}
		if opts.HighlightResults {
			it.Highlights = e.highlighter.Highlights(d, m.Terms)
		}
		if opts.IncludeContent {
			it.Content = d.Content
		}
		items = append(items, it)
	}
	return items
}

func emptyFacets() Facets {
	return Facets{
		Types:      map[string]int{},
		Categories: map[string]int{},
		Tags:       map[string]int{},
	}
}

func facets(ms []ranker.Match) Facets {
	f := emptyFacets()
	for _, m := range ms {
		f.Types[string(m.Doc.Type)]++
		if c := m.Doc.Metadata.Category; c != "" {
			f.Categories[c]++
		}
		for _, tag := range m.Doc.Tags {
			f.Tags[tag]++
		}
	}
	return f
}

// didYouMean rewrites the query with fuzzy corrections applied.
func didYouMean(terms []string, corrections map[string]string) []string {
	if len(corrections) == 0 {
		return nil
	}
	rewritten := make([]string, len(terms))
	for i, t := range terms {
		rewritten[i] = cmp.Or(corrections[t], t)
	}
	return []string{strings.Join(rewritten, " ")}
}
