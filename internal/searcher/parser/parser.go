// Package parser turns a SearchQuery into an executable Plan. Interactive
// callers use Parse, which never fails and reports every value it had to
// correct; programmatic callers use ParseStrict, which rejects the same
// values with a ValidationError.
package parser

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
)

const (
	SortRelevance  = "relevance"
	SortDate       = "date"
	SortTitle      = "title"
	SortPopularity = "popularity"

	Asc  = "asc"
	Desc = "desc"

	// AllTypes selects every content type.
	AllTypes = "all"
)

type DateRange struct {
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`
}

func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

func (r DateRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

type Filters struct {
	ContentTypes []string  `json:"contentTypes,omitempty"`
	Categories   []string  `json:"categories,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	DateRange    DateRange `json:"dateRange,omitzero"`
	Language     string    `json:"language,omitempty"`
}

type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type Pagination struct {
	Page   int `json:"page"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type Options struct {
	FuzzyMatching    bool    `json:"fuzzyMatching"`
	TypoTolerance    int     `json:"typoTolerance"`
	HighlightResults bool    `json:"highlightResults"`
	IncludeContent   bool    `json:"includeContent"`
	MinScore         float64 `json:"minScore"`
	MaxResults       int     `json:"maxResults"`
}

// SearchQuery is the request shape accepted by the query engine.
type SearchQuery struct {
	Query      string     `json:"query"`
	Filters    Filters    `json:"filters"`
	Sort       Sort       `json:"sort"`
	Pagination Pagination `json:"pagination"`
	Options    Options    `json:"options"`
}

// Plan is a corrected query ready for execution.
type Plan struct {
	// Query is the corrected request.
	Query    SearchQuery
	Terms    []string
	Exclude  []string
	MatchAll bool
	// Types is empty when every type is searched.
	Types []index.ContentType
	// NoTypes is set when a content type filter named only unknown types.
	// Such a plan matches nothing.
	NoTypes    bool
	Categories []string
	Tags       []string
	Language   string
	// Corrections describes every value Parse replaced.
	Corrections []string
}

// Empty reports whether the query has nothing to match.
func (p *Plan) Empty() bool { return len(p.Terms) == 0 }

// Text is the normalized query text used for history and popularity.
func (p *Plan) Text() string { return strings.Join(p.Terms, " ") }

// ValidationError lists every problem ParseStrict found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid search query: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

type Parser struct {
	cfg config.SearchConfig
}

func New(cfg config.SearchConfig) *Parser {
	return &Parser{cfg: cfg}
}

// Defaults returns a query for text with the configured options applied.
// Decoding a JSON body over it keeps the defaults for omitted fields.
func (p *Parser) Defaults(text string) SearchQuery {
	return SearchQuery{
		Query:      text,
		Sort:       Sort{Field: SortRelevance, Direction: Desc},
		Pagination: Pagination{Page: 1, Limit: p.cfg.DefaultLimit},
		Options: Options{
			FuzzyMatching:    true,
			TypoTolerance:    p.cfg.TypoTolerance,
			HighlightResults: true,
			MinScore:         p.cfg.MinScore,
			MaxResults:       p.cfg.MaxResults,
		},
	}
}

// Parse corrects q to safe values and tokenizes the query text.
func (p *Parser) Parse(q SearchQuery) *Plan {
	plan := &Plan{Query: q}
	p.correct(plan)
	parseText(plan, q.Query)
	return plan
}

// ParseStrict is Parse for programmatic callers: any correction is an error.
func (p *Parser) ParseStrict(q SearchQuery) (*Plan, error) {
	plan := p.Parse(q)
	if len(plan.Corrections) > 0 {
		return nil, &ValidationError{Problems: plan.Corrections}
	}
	return plan, nil
}

func (p *Parser) correct(plan *Plan) {
	q := &plan.Query
	fix := func(format string, args ...any) {
		plan.Corrections = append(plan.Corrections, fmt.Sprintf(format, args...))
	}

	field := strings.ToLower(strings.TrimSpace(q.Sort.Field))
	switch field {
	case SortRelevance, SortDate, SortTitle, SortPopularity:
	case "":
		field = SortRelevance
	default:
		fix("sort.field %q is not supported, using %s", q.Sort.Field, SortRelevance)
		field = SortRelevance
	}
	q.Sort.Field = field

	dir := strings.ToLower(strings.TrimSpace(q.Sort.Direction))
	switch dir {
	case Asc, Desc:
	case "":
		dir = defaultDirection(field)
	default:
		fix("sort.direction %q is not supported, using %s", q.Sort.Direction, defaultDirection(field))
		dir = defaultDirection(field)
	}
	q.Sort.Direction = dir

	switch {
	case q.Pagination.Limit == 0:
		q.Pagination.Limit = p.cfg.DefaultLimit
	case q.Pagination.Limit < 0:
		fix("pagination.limit %d is negative, using %d", q.Pagination.Limit, p.cfg.DefaultLimit)
		q.Pagination.Limit = p.cfg.DefaultLimit
	case q.Pagination.Limit > p.cfg.MaxLimit:
		fix("pagination.limit %d exceeds %d", q.Pagination.Limit, p.cfg.MaxLimit)
		q.Pagination.Limit = p.cfg.MaxLimit
	}
	switch {
	case q.Pagination.Page == 0:
		q.Pagination.Page = 1
	case q.Pagination.Page < 0:
		fix("pagination.page %d is out of range, using 1", q.Pagination.Page)
		q.Pagination.Page = 1
	}
	if q.Pagination.Offset < 0 {
		fix("pagination.offset %d is negative, using 0", q.Pagination.Offset)
		q.Pagination.Offset = 0
	}

	if q.Options.MinScore < 0 || q.Options.MinScore > 1 {
		clipped := min(max(q.Options.MinScore, 0), 1)
		fix("options.minScore %v is outside [0,1], using %v", q.Options.MinScore, clipped)
		q.Options.MinScore = clipped
	}
	if q.Options.TypoTolerance < 0 || q.Options.TypoTolerance > 2 {
		clipped := min(max(q.Options.TypoTolerance, 0), 2)
		fix("options.typoTolerance %d is outside [0,2], using %d", q.Options.TypoTolerance, clipped)
		q.Options.TypoTolerance = clipped
	}
	switch {
	case q.Options.MaxResults == 0:
		q.Options.MaxResults = p.cfg.MaxResults
	case q.Options.MaxResults < 0:
		fix("options.maxResults %d is negative, using %d", q.Options.MaxResults, p.cfg.MaxResults)
		q.Options.MaxResults = p.cfg.MaxResults
	case q.Options.MaxResults > p.cfg.MaxResults:
		fix("options.maxResults %d exceeds %d", q.Options.MaxResults, p.cfg.MaxResults)
		q.Options.MaxResults = p.cfg.MaxResults
	}

	plan.Types = nil
	plan.NoTypes = false
	seen := make(map[index.ContentType]bool)
	all := false
	for _, raw := range q.Filters.ContentTypes {
		if strings.EqualFold(strings.TrimSpace(raw), AllTypes) {
			all = true
			continue
		}
		t, ok := index.ParseContentType(raw)
		if !ok {
			fix("filters.contentTypes: unknown type %q ignored", raw)
			continue
		}
		if !seen[t] {
			seen[t] = true
			plan.Types = append(plan.Types, t)
		}
	}
	switch {
	case all:
		plan.Types = nil
	case len(q.Filters.ContentTypes) > 0 && len(plan.Types) == 0:
		plan.NoTypes = true
		fix("filters.contentTypes: no known type requested, nothing matches")
	}
	slices.Sort(plan.Types)

	plan.Categories = normalizeSet(q.Filters.Categories)
	plan.Tags = normalizeSet(q.Filters.Tags)
	plan.Language = tokenizer.Normalize(q.Filters.Language)

	r := &q.Filters.DateRange
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		fix("filters.dateRange: from is after to, bounds swapped")
		r.From, r.To = r.To, r.From
	}
}

func defaultDirection(field string) string {
	if field == SortTitle {
		return Asc
	}
	return Desc
}

// parseText splits the query into match and exclude terms. NOT or a leading
// '-' excludes the next word; an uppercase AND requires every term to match.
func parseText(plan *Plan, text string) {
	words := strings.Fields(text)
	excludeNext := false
	seen := make(map[string]bool)
	var exclude []string
	for _, word := range words {
		switch word {
		case "AND":
			plan.MatchAll = true
			continue
		case "OR":
			plan.MatchAll = false
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		negate := excludeNext
		if len(word) > 1 && word[0] == '-' {
			negate = true
			word = word[1:]
		}
		excludeNext = false
		for _, term := range tokenizer.Terms(word) {
			if negate {
				exclude = append(exclude, term)
				continue
			}
			if !seen[term] {
				seen[term] = true
				plan.Terms = append(plan.Terms, term)
			}
		}
	}
	for _, term := range exclude {
		if slices.Contains(plan.Exclude, term) {
			continue
		}
		plan.Exclude = append(plan.Exclude, term)
		plan.Terms = slices.DeleteFunc(plan.Terms, func(t string) bool { return t == term })
	}
	if len(plan.Terms) == 0 {
		plan.Terms = nil
	}
}

func normalizeSet(values []string) []string {
	var out []string
	for _, v := range values {
		n := tokenizer.Normalize(v)
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// Canonical renders the plan in a stable form: two plans with the same
// canonical string always produce the same response on the same index.
func (p *Plan) Canonical() string {
	q := p.Query
	types := make([]string, len(p.Types))
	for i, t := range p.Types {
		types[i] = string(t)
	}
	parts := []string{
		"t=" + strings.Join(p.Terms, ","),
		"x=" + strings.Join(p.Exclude, ","),
		"all=" + strconv.FormatBool(p.MatchAll),
		"types=" + strings.Join(types, ",") + ";none=" + strconv.FormatBool(p.NoTypes),
		"cat=" + strings.Join(p.Categories, ","),
		"tags=" + strings.Join(p.Tags, ","),
		"lang=" + p.Language,
		"from=" + formatTime(q.Filters.DateRange.From),
		"to=" + formatTime(q.Filters.DateRange.To),
		"sort=" + q.Sort.Field + ":" + q.Sort.Direction,
		fmt.Sprintf("page=%d,%d,%d", q.Pagination.Page, q.Pagination.Limit, q.Pagination.Offset),
		fmt.Sprintf("opt=%t,%d,%t,%t,%s,%d",
			q.Options.FuzzyMatching, q.Options.TypoTolerance, q.Options.HighlightResults,
			q.Options.IncludeContent, strconv.FormatFloat(q.Options.MinScore, 'g', -1, 64), q.Options.MaxResults),
	}
	return strings.Join(parts, "|")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
