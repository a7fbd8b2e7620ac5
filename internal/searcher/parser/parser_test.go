package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
)

func newParser() *Parser {
	return New(config.Default().Search)
}

func TestParseTerms(t *testing.T) {
	p := newParser()
	tests := []struct {
		name     string
		query    string
		terms    []string
		exclude  []string
		matchAll bool
	}{
		{"single", "Data", []string{"data"}, nil, false},
		{"accents", "Científica  de DATOS", []string{"cientifica", "de", "datos"}, nil, false},
		{"duplicates", "data data science", []string{"data", "science"}, nil, false},
		{"not operator", "data NOT intern", []string{"data"}, []string{"intern"}, false},
		{"dash exclude", "data -intern", []string{"data"}, []string{"intern"}, false},
		{"and", "data AND science", []string{"data", "science"}, nil, true},
		{"lowercase and is a word", "research and development", []string{"research", "and", "development"}, nil, false},
		{"excluded wins", "data -data", nil, []string{"data"}, false},
		{"split punctuation", "e-learning", []string{"learning"}, nil, false},
		{"empty", "   ", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := p.Parse(p.Defaults(tt.query))
			assert.Equal(t, tt.terms, plan.Terms)
			assert.Equal(t, tt.exclude, plan.Exclude)
			assert.Equal(t, tt.matchAll, plan.MatchAll)
		})
	}
}

func TestParseDefaults(t *testing.T) {
	p := newParser()
	plan := p.Parse(SearchQuery{Query: "data"})
	q := plan.Query
	assert.Equal(t, SortRelevance, q.Sort.Field)
	assert.Equal(t, Desc, q.Sort.Direction)
	assert.Equal(t, 1, q.Pagination.Page)
	assert.Equal(t, 10, q.Pagination.Limit)
	assert.Equal(t, 1000, q.Options.MaxResults)
	assert.Empty(t, plan.Corrections)
}

func TestParseCorrectsBadValues(t *testing.T) {
	p := newParser()
	q := p.Defaults("data")
	q.Sort = Sort{Field: "salary", Direction: "sideways"}
	q.Pagination = Pagination{Page: -3, Limit: 500, Offset: -1}
	q.Options.MinScore = 1.5
	q.Options.TypoTolerance = 7
	q.Filters.ContentTypes = []string{"jobs", "spaceships"}

	plan := p.Parse(q)
	assert.Equal(t, SortRelevance, plan.Query.Sort.Field)
	assert.Equal(t, Desc, plan.Query.Sort.Direction)
	assert.Equal(t, 1, plan.Query.Pagination.Page)
	assert.Equal(t, 100, plan.Query.Pagination.Limit)
	assert.Equal(t, 0, plan.Query.Pagination.Offset)
	assert.Equal(t, 1.0, plan.Query.Options.MinScore)
	assert.Equal(t, 2, plan.Query.Options.TypoTolerance)
	assert.Equal(t, []index.ContentType{index.Jobs}, plan.Types)
	assert.Len(t, plan.Corrections, 8)
}

func TestParseTitleSortDefaultsAscending(t *testing.T) {
	p := newParser()
	q := p.Defaults("data")
	q.Sort = Sort{Field: "Title"}
	plan := p.Parse(q)
	assert.Equal(t, Sort{Field: SortTitle, Direction: Asc}, plan.Query.Sort)
}

func TestParseContentTypes(t *testing.T) {
	p := newParser()
	q := p.Defaults("x")
	q.Filters.ContentTypes = []string{"Events", "jobs", "events"}
	assert.Equal(t, []index.ContentType{index.Events, index.Jobs}, p.Parse(q).Types)

	q.Filters.ContentTypes = []string{"jobs", "all"}
	assert.Empty(t, p.Parse(q).Types)
	assert.False(t, p.Parse(q).NoTypes)
}

func TestParseOnlyUnknownContentTypesMatchesNothing(t *testing.T) {
	p := newParser()
	q := p.Defaults("data")
	q.Filters.ContentTypes = []string{"job"}

	plan := p.Parse(q)
	assert.Empty(t, plan.Types)
	assert.True(t, plan.NoTypes)
	assert.Len(t, plan.Corrections, 2)

	unfiltered := p.Parse(p.Defaults("data"))
	assert.False(t, unfiltered.NoTypes)
	assert.NotEqual(t, unfiltered.Canonical(), plan.Canonical())
}

func TestParseSwapsInvertedDateRange(t *testing.T) {
	p := newParser()
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	q := p.Defaults("x")
	q.Filters.DateRange = DateRange{From: to, To: from}

	plan := p.Parse(q)
	assert.Equal(t, DateRange{From: from, To: to}, plan.Query.Filters.DateRange)
	assert.Len(t, plan.Corrections, 1)
}

func TestParseStrict(t *testing.T) {
	p := newParser()
	plan, err := p.ParseStrict(p.Defaults("data"))
	require.NoError(t, err)
	assert.Equal(t, []string{"data"}, plan.Terms)

	q := p.Defaults("data")
	q.Pagination.Limit = -1
	_, err = p.ParseStrict(q)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 400, apperrors.HTTPStatusCode(err))
}

func TestCanonicalIgnoresSpellingVariants(t *testing.T) {
	p := newParser()
	a := p.Defaults("Café  Jobs")
	a.Filters.Tags = []string{"Go", "remote"}
	b := p.Defaults("cafe jobs")
	b.Filters.Tags = []string{"remote", "go", "GO"}
	assert.Equal(t, p.Parse(a).Canonical(), p.Parse(b).Canonical())

	c := p.Defaults("cafe jobs")
	c.Pagination.Page = 2
	assert.NotEqual(t, p.Parse(a).Canonical(), p.Parse(c).Canonical())
}

func TestCanonicalKeepsFullMinScorePrecision(t *testing.T) {
	p := newParser()
	a := p.Defaults("data")
	a.Options.MinScore = 0.12346
	b := p.Defaults("data")
	b.Options.MinScore = 0.12351
	assert.NotEqual(t, p.Parse(a).Canonical(), p.Parse(b).Canonical())

	c := p.Defaults("data")
	c.Options.MinScore = 0.12346
	assert.Equal(t, p.Parse(a).Canonical(), p.Parse(c).Canonical())
}

func TestDateRangeContainsIsInclusive(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	r := DateRange{From: from, To: to}
	assert.True(t, r.Contains(from))
	assert.True(t, r.Contains(to))
	assert.False(t, r.Contains(to.Add(time.Second)))
	assert.True(t, DateRange{}.Contains(time.Time{}))
}
