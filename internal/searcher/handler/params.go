package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
)

// queryFromValues builds a SearchQuery from URL parameters on top of the
// configured defaults. Values that cannot be parsed at all are errors;
// values that parse but are out of range are left to the parser to correct.
func queryFromValues(p *parser.Parser, v url.Values) (parser.SearchQuery, error) {
	q := p.Defaults(v.Get("q"))
	var problems *multierror.Error

	q.Filters.ContentTypes = list(v, "type")
	q.Filters.Categories = list(v, "category")
	q.Filters.Tags = list(v, "tag")
	q.Filters.Language = v.Get("lang")

	if s := v.Get("from"); s != "" {
		t, err := parseDate(s, false)
		problems = multierror.Append(problems, err)
		q.Filters.DateRange.From = t
	}
	if s := v.Get("to"); s != "" {
		t, err := parseDate(s, true)
		problems = multierror.Append(problems, err)
		q.Filters.DateRange.To = t
	}

	if s := v.Get("sort"); s != "" {
		q.Sort.Field = s
		q.Sort.Direction = ""
	}
	if s := v.Get("dir"); s != "" {
		q.Sort.Direction = s
	}

	intParam(v, "page", &q.Pagination.Page, &problems)
	intParam(v, "limit", &q.Pagination.Limit, &problems)
	intParam(v, "offset", &q.Pagination.Offset, &problems)
	intParam(v, "typo", &q.Options.TypoTolerance, &problems)
	boolParam(v, "fuzzy", &q.Options.FuzzyMatching, &problems)
	boolParam(v, "highlight", &q.Options.HighlightResults, &problems)
	boolParam(v, "content", &q.Options.IncludeContent, &problems)
	if s := v.Get("min_score"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			problems = multierror.Append(problems, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "min_score: %q is not a number", s))
		}
		q.Options.MinScore = f
	}

	if err := problems.ErrorOrNil(); err != nil {
		return q, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, flatten(err))
	}
	return q, nil
}

// list accepts both repeated and comma-separated values.
func list(v url.Values, key string) []string {
	var out []string
	for _, raw := range v[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain date used
// as an upper bound covers the whole day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%q is not a date", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func intParam(v url.Values, key string, dst *int, problems **multierror.Error) {
	s := v.Get(key)
	if s == "" {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*problems = multierror.Append(*problems, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s: %q is not an integer", key, s))
		return
	}
	*dst = n
}

func boolParam(v url.Values, key string, dst *bool, problems **multierror.Error) {
	s := v.Get(key)
	if s == "" {
		return
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		*problems = multierror.Append(*problems, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s: %q is not a boolean", key, s))
		return
	}
	*dst = b
}

func flatten(err error) string {
	var merr *multierror.Error
	if me, ok := err.(*multierror.Error); ok {
		merr = me
	}
	if merr == nil {
		return err.Error()
	}
	msgs := make([]string, 0, len(merr.Errors))
	for _, e := range merr.Errors {
		if ae, ok := e.(*apperrors.AppError); ok {
			msgs = append(msgs, ae.Message)
			continue
		}
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}
