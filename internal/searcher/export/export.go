// Package export writes search result sets as CSV or JSON downloads.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
)

type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
)

// Header is the CSV column order.
var Header = []string{
	"id", "type", "title", "description", "url", "score",
	"category", "location", "company", "created_at", "tags",
}

// ParseFormat accepts "csv" or "json" in any case; empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", CSV:
		return CSV, nil
	case JSON:
		return JSON, nil
	default:
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unsupported export format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == JSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// Filename names the download, e.g. search-results-20250301-150405.csv.
func (f Format) Filename(now time.Time) string {
	return fmt.Sprintf("search-results-%s.%s", now.UTC().Format("20060102-150405"), f)
}

// Select keeps the items named in refs, preserving result order. A ref is
// either "type/id" or a bare id matching any type. Empty refs keeps all.
func Select(items []executor.Item, refs []string) []executor.Item {
	if len(refs) == 0 {
		return items
	}
	want := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" {
			want[r] = struct{}{}
		}
	}
	out := make([]executor.Item, 0, len(want))
	for _, it := range items {
		_, byRef := want[it.Ref().String()]
		_, byID := want[it.ID]
		if byRef || byID {
			out = append(out, it)
		}
	}
	return out
}

// Write encodes items to w in the given format.
func Write(w io.Writer, format Format, items []executor.Item) error {
	switch format {
	case JSON:
		return writeJSON(w, items)
	case CSV:
		return writeCSV(w, items)
	default:
		return fmt.Errorf("export: unknown format %q", format)
	}
}

func writeJSON(w io.Writer, items []executor.Item) error {
	if items == nil {
		items = []executor.Item{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding json export: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, items []executor.Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, it := range items {
		var created string
		if !it.Metadata.CreatedAt.IsZero() {
			created = it.Metadata.CreatedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			it.ID,
			string(it.Type),
			it.Title,
			it.Description,
			it.URL,
			strconv.FormatFloat(it.Score, 'f', 4, 64),
			it.Metadata.Category,
			it.Metadata.Location,
			it.Metadata.Company,
			created,
			strings.Join(it.Tags, ";"),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row %s: %w", it.Ref(), err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv export: %w", err)
	}
	return nil
}
