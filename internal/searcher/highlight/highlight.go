// Package highlight extracts short snippets around matched terms and marks
// the matches with <em> tags. Snippets are HTML: markup in the source text is
// stripped and everything outside the marks is escaped.
package highlight

import (
	"html"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/tokenizer"
)

const (
	openTag  = "<em>"
	closeTag = "</em>"
	ellipsis = "..."

	DefaultWindow = 60
)

// Highlight is a marked snippet of one document field.
type Highlight struct {
	Field   string `json:"field"`
	Snippet string `json:"snippet"`
}

type Highlighter struct {
	window int
}

// New returns a Highlighter producing snippets of about window runes.
func New(window int) *Highlighter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Highlighter{window: window}
}

// Highlights returns a snippet for each of title and description that
// contains one of terms. terms must already be normalized.
func (h *Highlighter) Highlights(doc *index.Document, terms []string) []Highlight {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[t] = true
	}
	var out []Highlight
	for _, f := range []struct {
		field index.Field
		text  string
	}{
		{index.FieldTitle, doc.Title},
		{index.FieldDescription, doc.Description},
	} {
		if snippet, ok := h.snippet(f.text, set); ok {
			out = append(out, Highlight{Field: f.field.String(), Snippet: snippet})
		}
	}
	return out
}

// Snippet marks terms in text around their first occurrence.
func (h *Highlighter) Snippet(text string, terms []string) (string, bool) {
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[t] = true
	}
	return h.snippet(text, set)
}

type span struct{ start, end int }

func (h *Highlighter) snippet(text string, terms map[string]bool) (string, bool) {
	if text == "" || len(terms) == 0 {
		return "", false
	}
	plain := []rune(index.StripHTML(text))
	var hits []span
	for _, w := range wordSpans(plain) {
		if terms[tokenizer.Normalize(string(plain[w.start:w.end]))] {
			hits = append(hits, w)
		}
	}
	if len(hits) == 0 {
		return "", false
	}

	start, end := h.bounds(plain, hits[0])
	var b strings.Builder
	if start > 0 {
		b.WriteString(ellipsis)
	}
	pos := start
	for _, hit := range hits {
		if hit.start < start || hit.end > end {
			continue
		}
		b.WriteString(html.EscapeString(string(plain[pos:hit.start])))
		b.WriteString(openTag)
		b.WriteString(html.EscapeString(string(plain[hit.start:hit.end])))
		b.WriteString(closeTag)
		pos = hit.end
	}
	b.WriteString(html.EscapeString(string(plain[pos:end])))
	if end < len(plain) {
		b.WriteString(ellipsis)
	}
	return b.String(), true
}

// bounds picks a window of at most h.window runes around hit, trimmed to
// whole words. The hit itself is always included.
func (h *Highlighter) bounds(text []rune, hit span) (int, int) {
	if len(text) <= h.window {
		return 0, len(text)
	}
	lead := max((h.window-(hit.end-hit.start))/2, 0)
	start := max(hit.start-lead, 0)
	end := max(min(start+h.window, len(text)), hit.end)
	start = min(start, max(end-h.window, 0))

	for start > 0 && start < hit.start && !unicode.IsSpace(text[start-1]) {
		start++
	}
	for end < len(text) && end > hit.end && !unicode.IsSpace(text[end]) {
		end--
	}
	for start < hit.start && unicode.IsSpace(text[start]) {
		start++
	}
	for end > hit.end && unicode.IsSpace(text[end-1]) {
		end--
	}
	return start, end
}

func wordSpans(text []rune) []span {
	var spans []span
	start := -1
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			spans = append(spans, span{start, i})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}
