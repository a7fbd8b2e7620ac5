package index

import (
	"html"
	"slices"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/tokenizer"
)

// Field names the part of a document a term was found in.
type Field uint8

const (
	FieldTitle Field = iota
	FieldTags
	FieldDescription
	FieldContent
)

// Fields lists the indexed fields from most to least important.
var Fields = []Field{FieldTitle, FieldTags, FieldDescription, FieldContent}

// Field weights. A title hit always outweighs any other single field hit.
const (
	TitleWeight       = 4.0
	TagsWeight        = 3.0
	DescriptionWeight = 2.0
	ContentWeight     = 1.0
)

func (f Field) Weight() float64 {
	switch f {
	case FieldTitle:
		return TitleWeight
	case FieldTags:
		return TagsWeight
	case FieldDescription:
		return DescriptionWeight
	default:
		return ContentWeight
	}
}

func (f Field) String() string {
	switch f {
	case FieldTitle:
		return "title"
	case FieldTags:
		return "tags"
	case FieldDescription:
		return "description"
	default:
		return "content"
	}
}

// Posting records one (term, document, field) occurrence set. A document
// contributes at most one posting per field to a term's list.
type Posting struct {
	Ref       DocRef
	Field     Field
	Frequency int
	Positions []int
}

// PostingList is kept sorted by (Type, ID, Field).
type PostingList []Posting

func comparePostings(a, b Posting) int {
	if a.Ref.Type != b.Ref.Type {
		return strings.Compare(string(a.Ref.Type), string(b.Ref.Type))
	}
	if a.Ref.ID != b.Ref.ID {
		return strings.Compare(a.Ref.ID, b.Ref.ID)
	}
	return int(a.Field) - int(b.Field)
}

func (l PostingList) sort() {
	slices.SortFunc(l, comparePostings)
}

var policyPool = sync.Pool{
	New: func() any {
		return bluemonday.StrictPolicy()
	},
}

// StripHTML removes markup from rich-text bodies and unescapes entities.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	policy := policyPool.Get().(*bluemonday.Policy)
	defer policyPool.Put(policy)
	return html.UnescapeString(policy.Sanitize(s))
}

// analyze tokenizes every indexed field of doc and groups the occurrences
// into postings keyed by term.
func analyze(doc *Document) map[string][]Posting {
	out := make(map[string][]Posting)
	add := func(field Field, tokens []tokenizer.Token) {
		byTerm := make(map[string]int)
		for _, tok := range tokens {
			i, ok := byTerm[tok.Term]
			if !ok {
				out[tok.Term] = append(out[tok.Term], Posting{Ref: doc.Ref(), Field: field})
				i = len(out[tok.Term]) - 1
				byTerm[tok.Term] = i
			}
			p := &out[tok.Term][i]
			p.Frequency++
			p.Positions = append(p.Positions, tok.Position)
		}
	}

	add(FieldTitle, tokenizer.Tokenize(doc.Title))
	add(FieldDescription, tokenizer.Tokenize(doc.Description))
	add(FieldContent, tokenizer.Tokenize(StripHTML(doc.Content)))

	var tagTokens []tokenizer.Token
	for _, tag := range doc.Tags {
		for _, tok := range tokenizer.Tokenize(tag) {
			tok.Position = len(tagTokens)
			tagTokens = append(tagTokens, tok)
		}
	}
	add(FieldTags, tagTokens)
	return out
}
