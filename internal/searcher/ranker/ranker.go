// Package ranker matches query terms against an index snapshot and scores
// the candidate documents.
//
// Each query term contributes, per document, the best of its variants: the
// exact term, fuzzy vocabulary neighbours and (for the last term of a
// suggestion query) prefix completions. A variant contributes
//
//	scale × Σ fieldWeight × ln(1 + frequency)
//
// over the fields it occurs in, where scale is 1 for exact hits,
// 1 - d/maxLen for fuzzy hits and len(q)/len(term) for completions. The raw
// sum is squashed into [0,1) and blended with a small recency bonus.
package ranker

import (
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
)

const (
	relevanceWeight = 0.95
	recencyWeight   = 0.05
	// recencyHalfLife is the age, in days, at which the recency bonus halves.
	recencyHalfLife = 30.0
	maxExpansions   = 50
	// MaxTypoTolerance is the largest edit distance ever accepted.
	MaxTypoTolerance = 2
)

// Options controls matching.
type Options struct {
	Fuzzy         bool
	TypoTolerance int
	// Prefix lets the last query term match vocabulary terms it prefixes.
	Prefix bool
	// MatchAll drops documents that miss any query term.
	MatchAll bool
	// Types restricts candidates; empty means every type.
	Types []index.ContentType
}

// Match is one scored candidate.
type Match struct {
	Doc   *index.Document
	Score float64
	// Terms are the vocabulary terms that matched, for highlighting.
	Terms []string
}

func (m Match) Ref() index.DocRef { return m.Doc.Ref() }

// Result is the outcome of Rank.
type Result struct {
	Matches []Match
	// Corrections maps query terms that had no exact entry to the closest
	// vocabulary term accepted by fuzzy matching.
	Corrections map[string]string
}

// AllowedDistance returns the edit distance accepted for a term of n runes:
// none below 4 runes, 1 up to 7 and 2 from 8, capped by tolerance.
func AllowedDistance(n int, tolerance int) int {
	var d int
	switch {
	case n < 4:
		d = 0
	case n < 8:
		d = 1
	default:
		d = 2
	}
	return min(d, max(tolerance, 0), MaxTypoTolerance)
}

type candidate struct {
	doc      *index.Document
	raw      float64
	terms    map[string]struct{}
	termBest []float64
}

type variant struct {
	term  string
	scale float64
}

// Rank matches terms against snap and returns candidates in ranking order:
// score desc, CreatedAt desc, type asc, id asc. Documents containing any
// exclude term are dropped.
func Rank(snap *index.Snapshot, terms []string, exclude []string, opts Options) Result {
	res := Result{Corrections: make(map[string]string)}
	if len(terms) == 0 {
		return res
	}
	allowed := typeSet(opts.Types)
	cands := make(map[index.DocRef]*candidate)

	for i, q := range terms {
		type scored struct {
			v       variant
			contrib map[index.DocRef]float64
		}
		exact := contributions(snap.Postings(q), allowed)
		matched := []scored{{variant{term: q, scale: 1}, exact}}
		if len(exact) == 0 && opts.Fuzzy {
			for _, v := range fuzzyVariants(snap, q, opts.TypoTolerance) {
				contrib := contributions(snap.Postings(v.term), allowed)
				if len(contrib) == 0 {
					continue
				}
				if _, ok := res.Corrections[q]; !ok {
					res.Corrections[q] = v.term
				}
				matched = append(matched, scored{v, contrib})
			}
		}
		if opts.Prefix && i == len(terms)-1 && utf8.RuneCountInString(q) >= 2 {
			ql := float64(utf8.RuneCountInString(q))
			for _, term := range snap.TermsWithPrefix(q, maxExpansions) {
				if term == q {
					continue
				}
				v := variant{term: term, scale: ql / float64(utf8.RuneCountInString(term))}
				matched = append(matched, scored{v, contributions(snap.Postings(term), allowed)})
			}
		}

		for _, m := range matched {
			for ref, contrib := range m.contrib {
				c := cands[ref]
				if c == nil {
					doc, ok := snap.Document(ref)
					if !ok {
						continue
					}
					c = &candidate{doc: doc, terms: make(map[string]struct{}), termBest: make([]float64, len(terms))}
					cands[ref] = c
				}
				c.terms[m.v.term] = struct{}{}
				if s := m.v.scale * contrib; s > c.termBest[i] {
					c.termBest[i] = s
				}
			}
		}
	}

	for _, term := range exclude {
		for _, p := range snap.Postings(term) {
			delete(cands, p.Ref)
		}
	}

	newest := snap.Newest()
	norm := float64(len(terms)) * index.TitleWeight * math.Ln2
	res.Matches = make([]Match, 0, len(cands))
	for _, c := range cands {
		missing := false
		for _, best := range c.termBest {
			c.raw += best
			missing = missing || best == 0
		}
		if opts.MatchAll && missing {
			continue
		}
		relevance := 1 - math.Exp(-c.raw/norm)
		score := relevanceWeight*relevance + recencyWeight*Recency(c.doc.Metadata.CreatedAt, newest)
		matched := make([]string, 0, len(c.terms))
		for term := range c.terms {
			matched = append(matched, term)
		}
		slices.Sort(matched)
		res.Matches = append(res.Matches, Match{Doc: c.doc, Score: round(score), Terms: matched})
	}
	SortByRelevance(res.Matches)
	return res
}

// contributions sums weight × ln(1+freq) per document over the fields in
// list.
func contributions(list index.PostingList, allowed map[index.ContentType]bool) map[index.DocRef]float64 {
	out := make(map[index.DocRef]float64)
	for _, p := range list {
		if allowed != nil && !allowed[p.Ref.Type] {
			continue
		}
		out[p.Ref] += p.Field.Weight() * math.Log1p(float64(p.Frequency))
	}
	return out
}

// fuzzyVariants returns vocabulary terms within the allowed edit distance
// of q, closest first.
func fuzzyVariants(snap *index.Snapshot, q string, tolerance int) []variant {
	n := utf8.RuneCountInString(q)
	maxD := AllowedDistance(n, tolerance)
	if maxD == 0 {
		return nil
	}
	type hit struct {
		term string
		d    int
	}
	var hits []hit
	for l := n - maxD; l <= n+maxD; l++ {
		if AllowedDistance(l, tolerance) == 0 {
			continue
		}
		limit := min(maxD, AllowedDistance(l, tolerance))
		for _, term := range snap.TermsOfLength(l) {
			if d := levenshtein.ComputeDistance(q, term); d > 0 && d <= limit {
				hits = append(hits, hit{term: term, d: d})
			}
		}
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if a.d != b.d {
			return a.d - b.d
		}
		return strings.Compare(a.term, b.term)
	})
	out := make([]variant, 0, len(hits))
	for _, h := range hits {
		longest := max(n, utf8.RuneCountInString(h.term))
		out = append(out, variant{term: h.term, scale: 1 - float64(h.d)/float64(longest)})
	}
	return out
}

// Recency is 1 for the newest document and decays hyperbolically with the
// age relative to newest. Unknown dates score 0.
func Recency(createdAt, newest time.Time) float64 {
	if createdAt.IsZero() || newest.IsZero() {
		return 0
	}
	ageDays := newest.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 1 / (1 + ageDays/recencyHalfLife)
}

// SortByRelevance orders matches by score desc, then newer first, then type
// and id ascending.
func SortByRelevance(ms []Match) {
	slices.SortStableFunc(ms, func(a, b Match) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return TieBreak(a, b)
	})
}

// TieBreak orders equally scored matches: newer first, then type and id
// ascending.
func TieBreak(a, b Match) int {
	ta, tb := a.Doc.Metadata.CreatedAt, b.Doc.Metadata.CreatedAt
	if !ta.Equal(tb) {
		if ta.After(tb) {
			return -1
		}
		return 1
	}
	if a.Doc.Type != b.Doc.Type {
		return strings.Compare(string(a.Doc.Type), string(b.Doc.Type))
	}
	return strings.Compare(a.Doc.ID, b.Doc.ID)
}

func round(score float64) float64 {
	score = math.Round(score*10000) / 10000
	return math.Min(1, math.Max(0, score))
}

func typeSet(types []index.ContentType) map[index.ContentType]bool {
	if len(types) == 0 {
		return nil
	}
	set := make(map[index.ContentType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}
