// Package index holds the in-memory inverted index. Readers work on an
// immutable Snapshot; writers build the next snapshot inside a Txn and publish
// it with a single pointer swap, so a search sees either the whole write or
// none of it.
package index

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Snapshot is an immutable view of the index. Slices returned by its
// accessors are shared and must not be modified.
type Snapshot struct {
	postings map[string]PostingList
	docs     map[DocRef]*Document
	docTerms map[DocRef][]string
	counts   map[ContentType]int
	// buckets groups the vocabulary by rune length for fuzzy lookups.
	buckets    map[int][]string
	terms      []string
	newest     time.Time
	generation uint64
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		postings: make(map[string]PostingList),
		docs:     make(map[DocRef]*Document),
		docTerms: make(map[DocRef][]string),
		counts:   make(map[ContentType]int),
		buckets:  make(map[int][]string),
	}
}

// Generation increases by one with every committed write.
func (s *Snapshot) Generation() uint64 { return s.generation }

func (s *Snapshot) Postings(term string) PostingList { return s.postings[term] }

func (s *Snapshot) Document(ref DocRef) (*Document, bool) {
	d, ok := s.docs[ref]
	return d, ok
}

func (s *Snapshot) Len() int { return len(s.docs) }

func (s *Snapshot) TermCount() int { return len(s.terms) }

func (s *Snapshot) Count(t ContentType) int { return s.counts[t] }

// Counts returns the number of documents per content type.
func (s *Snapshot) Counts() map[ContentType]int { return maps.Clone(s.counts) }

// Newest is the latest CreatedAt of any indexed document; recency is
// measured against it so scores do not drift with wall-clock time.
func (s *Snapshot) Newest() time.Time { return s.newest }

// TermsOfLength returns the sorted vocabulary terms with exactly n runes.
func (s *Snapshot) TermsOfLength(n int) []string { return s.buckets[n] }

// TermsWithPrefix returns up to limit vocabulary terms that start with
// prefix, in lexicographic order. A non-positive limit means no limit.
func (s *Snapshot) TermsWithPrefix(prefix string, limit int) []string {
	i, _ := slices.BinarySearch(s.terms, prefix)
	var out []string
	for ; i < len(s.terms) && strings.HasPrefix(s.terms[i], prefix); i++ {
		out = append(out, s.terms[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Documents returns the documents of type t ordered by ID.
func (s *Snapshot) Documents(t ContentType) []*Document {
	out := make([]*Document, 0, s.counts[t])
	for ref, d := range s.docs {
		if ref.Type == t {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b *Document) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// MemoryIndex publishes snapshots. Writes are serialized; reads are lock-free.
type MemoryIndex struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func NewMemoryIndex() *MemoryIndex {
	m := &MemoryIndex{}
	m.current.Store(emptySnapshot())
	return m
}

// Snapshot returns the latest committed snapshot.
func (m *MemoryIndex) Snapshot() *Snapshot {
	return m.current.Load()
}

// Update runs fn against a new transaction. If fn returns nil the changes are
// committed and the resulting snapshot is published; otherwise they are
// discarded and the index is unchanged. A transaction that changed nothing
// publishes nothing and returns the current snapshot.
func (m *MemoryIndex) Update(fn func(tx *Txn) error) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.current.Load()
	tx := &Txn{base: base, vocabBase: base, owned: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		return base, err
	}
	if tx.next == nil {
		return base, nil
	}
	next := tx.commit()
	m.current.Store(next)
	return next, nil
}

// Txn accumulates changes to the next snapshot. It must not be used after
// the Update callback returns.
type Txn struct {
	base      *Snapshot
	vocabBase *Snapshot
	next      *Snapshot
	// owned holds the terms whose posting lists were already copied into next.
	owned       map[string]struct{}
	newestDirty bool
}

// Base returns the snapshot the transaction started from.
func (tx *Txn) Base() *Snapshot { return tx.base }

func (tx *Txn) prepare() {
	if tx.next != nil {
		return
	}
	b := tx.base
	tx.next = &Snapshot{
		postings:   maps.Clone(b.postings),
		docs:       maps.Clone(b.docs),
		docTerms:   maps.Clone(b.docTerms),
		counts:     maps.Clone(b.counts),
		buckets:    maps.Clone(b.buckets),
		terms:      b.terms,
		newest:     b.newest,
		generation: b.generation,
	}
}

// Reset empties the next snapshot so a full rebuild can start from scratch.
func (tx *Txn) Reset() {
	tx.next = emptySnapshot()
	tx.next.generation = tx.base.generation
	tx.vocabBase = emptySnapshot()
	tx.owned = make(map[string]struct{})
	tx.newestDirty = false
}

// Has reports whether ref is present in the pending state.
func (tx *Txn) Has(ref DocRef) bool {
	if tx.next == nil {
		_, ok := tx.base.docs[ref]
		return ok
	}
	_, ok := tx.next.docs[ref]
	return ok
}

// Put validates doc and inserts it, replacing any earlier version with the
// same (type, id).
func (tx *Txn) Put(doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	tx.prepare()

	d := doc.clone()
	ref := d.Ref()
	tx.remove(ref)

	groups := analyze(d)
	terms := make([]string, 0, len(groups))
	for term, postings := range groups {
		tx.next.postings[term] = append(tx.own(term), postings...)
		terms = append(terms, term)
	}
	slices.Sort(terms)

	tx.next.docs[ref] = d
	tx.next.docTerms[ref] = terms
	tx.next.counts[d.Type]++
	if d.Metadata.CreatedAt.After(tx.next.newest) {
		tx.next.newest = d.Metadata.CreatedAt
	}
	return nil
}

// Delete removes ref and reports whether it was present.
func (tx *Txn) Delete(ref DocRef) bool {
	if !tx.Has(ref) {
		return false
	}
	tx.prepare()
	return tx.remove(ref)
}

// DeleteType removes every document of type t and returns how many there were.
func (tx *Txn) DeleteType(t ContentType) int {
	src := tx.base
	if tx.next != nil {
		src = tx.next
	}
	if src.counts[t] == 0 {
		return 0
	}
	tx.prepare()
	var refs []DocRef
	for ref := range tx.next.docs {
		if ref.Type == t {
			refs = append(refs, ref)
		}
	}
	for _, ref := range refs {
		tx.remove(ref)
	}
	return len(refs)
}

func (tx *Txn) remove(ref DocRef) bool {
	doc, ok := tx.next.docs[ref]
	if !ok {
		return false
	}
	for _, term := range tx.next.docTerms[ref] {
		list := tx.own(term)
		kept := list[:0]
		for _, p := range list {
			if p.Ref != ref {
				kept = append(kept, p)
			}
		}
		tx.next.postings[term] = kept
	}
	delete(tx.next.docs, ref)
	delete(tx.next.docTerms, ref)
	if tx.next.counts[ref.Type] <= 1 {
		delete(tx.next.counts, ref.Type)
	} else {
		tx.next.counts[ref.Type]--
	}
	if !doc.Metadata.CreatedAt.IsZero() && !doc.Metadata.CreatedAt.Before(tx.next.newest) {
		tx.newestDirty = true
	}
	return true
}

// own returns a private copy of term's posting list, copying it from the
// base snapshot the first time the term is touched.
func (tx *Txn) own(term string) PostingList {
	if _, ok := tx.owned[term]; ok {
		return tx.next.postings[term]
	}
	tx.owned[term] = struct{}{}
	list := slices.Clone(tx.next.postings[term])
	tx.next.postings[term] = list
	return list
}

func (tx *Txn) commit() *Snapshot {
	next := tx.next
	added := make(map[int][]string)
	removed := make(map[string]struct{})
	dirty := make(map[int]struct{})

	for term := range tx.owned {
		list := next.postings[term]
		if len(list) == 0 {
			delete(next.postings, term)
		} else {
			list.sort()
		}
		_, before := tx.vocabBase.postings[term]
		_, now := next.postings[term]
		n := utf8.RuneCountInString(term)
		switch {
		case now && !before:
			added[n] = append(added[n], term)
			dirty[n] = struct{}{}
		case before && !now:
			removed[term] = struct{}{}
			dirty[n] = struct{}{}
		}
	}

	if len(dirty) > 0 {
		var all []string
		for n := range dirty {
			slices.Sort(added[n])
			all = append(all, added[n]...)
			bucket := mergeTerms(tx.vocabBase.buckets[n], added[n], removed)
			if len(bucket) == 0 {
				delete(next.buckets, n)
			} else {
				next.buckets[n] = bucket
			}
		}
		slices.Sort(all)
		next.terms = mergeTerms(tx.vocabBase.terms, all, removed)
	}

	if tx.newestDirty {
		next.newest = time.Time{}
		for _, d := range next.docs {
			if d.Metadata.CreatedAt.After(next.newest) {
				next.newest = d.Metadata.CreatedAt
			}
		}
	}

	next.generation = tx.base.generation + 1
	return next
}

// mergeTerms merges the sorted slices base and add, skipping anything in
// remove. The result is a new slice.
func mergeTerms(base, add []string, remove map[string]struct{}) []string {
	out := make([]string, 0, len(base)+len(add))
	i, j := 0, 0
	for i < len(base) || j < len(add) {
		var next string
		switch {
		case j == len(add) || (i < len(base) && base[i] < add[j]):
			next = base[i]
			i++
		default:
			next = add[j]
			j++
		}
		if _, drop := remove[next]; drop {
			continue
		}
		out = append(out, next)
	}
	return out
}
