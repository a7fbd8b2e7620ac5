package index

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
)

func job(id, title string) *Document {
	return &Document{ID: id, Type: Jobs, Title: title}
}

func put(t *testing.T, m *MemoryIndex, docs ...*Document) *Snapshot {
	t.Helper()
	snap, err := m.Update(func(tx *Txn) error {
		for _, d := range docs {
			if err := tx.Put(d); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return snap
}

func refsOf(list PostingList) []DocRef {
	var out []DocRef
	for _, p := range list {
		out = append(out, p.Ref)
	}
	return out
}

func TestPutIndexesEveryField(t *testing.T) {
	m := NewMemoryIndex()
	snap := put(t, m, &Document{
		ID:          "1",
		Type:        Jobs,
		Title:       "Data Engineer",
		Description: "Build data pipelines",
		Content:     "<p>We use <b>Kafka</b> &amp; Go</p>",
		Tags:        []string{"Remote", "remote", "big data"},
	})

	data := snap.Postings("data")
	require.Len(t, data, 3)
	assert.Equal(t, FieldTitle, data[0].Field)
	assert.Equal(t, FieldTags, data[1].Field)
	assert.Equal(t, FieldDescription, data[2].Field)

	require.Len(t, snap.Postings("kafka"), 1)
	assert.Equal(t, FieldContent, snap.Postings("kafka")[0].Field)
	assert.Empty(t, snap.Postings("p"), "markup must not be indexed")
	assert.Empty(t, snap.Postings("amp"))

	doc, ok := snap.Document(DocRef{Type: Jobs, ID: "1"})
	require.True(t, ok)
	assert.Equal(t, []string{"Remote", "big data"}, doc.Tags)
	assert.Equal(t, uint64(1), snap.Generation())
}

func TestFrequencyAndPositions(t *testing.T) {
	m := NewMemoryIndex()
	snap := put(t, m, job("1", "data to data"))
	list := snap.Postings("data")
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Frequency)
	assert.Equal(t, []int{0, 2}, list[0].Positions)
}

func TestReindexReplacesPostings(t *testing.T) {
	m := NewMemoryIndex()
	put(t, m, job("1", "Senior Data Scientist"))
	snap := put(t, m, job("1", "Backend Engineer"))

	assert.Empty(t, snap.Postings("scientist"))
	assert.Equal(t, []DocRef{{Jobs, "1"}}, refsOf(snap.Postings("backend")))
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, 1, snap.Count(Jobs))
	assert.Empty(t, snap.TermsOfLength(9), "scientist dropped from vocabulary")
}

func TestDeleteRemovesEmptyTerms(t *testing.T) {
	m := NewMemoryIndex()
	put(t, m, job("1", "Data Scientist"), job("2", "Data Analyst"))

	snap, err := m.Update(func(tx *Txn) error {
		assert.True(t, tx.Delete(DocRef{Jobs, "1"}))
		assert.False(t, tx.Delete(DocRef{Jobs, "missing"}))
		return nil
	})
	require.NoError(t, err)

	assert.Nil(t, snap.Postings("scientist"))
	_, present := snap.postings["scientist"]
	assert.False(t, present)
	assert.Equal(t, []DocRef{{Jobs, "2"}}, refsOf(snap.Postings("data")))
	assert.NotContains(t, snap.TermsWithPrefix("sc", 0), "scientist")
}

func TestReadersKeepTheirSnapshot(t *testing.T) {
	m := NewMemoryIndex()
	before := put(t, m, job("1", "Data Scientist"))
	put(t, m, job("2", "Data Analyst"))

	assert.Len(t, before.Postings("data"), 1)
	assert.Len(t, m.Snapshot().Postings("data"), 2)
	assert.Equal(t, before.Generation()+1, m.Snapshot().Generation())
}

func TestFailedUpdateLeavesIndexIntact(t *testing.T) {
	m := NewMemoryIndex()
	before := put(t, m, job("1", "Data Scientist"))

	_, err := m.Update(func(tx *Txn) error {
		require.NoError(t, tx.Put(job("2", "Data Analyst")))
		return tx.Put(&Document{Type: Jobs, Title: "no id"})
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Same(t, before, m.Snapshot())
}

func TestResetAndDeleteType(t *testing.T) {
	m := NewMemoryIndex()
	put(t, m, job("1", "Data Scientist"), &Document{ID: "e1", Type: Events, Title: "Data Meetup"})

	snap, err := m.Update(func(tx *Txn) error {
		assert.Equal(t, 1, tx.DeleteType(Jobs))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []DocRef{{Events, "e1"}}, refsOf(snap.Postings("data")))
	assert.Equal(t, map[ContentType]int{Events: 1}, snap.Counts())

	snap, err = m.Update(func(tx *Txn) error {
		tx.Reset()
		return tx.Put(job("9", "Mentor Program"))
	})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
	assert.Empty(t, snap.Postings("meetup"))
	assert.Equal(t, []string{"mentor", "program"}, snap.TermsWithPrefix("", 0))
}

func TestVocabularyBuckets(t *testing.T) {
	m := NewMemoryIndex()
	snap := put(t, m, job("1", "Diseño Gráfico"), job("2", "Dato Dama"))
	assert.Equal(t, []string{"dama", "dato"}, snap.TermsOfLength(4))
	assert.Equal(t, []string{"diseno", "grafico"}, append(snap.TermsOfLength(6), snap.TermsOfLength(7)...))
	assert.Equal(t, []string{"dama", "dato"}, snap.TermsWithPrefix("da", 0))
	assert.Equal(t, []string{"dama"}, snap.TermsWithPrefix("da", 1))
}

func TestNewestTracksRemovals(t *testing.T) {
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.AddDate(0, 6, 0)
	m := NewMemoryIndex()
	a := job("1", "alpha")
	a.Metadata.CreatedAt = old
	b := job("2", "beta")
	b.Metadata.CreatedAt = recent
	snap := put(t, m, a, b)
	assert.Equal(t, recent, snap.Newest())

	snap, err := m.Update(func(tx *Txn) error {
		tx.Delete(b.Ref())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, old, snap.Newest())
}

func TestNoopUpdateDoesNotBumpGeneration(t *testing.T) {
	m := NewMemoryIndex()
	before := put(t, m, job("1", "alpha"))
	after, err := m.Update(func(tx *Txn) error {
		tx.Delete(DocRef{Jobs, "nope"})
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	m := NewMemoryIndex()
	put(t, m, job("0", "stable title"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := m.Snapshot()
				for _, p := range snap.Postings("stable") {
					_, ok := snap.Document(p.Ref)
					assert.True(t, ok)
				}
			}
		}()
	}
	for i := range 50 {
		doc := job("x", "stable rotating")
		if i%2 == 0 {
			doc.Title = "other rotating"
		}
		put(t, m, doc)
	}
	close(stop)
	wg.Wait()
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, (&Document{Type: Jobs}).Validate(), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, (&Document{ID: "1"}).Validate(), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, (&Document{ID: "1", Type: "blog"}).Validate(), apperrors.ErrInvalidInput)
	assert.NoError(t, job("1", "x").Validate())

	ct, ok := ParseContentType(" Mentors ")
	assert.True(t, ok)
	assert.Equal(t, Mentors, ct)
	_, ok = ParseContentType("all")
	assert.False(t, ok)
}
