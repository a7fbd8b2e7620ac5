// Package indexer owns the search index lifecycle: incremental document
// updates, full and per-type rebuilds from a ContentSource, readiness and
// indexing status.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/metrics"
)

// ContentSource supplies the current published documents of one type.
type ContentSource interface {
	Load(ctx context.Context, t index.ContentType) ([]*index.Document, error)
}

const maxFailureSample = 5

// PartialIndexingError reports a batch or rebuild that committed only part
// of its input. The index reflects everything that succeeded.
type PartialIndexingError struct {
	Failed      int                 `json:"failed"`
	FailedTypes []index.ContentType `json:"failedTypes,omitempty"`
	Sample      []string            `json:"sample,omitempty"`
}

func (e *PartialIndexingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d documents failed to index", e.Failed)
	if len(e.FailedTypes) > 0 {
		fmt.Fprintf(&b, ", content types kept from previous build: %v", e.FailedTypes)
	}
	if len(e.Sample) > 0 {
		fmt.Fprintf(&b, " (e.g. %s)", strings.Join(e.Sample, "; "))
	}
	return b.String()
}

func (e *PartialIndexingError) Unwrap() error {
	return apperrors.ErrPartialIndexing
}

func partialError(failures *multierror.Error, failedTypes []index.ContentType) error {
	if failures.ErrorOrNil() == nil && len(failedTypes) == 0 {
		return nil
	}
	pe := &PartialIndexingError{FailedTypes: failedTypes}
	if failures != nil {
		pe.Failed = len(failures.Errors)
		for _, err := range failures.Errors {
			if len(pe.Sample) == maxFailureSample {
				break
			}
			pe.Sample = append(pe.Sample, err.Error())
		}
	}
	return pe
}

// TypeStatus describes one content type in the index.
type TypeStatus struct {
	Type          index.ContentType `json:"type"`
	Documents     int               `json:"documents"`
	LastIndexedAt time.Time         `json:"lastIndexedAt,omitzero"`
	LastError     string            `json:"lastError,omitempty"`
}

// Status is the operator-facing view of the index.
type Status struct {
	Ready               bool                  `json:"ready"`
	Generation          uint64                `json:"generation"`
	Documents           int                   `json:"documents"`
	Terms               int                   `json:"terms"`
	Types               []TypeStatus          `json:"types"`
	Rebuilding          bool                  `json:"rebuilding"`
	LastRebuildAt       time.Time             `json:"lastRebuildAt,omitzero"`
	LastRebuildDuration string                `json:"lastRebuildDuration,omitempty"`
	LastFailure         *PartialIndexingError `json:"lastFailure,omitempty"`
}

type change struct {
	doc *index.Document
	ref index.DocRef
}

type Engine struct {
	idx     *index.MemoryIndex
	source  ContentSource
	cfg     config.IndexerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	ready      atomic.Bool
	rebuilding atomic.Bool
	rebuildMu  sync.Mutex

	// journal records incremental writes committed while a rebuild is
	// loading, so the rebuild can replay them on top of its fresh state.
	journalMu  sync.Mutex
	journaling bool
	journal    []change

	statusMu      sync.RWMutex
	indexedAt     map[index.ContentType]time.Time
	typeErrors    map[index.ContentType]string
	lastRebuildAt time.Time
	lastDuration  time.Duration
	lastFailure   *PartialIndexingError
}

// NewEngine creates an engine around an empty index. source may be nil, in
// which case the index is fed only through IndexDocument and becomes ready
// on the first committed write.
func NewEngine(cfg config.IndexerConfig, source ContentSource, m *metrics.Metrics) *Engine {
	return &Engine{
		idx:        index.NewMemoryIndex(),
		source:     source,
		cfg:        cfg,
		metrics:    m,
		logger:     slog.Default().With("component", "indexer"),
		indexedAt:  make(map[index.ContentType]time.Time),
		typeErrors: make(map[index.ContentType]string),
	}
}

// Ready reports whether queries can be served.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Snapshot returns the current index snapshot, or a retryable
// ErrIndexUnavailable if no build has completed yet.
func (e *Engine) Snapshot() (*index.Snapshot, error) {
	if !e.ready.Load() {
		return nil, apperrors.Unavailable("search index has not been built yet")
	}
	return e.idx.Snapshot(), nil
}

// IndexDocument inserts doc or atomically replaces the document with the
// same (type, id). Invalid documents are rejected without touching the index.
func (e *Engine) IndexDocument(doc *index.Document) error {
	snap, err := e.idx.Update(func(tx *index.Txn) error {
		if err := tx.Put(doc); err != nil {
			return err
		}
		e.record(journaled(doc))
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexing %s: %w", doc.Ref(), err)
	}
	e.afterWrite(snap)
	e.logger.Debug("document indexed",
		"ref", doc.Ref().String(),
		"generation", snap.Generation(),
	)
	return nil
}

// IndexDocuments indexes a batch in one commit. Invalid documents are
// skipped and reported through a *PartialIndexingError.
func (e *Engine) IndexDocuments(docs []*index.Document) error {
	var failures *multierror.Error
	snap, err := e.idx.Update(func(tx *index.Txn) error {
		for _, doc := range docs {
			if err := tx.Put(doc); err != nil {
				failures = multierror.Append(failures, err)
				continue
			}
			e.record(journaled(doc))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(docs) > 0 && (failures == nil || len(failures.Errors) < len(docs)) {
		e.afterWrite(snap)
	}
	if err := partialError(failures, nil); err != nil {
		e.metrics.IndexRebuild("batch", "partial", len(failures.Errors))
		e.logger.Warn("batch partially indexed", "error", err)
		return err
	}
	return nil
}

// RemoveDocument deletes the document and every posting that references it.
// A missing document yields an error wrapping ErrDocumentNotFound.
func (e *Engine) RemoveDocument(t index.ContentType, id string) error {
	ref := index.DocRef{Type: t, ID: id}
	snap, err := e.idx.Update(func(tx *index.Txn) error {
		if !tx.Delete(ref) {
			return index.NotFound(ref)
		}
		e.record(change{ref: ref})
		return nil
	})
	if err != nil {
		return err
	}
	e.afterWrite(snap)
	e.logger.Debug("document removed", "ref", ref.String(), "generation", snap.Generation())
	return nil
}

// IndexAllContent rebuilds the whole index from the content source and swaps
// it in with one commit. Types whose load fails keep their previous
// documents. Per-document failures do not abort the rebuild; they are
// returned as a *PartialIndexingError after the new index is published.
func (e *Engine) IndexAllContent(ctx context.Context) error {
	if e.source == nil {
		return fmt.Errorf("rebuild: %w: no content source configured", apperrors.ErrInternal)
	}
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()
	e.rebuilding.Store(true)
	defer e.rebuilding.Store(false)

	start := time.Now()
	e.startJournal()
	loaded, loadErrs := e.loadAll(ctx)
	if err := ctx.Err(); err != nil {
		e.stopJournal()
		e.metrics.IndexRebuild("all", "cancelled", 0)
		return fmt.Errorf("rebuild cancelled: %w", err)
	}

	var (
		failures    *multierror.Error
		failedTypes []index.ContentType
	)
	snap, err := e.idx.Update(func(tx *index.Txn) error {
		base := tx.Base()
		tx.Reset()
		for i, t := range index.AllContentTypes {
			docs := loaded[i]
			if loadErrs[i] != nil {
				failedTypes = append(failedTypes, t)
				docs = base.Documents(t)
			}
			failures = putAll(tx, t, docs, failures)
		}
		e.replayJournal(tx)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	duration := time.Since(start)
	now := time.Now()
	e.statusMu.Lock()
	for i, t := range index.AllContentTypes {
		if loadErrs[i] != nil {
			e.typeErrors[t] = loadErrs[i].Error()
			continue
		}
		delete(e.typeErrors, t)
		e.indexedAt[t] = now
	}
	e.lastRebuildAt = now
	e.lastDuration = duration
	e.statusMu.Unlock()

	if len(failedTypes) == len(index.AllContentTypes) {
		e.setLastFailure(nil)
		e.metrics.IndexRebuild("all", "failed", 0)
		var merr *multierror.Error
		for _, lerr := range loadErrs {
			merr = multierror.Append(merr, lerr)
		}
		e.logger.Error("rebuild failed, every content load failed", "error", merr)
		return fmt.Errorf("rebuild: %w", merr)
	}

	e.ready.Store(true)
	e.metrics.SetIndexedDocuments(countsByName(snap))

	result := partialError(failures, failedTypes)
	var pe *PartialIndexingError
	if errors.As(result, &pe) {
		e.setLastFailure(pe)
		e.metrics.IndexRebuild("all", "partial", pe.Failed)
		e.logger.Warn("rebuild completed with failures",
			"documents", snap.Len(),
			"failed", pe.Failed,
			"failed_types", pe.FailedTypes,
			"duration", duration,
		)
		return result
	}
	e.setLastFailure(nil)
	e.metrics.IndexRebuild("all", "ok", 0)
	e.logger.Info("rebuild completed",
		"documents", snap.Len(),
		"terms", snap.TermCount(),
		"generation", snap.Generation(),
		"duration", duration,
	)
	return nil
}

// IndexContentType replaces every document of type t with the source's
// current set in one commit. If the load fails the index is unchanged.
func (e *Engine) IndexContentType(ctx context.Context, t index.ContentType) error {
	if e.source == nil {
		return fmt.Errorf("rebuild %s: %w: no content source configured", t, apperrors.ErrInternal)
	}
	if !t.Valid() {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown content type %q", t)
	}
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()
	e.rebuilding.Store(true)
	defer e.rebuilding.Store(false)

	start := time.Now()
	e.startJournal()
	docs, err := e.source.Load(ctx, t)
	if err != nil {
		e.stopJournal()
		e.statusMu.Lock()
		e.typeErrors[t] = err.Error()
		e.statusMu.Unlock()
		e.metrics.IndexRebuild(string(t), "failed", 0)
		return fmt.Errorf("loading %s: %w", t, err)
	}

	var failures *multierror.Error
	snap, err := e.idx.Update(func(tx *index.Txn) error {
		tx.DeleteType(t)
		failures = putAll(tx, t, docs, failures)
		e.replayJournal(tx)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", t, err)
	}

	e.statusMu.Lock()
	delete(e.typeErrors, t)
	e.indexedAt[t] = time.Now()
	e.statusMu.Unlock()
	e.metrics.SetIndexedDocuments(countsByName(snap))

	if result := partialError(failures, nil); result != nil {
		e.metrics.IndexRebuild(string(t), "partial", len(failures.Errors))
		e.logger.Warn("content type reindexed with failures", "type", t, "error", result)
		return result
	}
	e.metrics.IndexRebuild(string(t), "ok", 0)
	e.logger.Info("content type reindexed",
		"type", t,
		"documents", snap.Count(t),
		"duration", time.Since(start),
	)
	return nil
}

// Status reports per-type counts, timestamps and the last rebuild outcome.
func (e *Engine) Status() Status {
	snap := e.idx.Snapshot()
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()

	st := Status{
		Ready:         e.ready.Load(),
		Generation:    snap.Generation(),
		Documents:     snap.Len(),
		Terms:         snap.TermCount(),
		Rebuilding:    e.rebuilding.Load(),
		LastRebuildAt: e.lastRebuildAt,
		LastFailure:   e.lastFailure,
	}
	if e.lastDuration > 0 {
		st.LastRebuildDuration = e.lastDuration.String()
	}
	for _, t := range index.AllContentTypes {
		st.Types = append(st.Types, TypeStatus{
			Type:          t,
			Documents:     snap.Count(t),
			LastIndexedAt: e.indexedAt[t],
			LastError:     e.typeErrors[t],
		})
	}
	return st
}

// StartRebuildLoop periodically rebuilds the whole index until ctx is done.
func (e *Engine) StartRebuildLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 || e.source == nil {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("rebuild loop stopping")
				return
			case <-ticker.C:
				rctx, cancel := e.rebuildContext(ctx)
				if err := e.IndexAllContent(rctx); err != nil {
					e.logger.Error("periodic rebuild failed", "error", err)
				}
				cancel()
			}
		}
	}()
}

func (e *Engine) rebuildContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.RebuildTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.RebuildTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) loadAll(ctx context.Context) ([][]*index.Document, []error) {
	types := index.AllContentTypes
	loaded := make([][]*index.Document, len(types))
	loadErrs := make([]error, len(types))

	var g errgroup.Group
	g.SetLimit(4)
	for i, t := range types {
		g.Go(func() error {
			docs, err := e.source.Load(ctx, t)
			if err != nil {
				e.logger.Error("content load failed, keeping previous documents", "type", t, "error", err)
				loadErrs[i] = fmt.Errorf("loading %s: %w", t, err)
				return nil
			}
			loaded[i] = docs
			return nil
		})
	}
	_ = g.Wait()
	return loaded, loadErrs
}

func putAll(tx *index.Txn, t index.ContentType, docs []*index.Document, failures *multierror.Error) *multierror.Error {
	for _, doc := range docs {
		if doc.Type != t {
			failures = multierror.Append(failures, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"document %s: type %q loaded as %q", doc.ID, doc.Type, t))
			continue
		}
		if err := tx.Put(doc); err != nil {
			failures = multierror.Append(failures, err)
		}
	}
	return failures
}

func (e *Engine) afterWrite(snap *index.Snapshot) {
	if e.source == nil {
		e.ready.Store(true)
	}
	e.metrics.SetIndexedDocuments(countsByName(snap))
}

func (e *Engine) setLastFailure(pe *PartialIndexingError) {
	e.statusMu.Lock()
	e.lastFailure = pe
	e.statusMu.Unlock()
}

func (e *Engine) startJournal() {
	e.journalMu.Lock()
	e.journaling = true
	e.journal = nil
	e.journalMu.Unlock()
}

func (e *Engine) stopJournal() {
	e.journalMu.Lock()
	e.journaling = false
	e.journal = nil
	e.journalMu.Unlock()
}

// record is called inside an index transaction, so its order matches the
// commit order.
func (e *Engine) record(c change) {
	e.journalMu.Lock()
	if e.journaling {
		e.journal = append(e.journal, c)
	}
	e.journalMu.Unlock()
}

func journaled(doc *index.Document) change {
	d := *doc
	d.Tags = append([]string(nil), doc.Tags...)
	return change{doc: &d, ref: d.Ref()}
}

func (e *Engine) replayJournal(tx *index.Txn) {
	e.journalMu.Lock()
	journal := e.journal
	e.journaling = false
	e.journal = nil
	e.journalMu.Unlock()

	for _, c := range journal {
		if c.doc == nil {
			tx.Delete(c.ref)
			continue
		}
		if err := tx.Put(c.doc); err != nil {
			e.logger.Error("replaying journaled write", "ref", c.ref.String(), "error", err)
		}
	}
	if len(journal) > 0 {
		e.logger.Info("replayed writes made during rebuild", "count", len(journal))
	}
}

func countsByName(snap *index.Snapshot) map[string]int {
	out := make(map[string]int, len(index.AllContentTypes))
	for _, t := range index.AllContentTypes {
		out[string(t)] = snap.Count(t)
	}
	return out
}
