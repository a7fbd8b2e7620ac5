// Package searchbox drives an interactive search input: keystrokes are
// debounced into queries, results of superseded queries are discarded and
// the current result list supports keyboard selection.
//
// A Box moves through Idle -> Pending (debounce timer armed) -> Querying
// (query issued) -> Idle (result applied). Every keystroke or submission
// starts a new input generation; a query's outcome is applied only if its
// generation is still the latest when it arrives.
package searchbox

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/resilience"
)

type State int

const (
	Idle State = iota
	Pending
	Querying
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Querying:
		return "querying"
	default:
		return "idle"
	}
}

// QueryFunc runs one query for text.
type QueryFunc[T any] func(ctx context.Context, text string) ([]T, error)

// Update is delivered after each applied query. On error Results holds the
// previous results unchanged.
type Update[T any] struct {
	Generation uint64
	Text       string
	Results    []T
	Err        error
}

type Config struct {
	// Delay is the debounce interval. Default 300ms.
	Delay time.Duration
	// Budget bounds each query; a query exceeding it is reported as a
	// timeout. Zero disables the bound.
	Budget time.Duration
	Clock  clock.Clock
}

type Box[T any] struct {
	query    QueryFunc[T]
	onUpdate func(Update[T])
	cfg      Config
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	text     string
	timer    clock.Timer
	results  []T
	selected int
	closed   bool
}

// New creates a Box. onUpdate is called outside the Box's lock and may
// call back into it.
func New[T any](query QueryFunc[T], onUpdate func(Update[T]), cfg Config) *Box[T] {
	if cfg.Delay <= 0 {
		cfg.Delay = 300 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if onUpdate == nil {
		onUpdate = func(Update[T]) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Box[T]{
		query:    query,
		onUpdate: onUpdate,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		logger:   slog.Default().With("component", "searchbox"),
		selected: -1,
	}
}

// Type records new input text and (re)arms the debounce timer. Blank text
// clears the results without querying.
func (b *Box[T]) Type(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.gen++
	b.text = text
	b.stopTimer()

	if strings.TrimSpace(text) == "" {
		b.state = Idle
		b.results = nil
		b.selected = -1
		return
	}
	gen := b.gen
	b.state = Pending
	b.timer = b.cfg.Clock.AfterFunc(b.cfg.Delay, func() { b.fire(gen) })
}

// Submit issues a query for the current text immediately, cancelling any
// pending debounce.
func (b *Box[T]) Submit() {
	b.mu.Lock()
	if b.closed || strings.TrimSpace(b.text) == "" {
		b.mu.Unlock()
		return
	}
	b.stopTimer()
	b.gen++
	gen, text := b.gen, b.text
	b.state = Querying
	b.mu.Unlock()

	go b.run(gen, text)
}

func (b *Box[T]) fire(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.state = Querying
	text := b.text
	b.mu.Unlock()

	go b.run(gen, text)
}

func (b *Box[T]) run(gen uint64, text string) {
	var results []T
	err := resilience.WithTimeout(b.ctx, b.cfg.Budget, "searchbox-query", func(ctx context.Context) error {
		var err error
		results, err = b.query(ctx, text)
		return err
	})

	b.mu.Lock()
	if b.closed || gen != b.gen {
		b.mu.Unlock()
		b.logger.Debug("discarding stale result", "generation", gen, "text", text)
		return
	}
	b.state = Idle
	if err == nil {
		b.results = results
		b.selected = -1
	} else {
		b.logger.Warn("search query failed", "text", text, "error", err)
	}
	update := Update[T]{Generation: gen, Text: text, Results: b.results, Err: err}
	b.mu.Unlock()

	b.onUpdate(update)
}

func (b *Box[T]) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Box[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Results returns the currently applied results.
func (b *Box[T]) Results() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]T(nil), b.results...)
}

// MoveDown moves the selection to the next result, wrapping to the first.
func (b *Box[T]) MoveDown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.results); n > 0 {
		b.selected = (b.selected + 1) % n
	}
}

// MoveUp moves the selection to the previous result, wrapping to the last.
func (b *Box[T]) MoveUp() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.results); n > 0 {
		if b.selected <= 0 {
			b.selected = n - 1
		} else {
			b.selected--
		}
	}
}

// Selected returns the selected result, if any.
func (b *Box[T]) Selected() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	if b.selected < 0 || b.selected >= len(b.results) {
		return zero, false
	}
	return b.results[b.selected], true
}

// Close stops the debounce timer and discards any in-flight result.
func (b *Box[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.stopTimer()
	b.state = Idle
	b.cancel()
}
