package analytics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/metrics"
)

// Sink consumes analytics events in process.
type Sink interface {
	Record(ev Event)
}

// Publisher forwards events out of process. collector.BatchCollector
// satisfies it.
type Publisher interface {
	Track(key string, value any)
}

// Collector accepts events from the request path without blocking it. A
// single worker applies each event to the sinks in order and then hands it
// to the publisher. When the buffer is full the event is dropped.
type Collector struct {
	sinks     []Sink
	publisher Publisher
	metrics   *metrics.Metrics
	eventCh   chan Event
	logger    *slog.Logger
	done      chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewCollector creates a Collector. publisher may be nil when events are
// only consumed locally.
func NewCollector(publisher Publisher, bufferSize int, m *metrics.Metrics, sinks ...Sink) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		sinks:     sinks,
		publisher: publisher,
		metrics:   m,
		eventCh:   make(chan Event, bufferSize),
		logger:    slog.Default().With("component", "analytics-collector"),
		done:      make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.apply(event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh), "sinks", len(c.sinks))
}

// Track enqueues ev. It never blocks; events arriving after Close or while
// the buffer is full are dropped.
func (c *Collector) Track(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- ev:
	default:
		c.metrics.AnalyticsEventDropped()
		c.logger.Warn("analytics event dropped (buffer full)", "type", ev.Type)
	}
}

// Close stops accepting events and waits until the buffered ones have been
// applied.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	close(c.eventCh)
	c.mu.Unlock()

	if started {
		<-c.done
		return
	}
	c.drainRemaining()
}

// Pending returns the number of buffered events.
func (c *Collector) Pending() int {
	return len(c.eventCh)
}

func (c *Collector) apply(ev Event) {
	for _, s := range c.sinks {
		s.Record(ev)
	}
	if c.publisher != nil {
		c.publisher.Track(ev.Key(), ev)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.apply(event)
		default:
			return
		}
	}
}
