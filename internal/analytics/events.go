package analytics

import (
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/parser"
)

type EventType string

const (
	EventSearch EventType = "search"
	EventClick  EventType = "click"
)

// SearchEvent records one completed, user-initiated search.
type SearchEvent struct {
	ID string `json:"id"`
	// Query is the text as typed; Normalized is what popularity and
	// history are keyed on.
	Query      string         `json:"query"`
	Normalized string         `json:"normalized"`
	UserID     string         `json:"user_id"`
	Filters    parser.Filters `json:"filters"`
	TotalHits  int            `json:"total_hits"`
	Returned   int            `json:"returned"`
	LatencyMs  int64          `json:"latency_ms"`
	CacheHit   bool           `json:"cache_hit"`
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id,omitempty"`
}

// ClickEvent records a click-through on a search result.
type ClickEvent struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Normalized string            `json:"normalized,omitempty"`
	Type       index.ContentType `json:"type"`
	DocumentID string            `json:"document_id"`
	Timestamp  time.Time         `json:"timestamp"`
}

func (c ClickEvent) Ref() index.DocRef {
	return index.DocRef{Type: c.Type, ID: c.DocumentID}
}

// Event is the envelope published on the analytics topic. Exactly one of
// Search and Click is set, matching Type.
type Event struct {
	Type   EventType    `json:"type"`
	Search *SearchEvent `json:"search,omitempty"`
	Click  *ClickEvent  `json:"click,omitempty"`
}

// Search wraps e, filling in its ID and timestamp when missing.
func Search(e SearchEvent) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return Event{Type: EventSearch, Search: &e}
}

// Click wraps e, filling in its ID and timestamp when missing.
func Click(e ClickEvent) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return Event{Type: EventClick, Click: &e}
}

// Key is the partition key: events of one user stay ordered.
func (e Event) Key() string {
	switch {
	case e.Search != nil:
		return e.Search.UserID
	case e.Click != nil:
		return e.Click.UserID
	default:
		return ""
	}
}
