package analytics

import (
	"container/list"
	"sync"
	"time"
)

// HistoryItem is one entry of a user's recent searches.
type HistoryItem struct {
	Query      string    `json:"query"`
	Normalized string    `json:"normalized"`
	TotalHits  int       `json:"total_hits"`
	Timestamp  time.Time `json:"timestamp"`
}

type userHistory struct {
	userID string
	items  []HistoryItem // newest first
}

// History keeps a bounded list of recent searches per user. Repeating a
// search moves it to the front instead of adding a duplicate. When more
// than maxUsers users are tracked, the least recently active one is
// forgotten.
type History struct {
	mu       sync.Mutex
	size     int
	maxUsers int
	users    map[string]*list.Element
	lru      *list.List
}

func NewHistory(size, maxUsers int) *History {
	if size <= 0 {
		size = 5
	}
	if maxUsers <= 0 {
		maxUsers = 10000
	}
	return &History{
		size:     size,
		maxUsers: maxUsers,
		users:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Record implements Sink.
func (h *History) Record(ev Event) {
	if ev.Search == nil || ev.Search.Normalized == "" {
		return
	}
	s := ev.Search
	h.Add(s.UserID, HistoryItem{
		Query:      s.Query,
		Normalized: s.Normalized,
		TotalHits:  s.TotalHits,
		Timestamp:  s.Timestamp,
	})
}

func (h *History) Add(userID string, item HistoryItem) {
	h.mu.Lock()
	defer h.mu.Unlock()

	el, ok := h.users[userID]
	if !ok {
		el = h.lru.PushFront(&userHistory{userID: userID})
		h.users[userID] = el
		if h.lru.Len() > h.maxUsers {
			oldest := h.lru.Back()
			h.lru.Remove(oldest)
			delete(h.users, oldest.Value.(*userHistory).userID)
		}
	} else {
		h.lru.MoveToFront(el)
	}

	u := el.Value.(*userHistory)
	items := make([]HistoryItem, 0, h.size)
	items = append(items, item)
	for _, old := range u.items {
		if old.Normalized != item.Normalized && len(items) < h.size {
			items = append(items, old)
		}
	}
	u.items = items
}

// Recent returns the user's recent searches, newest first.
func (h *History) Recent(userID string) []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	el, ok := h.users[userID]
	if !ok {
		return []HistoryItem{}
	}
	return append([]HistoryItem(nil), el.Value.(*userHistory).items...)
}

// Clear forgets the user's history.
func (h *History) Clear(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if el, ok := h.users[userID]; ok {
		h.lru.Remove(el)
		delete(h.users, userID)
	}
}

func (h *History) Users() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lru.Len()
}
