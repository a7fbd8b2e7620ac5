package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/metrics"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Track(key string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func TestCollectorFeedsSinksAndPublisher(t *testing.T) {
	history := NewHistory(5, 10)
	agg := NewAggregator(nil)
	pub := &recordingPublisher{}
	c := NewCollector(pub, 16, nil, history, agg)
	c.Start(context.Background())

	c.Track(searchFor("u1", "Data", "data"))
	c.Track(Click(ClickEvent{UserID: "u1", Type: "jobs", DocumentID: "1"}))
	c.Close()

	assert.Equal(t, []string{"Data"}, queries(history.Recent("u1")))
	assert.Equal(t, int64(1), agg.Stats().TotalClicks)
	assert.Equal(t, []string{"u1", "u1"}, pub.keys)
}

func TestCollectorDropsWhenFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	pub := &recordingPublisher{}
	c := NewCollector(pub, 2, m)

	for range 5 {
		c.Track(searchFor("u1", "data", "data"))
	}
	assert.Equal(t, 2, c.Pending())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AnalyticsDropped))

	c.Close()
	assert.Equal(t, 2, pub.count())
}

func TestCollectorIgnoresTrackAfterClose(t *testing.T) {
	c := NewCollector(nil, 4, nil)
	c.Start(context.Background())
	c.Close()
	c.Close()
	c.Track(searchFor("u1", "data", "data"))
	assert.Equal(t, 0, c.Pending())
}

func TestCollectorDrainsOnCancel(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	for range 4 {
		c.Track(searchFor("u1", "data", "data"))
	}
	cancel()
	require.Eventually(t, func() bool { return pub.count() == 4 }, time.Second, 5*time.Millisecond)
}
