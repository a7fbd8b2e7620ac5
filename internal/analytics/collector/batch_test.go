package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/kafka"
)

type fakeProducer struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (f *fakeProducer) PublishBatch(_ context.Context, events []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakeProducer) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestFlushPublishesBuffer(t *testing.T) {
	p := &fakeProducer{}
	bc := NewBatchCollector(p, 10, time.Second, nil)
	bc.Track("u1", "a")
	bc.Track("u2", "b")
	assert.Equal(t, 2, bc.BufferLen())

	bc.Flush(context.Background())
	assert.Equal(t, 0, bc.BufferLen())
	require.Len(t, p.batches, 1)
	assert.Equal(t, "u1", p.batches[0][0].Key)
	assert.Equal(t, "b", p.batches[0][1].Value)
}

func TestFullBatchFlushesImmediately(t *testing.T) {
	p := &fakeProducer{}
	bc := NewBatchCollector(p, 3, time.Hour, nil)
	for range 3 {
		bc.Track("u", 1)
	}
	assert.Eventually(t, func() bool { return p.published() == 3 }, time.Second, 5*time.Millisecond)
}

func TestFailedFlushRequeuesWithLimit(t *testing.T) {
	p := &fakeProducer{err: errors.New("broker down")}
	bc := NewBatchCollector(p, 100, time.Hour, nil)
	for range 50 {
		bc.Track("u", 1)
	}
	bc.Flush(context.Background())
	assert.Equal(t, 50, bc.BufferLen())

	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	bc.Flush(context.Background())
	assert.Equal(t, 50, p.published())
}

func TestIntervalFlushAndShutdown(t *testing.T) {
	p := &fakeProducer{}
	clk := testclock.NewClock(time.Unix(0, 0))
	bc := NewBatchCollector(p, 100, time.Second, clk)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track("u", "first")
	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	assert.Eventually(t, func() bool { return p.published() == 1 }, time.Second, 5*time.Millisecond)

	bc.Track("u", "second")
	cancel()
	bc.Close()
	assert.Equal(t, 2, p.published())
}
