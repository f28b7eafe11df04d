package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueueItem struct {
	id int
}

type fakeQueue struct {
	items     []*fakeQueueItem
	processed []int
	failNext  bool
}

func (q *fakeQueue) GetItem(context.Context) (*fakeQueueItem, error) {
	if len(q.items) == 0 {
		return nil, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

func (q *fakeQueue) ProcessItem(_ context.Context, item *fakeQueueItem) error {
	if q.failNext {
		q.failNext = false
		return errors.New("boom")
	}
	q.processed = append(q.processed, item.id)
	return nil
}

func (q *fakeQueue) UpdateItem(_ context.Context, item *fakeQueueItem, success bool) error {
	return nil
}

func TestPollWorkqueue_DrainsAllItems(t *testing.T) {
	q := &fakeQueue{items: []*fakeQueueItem{{id: 1}, {id: 2}, {id: 3}}}
	fn := PollWorkqueue[*fakeQueueItem](q)

	ctx := context.Background()
	for fn(ctx) {
	}

	assert.Equal(t, []int{1, 2, 3}, q.processed)
}

func TestPollWorkqueue_EmptyQueueReturnsFalse(t *testing.T) {
	q := &fakeQueue{}
	fn := PollWorkqueue[*fakeQueueItem](q)
	assert.False(t, fn(context.Background()))
}

func TestWithRateLimiting_LimitsThroughput(t *testing.T) {
	var calls atomic.Int32
	base := &fakeQueue{items: []*fakeQueueItem{{id: 1}, {id: 2}, {id: 3}}}
	wrapped := WithRateLimiting[*fakeQueueItem](countingQueue{base, &calls}, 1000)

	fn := PollWorkqueue[*fakeQueueItem](wrapped)
	ctx := context.Background()
	for fn(ctx) {
	}
	assert.Equal(t, int32(3), calls.Load())
}

type countingQueue struct {
	*fakeQueue
	calls *atomic.Int32
}

func (c countingQueue) ProcessItem(ctx context.Context, item *fakeQueueItem) error {
	c.calls.Add(1)
	return c.fakeQueue.ProcessItem(ctx, item)
}

func TestPoll_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := Poll(10*time.Millisecond, func(context.Context) bool { return false })

	done := make(chan error, 1)
	go func() { done <- proc(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Poll did not stop after context cancellation")
	}
}

func TestPoll_RepeatsImmediatelyWhileWorkRemains(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var calls atomic.Int32
	proc := Poll(time.Hour, func(context.Context) bool {
		n := calls.Add(1)
		return n < 5
	})

	err := proc(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(5), calls.Load(), "all 5 calls should happen immediately, before the hour-long tick")
}
