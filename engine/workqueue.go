package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// PollingFunc is polled repeatedly by Poll. Returning true means "call me
// again immediately" (more work is likely ready); returning false means
// "wait for the next tick".
type PollingFunc func(context.Context) bool

// PollWorkqueue turns a Workqueue into a PollingFunc: each call fetches one
// item, processes it, and reports the outcome back to the queue. Returning
// true after a processed item lets the caller pick up the next one without
// waiting out the polling interval, so a Workqueue implementation should
// return a nil item when nothing is ready rather than blocking.
func PollWorkqueue[T any](wq Workqueue[T]) PollingFunc {
	logger := slog.Default().With("workqueue", fmt.Sprintf("%T", wq))
	return func(ctx context.Context) bool {
		item, err := wq.GetItem(ctx)
		if any(item) == nil {
			return false
		}
		if err != nil {
			logger.Error("getting next workqueue item", "error", err)
			return false
		}

		err = wq.ProcessItem(ctx, item)
		if err == nil {
			logger.Debug("processed workqueue item", "item", item)
		} else {
			logger.Error("error while processing workqueue item", "error", err, "item", item)
		}

		if err := wq.UpdateItem(ctx, item, err == nil); err != nil {
			logger.Error("updating workqueue status failed", "error", err)
			return false
		}

		return true
	}
}

// Workqueue is a minimal retry-and-requeue contract used by the Thumbnail
// Queue (see thumbnails.Queue) and anything else that needs a bounded,
// backoff-aware processing cycle over a changing set of work items.
type Workqueue[T any] interface {
	GetItem(context.Context) (T, error)
	ProcessItem(context.Context, T) error
	UpdateItem(ctx context.Context, item T, success bool) error
}

// WithRateLimiting caps how often ProcessItem may be called, waiting on a
// token-bucket limiter rather than a raw time.Sleep so a caller can still
// cancel the wait (e.g. the Thumbnail Queue's cancelAll).
func WithRateLimiting[T any](wq Workqueue[T], rps int) Workqueue[T] {
	return &rateLimitedWorkqueue[T]{
		Workqueue: wq,
		limiter:   rate.NewLimiter(rate.Every(time.Second), rps),
	}
}

type rateLimitedWorkqueue[T any] struct {
	Workqueue[T]
	limiter *rate.Limiter
}

func (r *rateLimitedWorkqueue[T]) ProcessItem(ctx context.Context, item T) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.Workqueue.ProcessItem(ctx, item)
}
