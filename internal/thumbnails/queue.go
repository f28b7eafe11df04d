// Package thumbnails implements the Thumbnail Queue (C10): the single
// process-wide priority queue that batches getJobThumbnail fetches behind
// a per-backend concurrency profile. Grounded on engine/workqueue.go's
// Workqueue[T]/PollWorkqueue retry cycle (itself grounded on
// modules/discordwebhook/module.go's doubling-backoff delivery queue),
// generalized from "one item at a time, fixed rate" into a bounded-
// concurrency, dedup-by-fileName, priority-ordered queue whose dispatch
// rate changes with the active context's backend. In-flight cancellation
// races are handled with engine/streammux.go's generation-counter idiom
// rather than a fresh invention.
package thumbnails

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/backend"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// ErrBackendNotReady is the failure reason for an item processed while no
// context is active or its backend isn't ready yet (§4.10 step 1).
var ErrBackendNotReady = errors.New("thumbnails: backend not ready")

const pngDataURIPrefix = "data:image/png;base64,"
const pollInterval = 100 * time.Millisecond

// ThumbnailBackend is the subset of *backend.Backend the queue needs.
// *backend.Backend satisfies it without any adapter.
type ThumbnailBackend interface {
	GetJobThumbnail(ctx context.Context, fileName string) backend.Result[string]
	ModelKind() model.ModelKind
}

// ActiveResolver resolves the currently-active context's backend, mirroring
// modules/discordwebhook/sender.go's Sender func-type collaborator. ok is
// false if no context is active or its backend isn't ready.
type ActiveResolver func() (be ThumbnailBackend, ok bool)

// Result is what an Enqueue future resolves to.
type Result struct {
	Thumbnail string
	Err       error
	Cancelled bool
}

// Queue is the C10 singleton.
type Queue struct {
	bus      *engine.Bus
	resolver ActiveResolver

	mu           sync.Mutex
	items        []model.ThumbnailRequest
	processing   map[string]bool
	pending      map[string][]chan Result
	stats        model.ThumbnailStats
	isProcessing bool
	generation   int

	limiterMu    sync.Mutex
	limiter      *rate.Limiter
	limiterDelay time.Duration
}

// limiterFor returns the persistent token-bucket limiter throttling
// dispatch, rebuilding it only when the active profile's delay changes
// (e.g. the active context switched to a different backend kind).
func (q *Queue) limiterFor(delay time.Duration) *rate.Limiter {
	q.limiterMu.Lock()
	defer q.limiterMu.Unlock()
	if q.limiter == nil || q.limiterDelay != delay {
		q.limiter = rate.NewLimiter(rate.Every(delay), 1)
		q.limiterDelay = delay
	}
	return q.limiter
}

// New constructs an idle Queue. Call AttachWorkers to start its processing
// cycle under a ProcMgr.
func New(bus *engine.Bus, resolver ActiveResolver) *Queue {
	return &Queue{
		bus: bus, resolver: resolver,
		processing: make(map[string]bool),
		pending:    make(map[string][]chan Result),
	}
}

// AttachWorkers registers the processing cycle, following the module's
// standard AttachWorkers(mgr *engine.ProcMgr) convention.
func (q *Queue) AttachWorkers(mgr *engine.ProcMgr) {
	mgr.Add(engine.Poll(pollInterval, q.tick))
}

// Enqueue adds fileName to the queue at priority (higher runs first among
// ties broken by enqueue order), or attaches to an existing request for the
// same fileName if one is already queued or in flight (§4.10 enqueue).
func (q *Queue) Enqueue(fileName string, priority int) <-chan Result {
	ch := make(chan Result, 1)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[fileName] = append(q.pending[fileName], ch)

	if q.processing[fileName] || q.indexOfLocked(fileName) >= 0 {
		return ch
	}
	q.items = append(q.items, model.ThumbnailRequest{
		FileName: fileName, Priority: priority, EnqueuedAt: time.Now(),
	})
	q.sortLocked()
	return ch
}

func (q *Queue) indexOfLocked(fileName string) int {
	for i, it := range q.items {
		if it.FileName == fileName {
			return i
		}
	}
	return -1
}

// sortLocked orders by (priority desc, enqueuedAt asc).
func (q *Queue) sortLocked() {
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority > q.items[j].Priority
		}
		return q.items[i].EnqueuedAt.Before(q.items[j].EnqueuedAt)
	})
}

// tick is one iteration of the §4.10 processing cycle, driven by
// engine.Poll. Returning true lets Poll call it again immediately instead
// of waiting out pollInterval.
func (q *Queue) tick(ctx context.Context) bool {
	q.mu.Lock()
	profile := q.currentProfileLocked()
	q.mu.Unlock()
	limiter := q.limiterFor(profile.InterRequestDelay)

	dispatchedAny := false
	for {
		q.mu.Lock()
		canDispatch := len(q.processing) < profile.MaxConcurrent && len(q.items) > 0
		q.mu.Unlock()
		if !canDispatch {
			break
		}

		// Throttle dispatch via a persistent token-bucket limiter rather
		// than a raw time.Sleep, so the wait is preemptible on ctx
		// cancellation and naturally spaces dispatches across ticks.
		if err := limiter.Wait(ctx); err != nil {
			return false
		}

		q.mu.Lock()
		if len(q.processing) >= profile.MaxConcurrent || len(q.items) == 0 {
			q.mu.Unlock()
			break
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.processing[item.FileName] = true
		gen := q.generation
		q.mu.Unlock()

		dispatchedAny = true
		go q.processItem(ctx, item, gen)
	}

	q.mu.Lock()
	if len(q.items) == 0 && len(q.processing) == 0 {
		wasProcessing := q.isProcessing
		q.isProcessing = false
		stats := q.stats
		q.mu.Unlock()
		if wasProcessing && q.bus != nil {
			q.bus.Publish(model.TopicQueueCompleted, model.QueueCompletedEvent{Stats: stats})
		}
		return dispatchedAny
	}

	q.isProcessing = true
	q.mu.Unlock()
	return dispatchedAny
}

func (q *Queue) currentProfileLocked() model.ConcurrencyProfile {
	if q.resolver == nil {
		return model.ProfileFor(model.ModelGenericLegacy)
	}
	be, ok := q.resolver()
	if !ok || be == nil {
		return model.ProfileFor(model.ModelGenericLegacy)
	}
	return model.ProfileFor(be.ModelKind())
}

// processItem fetches one thumbnail and resolves its waiters, retrying up
// to twice on a fetch error before giving up; ErrBackendNotReady fails the
// item without a retry (§4.10 per-item processing).
func (q *Queue) processItem(ctx context.Context, item model.ThumbnailRequest, gen int) {
	start := time.Now()
	value, err := q.fetch(ctx, item.FileName)
	elapsedMs := time.Since(start).Milliseconds()

	q.mu.Lock()
	if gen != q.generation {
		// A cancelAll happened while this fetch was in flight; its waiters
		// were already resolved with Cancelled there.
		delete(q.processing, item.FileName)
		q.mu.Unlock()
		return
	}
	delete(q.processing, item.FileName)
	q.stats.TotalProcessMs += elapsedMs
	q.mu.Unlock()

	switch {
	case err == nil && value != "":
		thumb := strings.TrimPrefix(value, pngDataURIPrefix)
		q.resolveAndCount(item.FileName, Result{Thumbnail: thumb}, true)
	case err == nil:
		q.resolveAndCount(item.FileName, Result{Err: errors.New("No thumbnail available")}, false)
	default:
		q.mu.Lock()
		shouldRetry := item.RetryCount < 2 && !errors.Is(err, ErrBackendNotReady)
		if shouldRetry {
			item.RetryCount++
			q.items = append([]model.ThumbnailRequest{item}, q.items...)
		}
		q.mu.Unlock()
		if !shouldRetry {
			q.resolveAndCount(item.FileName, Result{Err: err}, false)
		}
	}

	q.mu.Lock()
	queueSize := len(q.items)
	q.mu.Unlock()
	if q.bus != nil {
		q.bus.Publish(model.TopicItemProcessed, model.ItemProcessedEvent{
			FileName: item.FileName, ProcessMs: elapsedMs, QueueSize: queueSize,
		})
	}
}

func (q *Queue) fetch(ctx context.Context, fileName string) (string, error) {
	if q.resolver == nil {
		return "", ErrBackendNotReady
	}
	be, ok := q.resolver()
	if !ok || be == nil {
		return "", ErrBackendNotReady
	}
	res := be.GetJobThumbnail(ctx, fileName)
	return res.Value, res.Err
}

func (q *Queue) resolveAndCount(fileName string, result Result, success bool) {
	q.mu.Lock()
	if success {
		q.stats.Completed++
	} else {
		q.stats.Failed++
	}
	waiters := q.pending[fileName]
	delete(q.pending, fileName)
	q.mu.Unlock()

	for _, ch := range waiters {
		ch <- result
		close(ch)
	}
}

// CancelAll empties the queue, resolves every in-flight and pending waiter
// with Result{Cancelled: true}, and allows a fresh cycle to start on the
// next Enqueue (§4.10 cancelAll).
func (q *Queue) CancelAll() {
	q.mu.Lock()
	q.generation++
	cancelledCount := len(q.items) + len(q.processing)
	q.items = nil
	q.processing = make(map[string]bool)
	q.isProcessing = false
	q.stats.Cancelled += cancelledCount
	waiters := q.pending
	q.pending = make(map[string][]chan Result)
	q.mu.Unlock()

	for _, chans := range waiters {
		for _, ch := range chans {
			ch <- Result{Cancelled: true}
			close(ch)
		}
	}
}

// Reset cancels everything in flight and zeroes the statistics block.
func (q *Queue) Reset() {
	q.CancelAll()
	q.mu.Lock()
	q.stats = model.ThumbnailStats{}
	q.mu.Unlock()
}

// StatsSnapshot is the read-only projection for §4.10's statistics block.
type StatsSnapshot struct {
	Pending    int
	Processing int
	model.ThumbnailStats
	AverageProcessMs float64
}

// Stats returns a point-in-time snapshot of the queue's statistics.
func (q *Queue) Stats() StatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return StatsSnapshot{
		Pending:          len(q.items),
		Processing:       len(q.processing),
		ThumbnailStats:   q.stats,
		AverageProcessMs: q.stats.AverageProcessMs(),
	}
}
