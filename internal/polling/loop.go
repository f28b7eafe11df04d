package polling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/backend"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerapi"
)

const maxRetryBackoff = 30 * time.Second

// thumbEntry is one loop's side-cache slot (§4.6.4): either a resolved
// base64 thumbnail or a remembered failure that is never retried within
// this loop's lifetime.
type thumbEntry struct {
	value  string
	failed bool
}

// loop is one context's polling goroutine. It owns its own cadence,
// retry counter, cached snapshot, and thumbnail side-cache; every field
// below is guarded by mu since SetCadence and CachedSnapshot are called
// from the Coordinator's event-bus callbacks, a different goroutine than
// run's tick loop.
type loop struct {
	contextID string
	be        *backend.Backend
	bus       *engine.Bus
	cfg       Config

	mu           sync.Mutex
	cadence      time.Duration
	retryCount   int
	lastSnapshot *model.PollingSnapshot
	lastJob      *model.CurrentJob
	thumbCache   map[string]thumbEntry
	lastFileName string

	cancel  context.CancelFunc
	stopped chan struct{}
}

func newLoop(contextID string, be *backend.Backend, bus *engine.Bus, cfg Config, cadence time.Duration) *loop {
	return &loop{
		contextID:  contextID,
		be:         be,
		bus:        bus,
		cfg:        cfg,
		cadence:    cadence,
		thumbCache: make(map[string]thumbEntry),
		stopped:    make(chan struct{}),
	}
}

// SetCadence changes the base interval used once the retry counter is
// zero; it takes effect on the loop's next scheduled tick (§4.6.5).
func (l *loop) SetCadence(d time.Duration) {
	l.mu.Lock()
	l.cadence = d
	l.mu.Unlock()
}

// CachedSnapshot returns the last snapshot this loop produced, or nil.
func (l *loop) CachedSnapshot() *model.PollingSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSnapshot
}

func (l *loop) currentInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.retryCount > 0 {
		backoff := l.cfg.BaseRetryDelay * time.Duration(int64(1)<<uint(l.retryCount-1))
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
		return backoff
	}
	return l.cadence
}

// run is the loop's Proc body (§4.6.1/§4.6.5): ticks are serial, never
// overlapping, and the loop exits on its own once retries are exhausted.
func (l *loop) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer close(l.stopped)

	ticker := time.NewTicker(l.currentInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !l.tick(ctx) {
			return nil
		}
		ticker.Reset(l.currentInterval())
	}
}

// stop cancels the loop and blocks until its goroutine has exited.
func (l *loop) stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-l.stopped
}

// tick runs one poll cycle. It returns false when the loop should stop
// itself (retries exhausted, §4.6.1 step 4).
func (l *loop) tick(ctx context.Context) bool {
	if !l.be.Ready() {
		return true // skip this tick, loop stays alive
	}
	if !l.be.GetFeatureSet().Status {
		return true // this variant never supports status; park without polling or burning retries
	}

	statusCh := make(chan backend.Result[printerapi.RawStatus], 1)
	materialCh := make(chan backend.Result[model.MaterialStationStatus], 1)
	go func() { statusCh <- l.be.GetPrinterStatus(ctx) }()
	go func() { materialCh <- l.be.GetMaterialStationStatus(ctx) }()
	statusRes := <-statusCh
	materialRes := <-materialCh

	if statusRes.Err != nil {
		return l.onTickFailure(statusRes.Err)
	}

	l.mu.Lock()
	l.retryCount = 0
	previous := l.lastJob
	l.mu.Unlock()

	status := deriveStatus(statusRes.Value, previous)

	var material model.MaterialStationStatus
	if materialRes.Err == nil {
		material = materialRes.Value
	}

	l.maybeRefreshThumbnail(ctx, status.CurrentJob)

	snapshot := model.PollingSnapshot{
		PrinterStatus:   &status,
		MaterialStation: material,
		Connected:       true,
		LastPolledAt:    time.Now(),
	}
	if status.CurrentJob != nil {
		if t, ok := l.thumbnailFor(status.CurrentJob.FileName); ok {
			snapshot.ThumbnailBase64 = t
		}
	}

	l.mu.Lock()
	l.lastJob = status.CurrentJob
	l.lastSnapshot = &snapshot
	l.mu.Unlock()

	l.bus.Publish(model.TopicDataUpdated, model.PollingDataEvent{ContextID: l.contextID, Snapshot: snapshot})
	l.bus.Publish(model.TopicStatusUpdated, model.StatusUpdatedEvent{ContextID: l.contextID, Status: status})
	if status.CurrentJob != nil {
		l.bus.Publish(model.TopicJobUpdated, model.JobUpdatedEvent{ContextID: l.contextID, Job: *status.CurrentJob})
	}
	return true
}

func (l *loop) onTickFailure(err error) bool {
	l.mu.Lock()
	l.retryCount++
	retryCount := l.retryCount
	l.mu.Unlock()

	willRetry := retryCount <= l.cfg.MaxRetries
	l.bus.Publish(model.TopicPollingError, model.PollingErrorEvent{
		ContextID: l.contextID, Error: err, RetryCount: retryCount, WillRetry: willRetry,
	})
	if !willRetry {
		l.bus.Publish(model.TopicPollingStopped, l.contextID)
		slog.Warn("polling: loop stopped after exhausting retries", "contextId", l.contextID, "error", err)
		return false
	}
	return true
}

// maybeRefreshThumbnail implements §4.6.4: when the active job's fileName
// changes, resolve it once per loop lifetime and cache the outcome
// (including a remembered failure) so subsequent ticks never re-ask.
func (l *loop) maybeRefreshThumbnail(ctx context.Context, job *model.CurrentJob) {
	if job == nil || job.FileName == "" {
		return
	}

	l.mu.Lock()
	changed := job.FileName != l.lastFileName
	l.lastFileName = job.FileName
	_, cached := l.thumbCache[job.FileName]
	l.mu.Unlock()

	if !changed || cached {
		return
	}

	if !l.be.GetFeatureSet().Thumbnail {
		return
	}
	res := l.be.GetJobThumbnail(ctx, job.FileName)

	l.mu.Lock()
	if res.Err != nil {
		l.thumbCache[job.FileName] = thumbEntry{failed: true}
	} else {
		l.thumbCache[job.FileName] = thumbEntry{value: res.Value}
	}
	l.mu.Unlock()
}

func (l *loop) thumbnailFor(fileName string) (string, bool) {
	if fileName == "" {
		return "", false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.thumbCache[fileName]
	if !ok || entry.failed {
		return "", false
	}
	return entry.value, true
}
