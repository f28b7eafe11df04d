// Package polling implements the Polling Coordinator (C6): one adaptive-
// cadence loop per context, producing the normalized PollingSnapshot every
// tick and re-tuning cadence on context switches. Grounded on
// modules/bambu's poll-loop shape (one goroutine per connected printer,
// ticker-driven, emitting onto a shared event sink) and on
// engine.Poll/engine.ProcMgr's ticker-with-jitter idiom, adapted here into
// a per-context loop whose interval can change at runtime — something the
// fixed-interval engine.Poll helper doesn't support, so the Coordinator
// rolls its own tick loop rather than reusing it directly.
package polling

import (
	"context"
	"sync"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/backend"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// Config holds the cadence/retry defaults from §4.6.
type Config struct {
	ActiveInterval   time.Duration
	InactiveInterval time.Duration
	MaxRetries       int
	BaseRetryDelay   time.Duration
}

// DefaultConfig matches §4.6's stated defaults.
func DefaultConfig() Config {
	return Config{
		ActiveInterval:   3000 * time.Millisecond,
		InactiveInterval: 3000 * time.Millisecond,
		MaxRetries:       3,
		BaseRetryDelay:   time.Second,
	}
}

// Coordinator owns every context's polling loop. It subscribes to the
// Registry's context-switched/context-removed events to re-tune cadence
// and tear down loops without any other component needing to know a
// Coordinator exists.
type Coordinator struct {
	bus *engine.Bus
	cfg Config

	mu    sync.Mutex
	loops map[string]*loop
	wg    sync.WaitGroup
}

// NewCoordinator wires up event-bus subscriptions and returns a ready
// Coordinator. It never touches the Context Registry directly — callers
// decide a new loop's starting cadence (the active/inactive flag to
// Start) and the Registry's own context-switched/context-removed events
// drive every re-tune after that, matching the Registry's single-writer
// invariant.
func NewCoordinator(bus *engine.Bus, cfg Config) *Coordinator {
	c := &Coordinator{bus: bus, cfg: cfg, loops: make(map[string]*loop)}
	bus.Subscribe(model.TopicContextSwitched, c.onContextSwitched)
	bus.Subscribe(model.TopicContextRemoved, c.onContextRemoved)
	return c
}

// Start begins polling contextID against be. active controls the starting
// cadence; callers normally pass true only for the context that is
// currently the Registry's active one. Start is a no-op if a loop for this
// context already exists.
func (c *Coordinator) Start(ctx context.Context, contextID string, be *backend.Backend, active bool) {
	c.mu.Lock()
	if _, exists := c.loops[contextID]; exists {
		c.mu.Unlock()
		return
	}
	cadence := c.cfg.InactiveInterval
	if active {
		cadence = c.cfg.ActiveInterval
	}
	l := newLoop(contextID, be, c.bus, c.cfg, cadence)
	// Set the loop's cancel before its goroutine starts, so a Stop that
	// runs before run has begun still ends the loop.
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	c.loops[contextID] = l
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		_ = l.run(loopCtx)
	}()
}

// Stop tears down contextID's loop, if one exists, and blocks until its
// goroutine has fully exited.
func (c *Coordinator) Stop(contextID string) {
	c.mu.Lock()
	l, ok := c.loops[contextID]
	if ok {
		delete(c.loops, contextID)
	}
	c.mu.Unlock()
	if ok {
		l.stop()
	}
}

// StopAll tears down every loop; used on orderly process shutdown.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.loops))
	for id := range c.loops {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Stop(id)
	}
}

// CachedSnapshot returns contextID's last polled snapshot, or nil if the
// loop doesn't exist or hasn't completed a tick yet.
func (c *Coordinator) CachedSnapshot(contextID string) *model.PollingSnapshot {
	c.mu.Lock()
	l, ok := c.loops[contextID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return l.CachedSnapshot()
}

// onContextSwitched implements §4.6.2: the new-active context speeds up to
// the active cadence and synchronously re-emits its last cached snapshot
// (invariant 10 / scenario S1); the previous context slows to the
// inactive cadence.
func (c *Coordinator) onContextSwitched(v any) {
	evt, ok := v.(model.ContextSwitchedEvent)
	if !ok {
		return
	}
	c.mu.Lock()
	next := c.loops[evt.ContextID]
	previous := c.loops[evt.PreviousContextID]
	c.mu.Unlock()

	if next != nil {
		next.SetCadence(c.cfg.ActiveInterval)
		if snap := next.CachedSnapshot(); snap != nil {
			c.bus.Publish(model.TopicPollingData, model.PollingDataEvent{ContextID: evt.ContextID, Snapshot: *snap})
		}
	}
	if previous != nil {
		previous.SetCadence(c.cfg.InactiveInterval)
	}
}

// onContextRemoved implements §4.6.2's teardown clause.
func (c *Coordinator) onContextRemoved(v any) {
	evt, ok := v.(model.ContextRemovedEvent)
	if !ok {
		return
	}
	c.Stop(evt.ContextID)
}
