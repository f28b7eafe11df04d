// Package usage implements the Usage Tracker (C9): one instance per
// context, reconciling a completed print's filament consumption against
// the external Spoolman-like inventory service. Grounded on
// modules/discordwebhook/module.go's event-triggered external side effect
// (detectStateChanges -> QueueMessage), generalized from queuing a Discord
// notification into calling the filament-inventory collaborator directly
// and reacting to its success/failure synchronously.
package usage

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerstore"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/registry"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/spoolman"
)

// Config holds the Config Store fields the Usage Tracker reads (§4.9
// step 1 / step 5's mode selection).
type Config struct {
	Enabled bool
	Mode    model.UsageUpdateMode
}

// Tracker is one context's Usage Tracker instance.
type Tracker struct {
	contextID string
	bus       *engine.Bus
	reg       *registry.Registry
	store     *printerstore.Store
	updater   spoolman.UsageUpdater
	cfg       Config

	mu                    sync.Mutex
	usageRecordedForPrint string

	unsubscribe func()
}

// New creates and starts a Tracker for contextID. Call Close when the
// context is removed.
func New(bus *engine.Bus, reg *registry.Registry, store *printerstore.Store, updater spoolman.UsageUpdater, contextID string, cfg Config) *Tracker {
	t := &Tracker{contextID: contextID, bus: bus, reg: reg, store: store, updater: updater, cfg: cfg}
	t.unsubscribe = bus.Subscribe(model.TopicPrintCompleted, t.onPrintCompleted)
	return t
}

// Close stops this Tracker from reacting to further completions.
func (t *Tracker) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
}

func (t *Tracker) onPrintCompleted(v any) {
	evt, ok := v.(model.LifecycleEvent)
	if !ok || evt.ContextID != t.contextID {
		return
	}

	// Step 1: usage tracking disabled entirely.
	if !t.cfg.Enabled {
		return
	}

	ctx := t.reg.Get(t.contextID)
	if ctx == nil {
		return
	}
	printer := t.store.Get(ctx.Identity.SerialNumber)
	if printer == nil || printer.Overrides.ActiveSpool == nil {
		// Step 2: no active spool assignment for this context.
		return
	}
	spool := printer.Overrides.ActiveSpool

	if evt.JobName == "" {
		return
	}
	t.mu.Lock()
	if t.usageRecordedForPrint == evt.JobName {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	var weightG, lengthM float64
	if evt.Status != nil && evt.Status.CurrentJob != nil {
		weightG = evt.Status.CurrentJob.WeightUsedGrams
		lengthM = evt.Status.CurrentJob.LengthUsedMeters
	}
	lengthMm := math.Round(lengthM*1000*100) / 100

	payload, ok := selectPayload(t.cfg.Mode, weightG, lengthMm)
	if !ok {
		slog.Warn("usage tracker: no usable weight or length for completed print", "context_id", t.contextID, "job", evt.JobName)
		return
	}

	spoolResult, err := t.updater.UpdateUsage(context.Background(), spool.ID, payload)
	if err != nil {
		slog.Error("usage tracker: updateUsage failed", "context_id", t.contextID, "spool_id", spool.ID, "err", err)
		t.bus.Publish(model.TopicUsageUpdateFailed, model.UsageUpdateFailedEvent{
			ContextID: t.contextID, SpoolID: spool.ID, Error: err,
		})
		return
	}

	if err := t.store.SetActiveSpool(ctx.Identity.SerialNumber, &spoolResult); err != nil {
		slog.Error("usage tracker: persisting updated spool failed", "context_id", t.contextID, "err", err)
		return
	}

	t.mu.Lock()
	t.usageRecordedForPrint = evt.JobName
	t.mu.Unlock()

	t.bus.Publish(model.TopicUsageUpdated, model.UsageUpdatedEvent{
		ContextID: t.contextID, SpoolID: spoolResult.ID, Spool: spoolResult,
	})
}

// selectPayload implements §4.9 step 5's mode-and-fallback selection:
// weight mode prefers weight (falling back to length), length mode prefers
// length (falling back to weight). ok is false if neither is usable.
func selectPayload(mode model.UsageUpdateMode, weightG, lengthMm float64) (spoolman.UsagePayload, bool) {
	switch mode {
	case model.UsageUpdateLength:
		if lengthMm > 0 {
			return spoolman.UsagePayload{UseLength: &lengthMm}, true
		}
		if weightG > 0 {
			return spoolman.UsagePayload{UseWeight: &weightG}, true
		}
	default: // model.UsageUpdateWeight
		if weightG > 0 {
			return spoolman.UsagePayload{UseWeight: &weightG}, true
		}
		if lengthMm > 0 {
			return spoolman.UsagePayload{UseLength: &lengthMm}, true
		}
	}
	return spoolman.UsagePayload{}, false
}
