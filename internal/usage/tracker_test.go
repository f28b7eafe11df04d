package usage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerstore"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/registry"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/spoolman"
)

func newTestFixture(t *testing.T, spool *model.Spool) (*engine.Bus, *registry.Registry, *printerstore.Store) {
	t.Helper()
	bus := engine.NewBus()
	reg := registry.New(bus)
	store, err := printerstore.Open(filepath.Join(t.TempDir(), "printer_details.json"))
	require.NoError(t, err)

	require.NoError(t, store.Save(&model.StoredPrinter{
		PrinterIdentity: model.PrinterIdentity{Name: "P1", IPAddress: "10.0.0.5", SerialNumber: "SN1"},
		CheckCode:       "cc", ClientTypeTag: "new",
		Overrides: model.PrinterOverrides{ActiveSpool: spool},
	}, printerstore.DefaultSaveOptions()))

	reg.Create(&model.PrinterContext{ContextID: "ctx-1", Identity: model.PrinterIdentity{SerialNumber: "SN1"}})
	return bus, reg, store
}

func newTestTracker(t *testing.T, cfg Config, spool *model.Spool) (*engine.Bus, *registry.Registry, *printerstore.Store, *spoolman.FakeUpdater, *Tracker) {
	t.Helper()
	bus, reg, store := newTestFixture(t, spool)
	updater := &spoolman.FakeUpdater{Result: model.Spool{ID: 7, Material: "PLA", RemainingG: 900}}
	tr := New(bus, reg, store, updater, "ctx-1", cfg)
	return bus, reg, store, updater, tr
}

func completedEvent(contextID, jobName string, weightG, lengthM float64) model.LifecycleEvent {
	return model.LifecycleEvent{
		Kind: model.EventPrintCompleted, ContextID: contextID, JobName: jobName,
		Status: &model.PrinterStatus{CurrentJob: &model.CurrentJob{
			FileName: jobName, WeightUsedGrams: weightG, LengthUsedMeters: lengthM,
		}},
	}
}

func TestTracker_CallsUpdateUsageAndPersistsSpool(t *testing.T) {
	bus, _, store, updater, tr := newTestTracker(t, Config{Enabled: true, Mode: model.UsageUpdateWeight}, &model.Spool{ID: 7, RemainingG: 1000})
	defer tr.Close()

	var updated model.UsageUpdatedEvent
	bus.Subscribe(model.TopicUsageUpdated, func(v any) { updated = v.(model.UsageUpdatedEvent) })

	bus.Publish(model.TopicPrintCompleted, completedEvent("ctx-1", "job.gcode", 12.5, 3.2))

	require.Len(t, updater.Calls, 1)
	assert.Equal(t, int64(7), updater.Calls[0].SpoolID)
	require.NotNil(t, updater.Calls[0].Payload.UseWeight)
	assert.Equal(t, 12.5, *updater.Calls[0].Payload.UseWeight)
	assert.Nil(t, updater.Calls[0].Payload.UseLength)

	assert.Equal(t, int64(7), updated.SpoolID)
	assert.Equal(t, 900.0, store.Get("SN1").Overrides.ActiveSpool.RemainingG)
}

func TestTracker_WeightModeFallsBackToLength(t *testing.T) {
	_, _, _, updater, tr := newTestTracker(t, Config{Enabled: true, Mode: model.UsageUpdateWeight}, &model.Spool{ID: 7})
	defer tr.Close()

	tr.onPrintCompleted(completedEvent("ctx-1", "job.gcode", 0, 3.2))

	require.Len(t, updater.Calls, 1)
	require.NotNil(t, updater.Calls[0].Payload.UseLength)
	assert.InDelta(t, 3200, *updater.Calls[0].Payload.UseLength, 0.01)
}

func TestTracker_LengthModePrefersLength(t *testing.T) {
	_, _, _, updater, tr := newTestTracker(t, Config{Enabled: true, Mode: model.UsageUpdateLength}, &model.Spool{ID: 7})
	defer tr.Close()

	tr.onPrintCompleted(completedEvent("ctx-1", "job.gcode", 12.5, 3.2))

	require.Len(t, updater.Calls, 1)
	assert.NotNil(t, updater.Calls[0].Payload.UseLength)
	assert.Nil(t, updater.Calls[0].Payload.UseWeight)
}

func TestTracker_NoUsableUsageSkipsCall(t *testing.T) {
	_, _, _, updater, tr := newTestTracker(t, Config{Enabled: true, Mode: model.UsageUpdateWeight}, &model.Spool{ID: 7})
	defer tr.Close()

	tr.onPrintCompleted(completedEvent("ctx-1", "job.gcode", 0, 0))

	assert.Empty(t, updater.Calls)
}

func TestTracker_DisabledSkipsEntirely(t *testing.T) {
	_, _, _, updater, tr := newTestTracker(t, Config{Enabled: false, Mode: model.UsageUpdateWeight}, &model.Spool{ID: 7})
	defer tr.Close()

	tr.onPrintCompleted(completedEvent("ctx-1", "job.gcode", 12.5, 0))

	assert.Empty(t, updater.Calls)
}

func TestTracker_NoActiveSpoolSkips(t *testing.T) {
	_, _, _, updater, tr := newTestTracker(t, Config{Enabled: true, Mode: model.UsageUpdateWeight}, nil)
	defer tr.Close()

	tr.onPrintCompleted(completedEvent("ctx-1", "job.gcode", 12.5, 0))

	assert.Empty(t, updater.Calls)
}

func TestTracker_IgnoresOtherContexts(t *testing.T) {
	_, _, _, updater, tr := newTestTracker(t, Config{Enabled: true, Mode: model.UsageUpdateWeight}, &model.Spool{ID: 7})
	defer tr.Close()

	tr.onPrintCompleted(completedEvent("ctx-other", "job.gcode", 12.5, 0))

	assert.Empty(t, updater.Calls)
}

func TestTracker_IdempotentForSameJobName(t *testing.T) {
	_, _, _, updater, tr := newTestTracker(t, Config{Enabled: true, Mode: model.UsageUpdateWeight}, &model.Spool{ID: 7})
	defer tr.Close()

	tr.onPrintCompleted(completedEvent("ctx-1", "job.gcode", 12.5, 0))
	tr.onPrintCompleted(completedEvent("ctx-1", "job.gcode", 12.5, 0))

	assert.Len(t, updater.Calls, 1)
}

func TestTracker_FailureEmitsUsageUpdateFailedAndDoesNotMarkIdempotent(t *testing.T) {
	bus, reg, store := newTestFixture(t, &model.Spool{ID: 7})
	updater := &spoolman.FakeUpdater{Err: errors.New("network down")}
	tr := New(bus, reg, store, updater, "ctx-1", Config{Enabled: true, Mode: model.UsageUpdateWeight})
	defer tr.Close()

	var failed model.UsageUpdateFailedEvent
	bus.Subscribe(model.TopicUsageUpdateFailed, func(v any) { failed = v.(model.UsageUpdateFailedEvent) })

	tr.onPrintCompleted(completedEvent("ctx-1", "job.gcode", 12.5, 0))
	assert.Error(t, failed.Error)
	assert.Equal(t, int64(7), failed.SpoolID)

	// Failure must not mark idempotent: a retry of the same job name tries again.
	tr.onPrintCompleted(completedEvent("ctx-1", "job.gcode", 12.5, 0))
	assert.Len(t, updater.Calls, 2)
}
