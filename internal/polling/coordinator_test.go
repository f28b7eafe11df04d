package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/backend"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerapi"
)

func testConfig() Config {
	return Config{
		ActiveInterval:   10 * time.Millisecond,
		InactiveInterval: 10 * time.Millisecond,
		MaxRetries:       2,
		BaseRetryDelay:   5 * time.Millisecond,
	}
}

func readyBackend(t *testing.T, rich *printerapi.FakeRichClient, kind model.ModelKind) *backend.Backend {
	t.Helper()
	rich.InitOK = true
	be := backend.New(kind, rich, nil)
	require.NoError(t, be.Initialize(context.Background()).Err)
	return be
}

type counter struct {
	mu    sync.Mutex
	count int
	last  any
}

func (c *counter) sub(bus *engine.Bus, topic string) {
	bus.Subscribe(topic, func(v any) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.count++
		c.last = v
	})
}

func (c *counter) get() (int, any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.last
}

func TestLoop_TicksAndPublishesSnapshot(t *testing.T) {
	bus := engine.NewBus()
	rich := &printerapi.FakeRichClient{Status: printerapi.RawStatus{
		State: "printing", HasJob: true, JobFileName: "part.gcode", JobProgress: 0.5,
	}}
	be := readyBackend(t, rich, model.ModelAdventurer5M)

	dataUpdated := &counter{}
	dataUpdated.sub(bus, model.TopicDataUpdated)

	c := NewCoordinator(bus, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, "ctx-1", be, true)
	defer c.StopAll()

	require.Eventually(t, func() bool {
		n, _ := dataUpdated.get()
		return n > 0
	}, time.Second, 5*time.Millisecond)

	snap := c.CachedSnapshot("ctx-1")
	require.NotNil(t, snap)
	require.NotNil(t, snap.PrinterStatus)
	assert.Equal(t, model.StatePrinting, snap.PrinterStatus.State)
	require.NotNil(t, snap.PrinterStatus.CurrentJob)
	assert.Equal(t, 50.0, snap.PrinterStatus.CurrentJob.ProgressPercent)
}

func TestLoop_StopsAfterExhaustingRetries(t *testing.T) {
	bus := engine.NewBus()
	rich := &printerapi.FakeRichClient{StatusErr: assertErr}
	be := readyBackend(t, rich, model.ModelAdventurer5M)

	stopped := &counter{}
	stopped.sub(bus, model.TopicPollingStopped)
	errs := &counter{}
	errs.sub(bus, model.TopicPollingError)

	cfg := testConfig()
	c := NewCoordinator(bus, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, "ctx-2", be, true)
	defer c.StopAll()

	require.Eventually(t, func() bool {
		n, _ := stopped.get()
		return n > 0
	}, time.Second, 5*time.Millisecond)

	n, _ := errs.get()
	assert.GreaterOrEqual(t, n, cfg.MaxRetries+1)
}

func TestLoop_SkipsTickWhenBackendNotReady(t *testing.T) {
	bus := engine.NewBus()
	rich := &printerapi.FakeRichClient{}
	be := backend.New(model.ModelAdventurer5M, rich, nil) // never Initialize()d

	dataUpdated := &counter{}
	dataUpdated.sub(bus, model.TopicDataUpdated)

	c := NewCoordinator(bus, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, "ctx-3", be, true)
	defer c.StopAll()

	time.Sleep(50 * time.Millisecond)
	n, _ := dataUpdated.get()
	assert.Equal(t, 0, n)
}

func TestLoop_LegacyFamilyNeverRetriesOrStops(t *testing.T) {
	// genericLegacy's FeatureSet has no Status support, so GetPrinterStatus
	// always fails; the loop must park quietly instead of burning its
	// retry budget and emitting polling-stopped.
	bus := engine.NewBus()
	legacy := &printerapi.FakeLegacyClient{InitOK: true}
	be := backend.New(model.ModelGenericLegacy, nil, legacy)
	require.NoError(t, be.Initialize(context.Background()).Err)

	stopped := &counter{}
	stopped.sub(bus, model.TopicPollingStopped)
	errs := &counter{}
	errs.sub(bus, model.TopicPollingError)

	c := NewCoordinator(bus, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, "ctx-legacy", be, true)
	defer c.StopAll()

	time.Sleep(50 * time.Millisecond)
	n, _ := stopped.get()
	assert.Equal(t, 0, n)
	n, _ = errs.get()
	assert.Equal(t, 0, n)
}

func TestCoordinator_ContextSwitchedRetunesAndReemitsSnapshot(t *testing.T) {
	bus := engine.NewBus()
	richA := &printerapi.FakeRichClient{Status: printerapi.RawStatus{State: "idle"}}
	beA := readyBackend(t, richA, model.ModelAdventurer5M)
	richB := &printerapi.FakeRichClient{Status: printerapi.RawStatus{State: "idle"}}
	beB := readyBackend(t, richB, model.ModelAdventurer5M)

	c := NewCoordinator(bus, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, "ctx-a", beA, true)
	c.Start(ctx, "ctx-b", beB, false)
	defer c.StopAll()

	require.Eventually(t, func() bool {
		return c.CachedSnapshot("ctx-a") != nil && c.CachedSnapshot("ctx-b") != nil
	}, time.Second, 5*time.Millisecond)

	pollingData := &counter{}
	pollingData.sub(bus, model.TopicPollingData)

	bus.Publish(model.TopicContextSwitched, model.ContextSwitchedEvent{ContextID: "ctx-b", PreviousContextID: "ctx-a"})

	n, last := pollingData.get()
	require.Equal(t, 1, n)
	evt := last.(model.PollingDataEvent)
	assert.Equal(t, "ctx-b", evt.ContextID)
}

func TestCoordinator_ContextRemovedStopsLoop(t *testing.T) {
	bus := engine.NewBus()
	rich := &printerapi.FakeRichClient{Status: printerapi.RawStatus{State: "idle"}}
	be := readyBackend(t, rich, model.ModelAdventurer5M)

	c := NewCoordinator(bus, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, "ctx-4", be, true)

	bus.Publish(model.TopicContextRemoved, model.ContextRemovedEvent{ContextID: "ctx-4"})
	require.Eventually(t, func() bool {
		c.mu.Lock()
		_, exists := c.loops["ctx-4"]
		c.mu.Unlock()
		return !exists
	}, time.Second, 5*time.Millisecond)
}

var assertErr = errors.New("printer offline")
