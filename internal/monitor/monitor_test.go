package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

func publish(bus *engine.Bus, contextID string, state model.PrinterState, job *model.CurrentJob) {
	bus.Publish(model.TopicStatusUpdated, model.StatusUpdatedEvent{
		ContextID: contextID,
		Status:    model.PrinterStatus{State: state, CurrentJob: job},
	})
}

func TestMonitor_FirstStatusDoesNotEmit(t *testing.T) {
	bus := engine.NewBus()
	var events int
	bus.Subscribe(model.TopicStateChanged, func(any) { events++ })

	m := New(bus, "ctx-1")
	defer m.Close()
	publish(bus, "ctx-1", model.StateReady, nil)

	assert.Equal(t, 0, events)
	assert.Equal(t, model.StateReady, m.CurrentState())
}

func TestMonitor_EmitsStateChangedOnTransition(t *testing.T) {
	bus := engine.NewBus()
	var got model.LifecycleEvent
	bus.Subscribe(model.TopicStateChanged, func(v any) { got = v.(model.LifecycleEvent) })

	m := New(bus, "ctx-1")
	defer m.Close()
	publish(bus, "ctx-1", model.StateReady, nil)
	publish(bus, "ctx-1", model.StatePrinting, &model.CurrentJob{FileName: "a.gcode"})

	assert.Equal(t, model.StateReady, got.PreviousState)
	assert.Equal(t, model.StatePrinting, got.CurrentState)
}

func TestMonitor_IgnoresOtherContexts(t *testing.T) {
	bus := engine.NewBus()
	var events int
	bus.Subscribe(model.TopicStateChanged, func(any) { events++ })

	m := New(bus, "ctx-1")
	defer m.Close()
	publish(bus, "ctx-1", model.StateReady, nil)
	publish(bus, "ctx-other", model.StatePrinting, &model.CurrentJob{FileName: "x.gcode"})

	assert.Equal(t, 0, events)
}

func TestMonitor_PrintStarted(t *testing.T) {
	bus := engine.NewBus()
	var started model.LifecycleEvent
	bus.Subscribe(model.TopicPrintStarted, func(v any) { started = v.(model.LifecycleEvent) })

	m := New(bus, "ctx-1")
	defer m.Close()
	publish(bus, "ctx-1", model.StateReady, nil)
	publish(bus, "ctx-1", model.StatePrinting, &model.CurrentJob{FileName: "job.gcode"})

	assert.Equal(t, "job.gcode", started.JobName)
	assert.Equal(t, model.EventPrintStarted, started.Kind)
}

func TestMonitor_PrintStarted_OnHeatingToPrintingTransition(t *testing.T) {
	// Reproduces Ready -> Heating -> Printing(job="cube.gx"): Heating is
	// itself an active state, so gating on "previous state wasn't active"
	// would miss this transition. print-started must key off the job name
	// going from empty to non-empty instead.
	bus := engine.NewBus()
	var started model.LifecycleEvent
	var count int
	bus.Subscribe(model.TopicPrintStarted, func(v any) {
		started = v.(model.LifecycleEvent)
		count++
	})

	m := New(bus, "ctx-1")
	defer m.Close()
	publish(bus, "ctx-1", model.StateReady, nil)
	publish(bus, "ctx-1", model.StateHeating, nil)
	publish(bus, "ctx-1", model.StatePrinting, &model.CurrentJob{FileName: "cube.gx"})

	assert.Equal(t, 1, count)
	assert.Equal(t, "cube.gx", started.JobName)
	assert.Equal(t, model.EventPrintStarted, started.Kind)
}

func TestMonitor_PrintStarted_RequiresJobName(t *testing.T) {
	bus := engine.NewBus()
	var events int
	bus.Subscribe(model.TopicPrintStarted, func(any) { events++ })

	m := New(bus, "ctx-1")
	defer m.Close()
	publish(bus, "ctx-1", model.StateReady, nil)
	publish(bus, "ctx-1", model.StatePrinting, nil) // no job name

	assert.Equal(t, 0, events)
}

func TestMonitor_PrintCompletedCancelledError(t *testing.T) {
	for _, tc := range []struct {
		state model.PrinterState
		topic string
	}{
		{model.StateCompleted, model.TopicPrintCompleted},
		{model.StateCancelled, model.TopicPrintCancelled},
		{model.StateErrorPrint, model.TopicPrintError},
	} {
		bus := engine.NewBus()
		var events int
		bus.Subscribe(tc.topic, func(any) { events++ })

		m := New(bus, "ctx-1")
		publish(bus, "ctx-1", model.StatePrinting, &model.CurrentJob{FileName: "j.gcode"})
		publish(bus, "ctx-1", tc.state, &model.CurrentJob{FileName: "j.gcode"})
		m.Close()

		require.Equal(t, 1, events, tc.topic)
	}
}

func TestMonitor_Close_StopsReacting(t *testing.T) {
	bus := engine.NewBus()
	var events int
	bus.Subscribe(model.TopicStateChanged, func(any) { events++ })

	m := New(bus, "ctx-1")
	publish(bus, "ctx-1", model.StateReady, nil)
	m.Close()
	publish(bus, "ctx-1", model.StatePrinting, &model.CurrentJob{FileName: "a.gcode"})

	assert.Equal(t, 0, events)
}
