// Package monitor implements the Print State Monitor (C7): one instance
// per context, deriving lifecycle transitions from the Polling
// Coordinator's status-updated stream. Grounded on modules/bambu's
// state-diffing (comparing this poll's status to the last one it saw to
// decide whether to fire a notification), generalized from a single
// hardcoded "print finished" check into a full state-transition table.
package monitor

import (
	"sync"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// isActive mirrors model.IsActivePrintState but is
// named locally per §4.7's explicit restatement of the active-state set
// (Busy, Printing, Heating, Calibrating, Paused, Pausing).
func isActive(s model.PrinterState) bool { return model.IsActivePrintState(s) }

// Monitor tracks one context's state history and emits lifecycle events
// on the shared bus. Safe for concurrent use: the bus runs each subscriber
// in the publishing goroutine, so onStatusUpdated runs on whichever
// goroutine published the status update.
type Monitor struct {
	contextID string
	bus       *engine.Bus

	mu                  sync.Mutex
	hasSeen             bool
	currentState        model.PrinterState
	currentJobName      string
	lastStateChangeTime time.Time

	unsubscribe func()
}

// New creates and starts a Monitor for contextID. Call Close to stop
// listening (e.g. when the context is removed).
func New(bus *engine.Bus, contextID string) *Monitor {
	m := &Monitor{contextID: contextID, bus: bus}
	m.unsubscribe = bus.Subscribe(model.TopicStatusUpdated, m.onStatusUpdated)
	return m
}

// Close stops this Monitor from reacting to further status updates.
func (m *Monitor) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// CurrentState returns the last state this Monitor observed.
func (m *Monitor) CurrentState() model.PrinterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentState
}

func (m *Monitor) onStatusUpdated(v any) {
	evt, ok := v.(model.StatusUpdatedEvent)
	if !ok || evt.ContextID != m.contextID {
		return
	}

	jobName := ""
	if evt.Status.CurrentJob != nil {
		jobName = evt.Status.CurrentJob.FileName
	}

	m.mu.Lock()
	previous := m.currentState
	previousJobName := m.currentJobName
	hadSeen := m.hasSeen
	m.currentJobName = jobName
	m.currentState = evt.Status.State
	m.hasSeen = true
	now := time.Now()
	changed := hadSeen && previous != evt.Status.State
	if changed {
		m.lastStateChangeTime = now
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	m.bus.Publish(model.TopicStateChanged, model.LifecycleEvent{
		Kind: model.EventStateChanged, ContextID: m.contextID,
		JobName: jobName, PreviousState: previous, CurrentState: evt.Status.State,
		Status: &evt.Status, Timestamp: now,
	})

	switch {
	case isActive(evt.Status.State) && previousJobName == "" && jobName != "":
		m.emit(model.EventPrintStarted, model.TopicPrintStarted, previous, evt.Status, now)
	case evt.Status.State == model.StateCompleted:
		m.emit(model.EventPrintCompleted, model.TopicPrintCompleted, previous, evt.Status, now)
	case evt.Status.State == model.StateCancelled:
		m.emit(model.EventPrintCancelled, model.TopicPrintCancelled, previous, evt.Status, now)
	case evt.Status.State == model.StateErrorPrint:
		m.emit(model.EventPrintError, model.TopicPrintError, previous, evt.Status, now)
	}
}

func (m *Monitor) emit(kind model.LifecycleEventKind, topic string, previous model.PrinterState, status model.PrinterStatus, ts time.Time) {
	jobName := ""
	if status.CurrentJob != nil {
		jobName = status.CurrentJob.FileName
	}
	m.bus.Publish(topic, model.LifecycleEvent{
		Kind: kind, ContextID: m.contextID, JobName: jobName,
		PreviousState: previous, CurrentState: status.State, Status: &status, Timestamp: ts,
	})
}
