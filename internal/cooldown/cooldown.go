// Package cooldown implements the Temperature Monitor (C8): per-context
// bed-cooldown tracking that starts on print-completed and stops on the
// first observed cooled reading. Grounded on modules/bambu's
// temperature-polling fields, generalized from "log the bed temp every
// tick" into an explicit start/stop state machine.
package cooldown

import (
	"sync"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// Config holds the §4.8 defaults.
type Config struct {
	Threshold     float64
	CheckInterval time.Duration
}

func DefaultConfig() Config {
	return Config{Threshold: 35, CheckInterval: 10 * time.Second}
}

// Monitor is one context's Temperature Monitor instance.
type Monitor struct {
	contextID string
	bus       *engine.Bus
	cfg       Config

	mu                sync.Mutex
	active            bool
	printCompleteTime time.Time
	lastBedTemp       float64
	cooled            bool

	stopTicker func()
	unsubs     []func()
}

// New creates a Monitor for contextID; it stays idle until it observes a
// print-completed event for that context.
func New(bus *engine.Bus, contextID string, cfg Config) *Monitor {
	m := &Monitor{contextID: contextID, bus: bus, cfg: cfg}
	m.unsubs = append(m.unsubs,
		bus.Subscribe(model.TopicPrintCompleted, m.onPrintCompleted),
		bus.Subscribe(model.TopicPrintStarted, m.onReset),
		bus.Subscribe(model.TopicPrintCancelled, m.onReset),
		bus.Subscribe(model.TopicPrintError, m.onReset),
		bus.Subscribe(model.TopicStatusUpdated, m.onStatusUpdated),
	)
	return m
}

// Close stops this Monitor from reacting to further events and cancels
// any running check-interval ticker.
func (m *Monitor) Close() {
	m.mu.Lock()
	stop := m.stopTicker
	m.stopTicker = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
	for _, unsub := range m.unsubs {
		unsub()
	}
}

func (m *Monitor) onReset(v any) {
	evt, ok := v.(model.LifecycleEvent)
	if !ok || evt.ContextID != m.contextID {
		return
	}
	m.reset()
}

func (m *Monitor) reset() {
	m.mu.Lock()
	stop := m.stopTicker
	m.active = false
	m.cooled = false
	m.stopTicker = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (m *Monitor) onPrintCompleted(v any) {
	evt, ok := v.(model.LifecycleEvent)
	if !ok || evt.ContextID != m.contextID {
		return
	}

	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.cooled = false
	m.printCompleteTime = time.Now()
	if evt.Status != nil {
		m.lastBedTemp = evt.Status.Bed.Current
	}
	m.mu.Unlock()

	m.startTicker()
}

func (m *Monitor) onStatusUpdated(v any) {
	evt, ok := v.(model.StatusUpdatedEvent)
	if !ok || evt.ContextID != m.contextID {
		return
	}
	m.mu.Lock()
	active := m.active
	m.lastBedTemp = evt.Status.Bed.Current
	m.mu.Unlock()
	if active {
		m.check(evt.Status.Bed.Current)
	}
}

func (m *Monitor) startTicker() {
	done := make(chan struct{})
	ticker := time.NewTicker(m.cfg.CheckInterval)
	m.mu.Lock()
	m.stopTicker = sync.OnceFunc(func() { close(done) })
	m.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.mu.Lock()
				temp := m.lastBedTemp
				m.mu.Unlock()
				m.check(temp)
			}
		}
	}()
}

// check implements the comparison+emit steps common to both the ticker
// and the incoming status-updated path.
func (m *Monitor) check(bedTemp float64) {
	m.mu.Lock()
	if !m.active || m.cooled {
		m.mu.Unlock()
		return
	}
	hasCooled := bedTemp < m.cfg.Threshold
	m.mu.Unlock()

	m.bus.Publish(model.TopicTemperatureCheck, TemperatureCheckedEvent{
		ContextID: m.contextID, Temperature: bedTemp, Threshold: m.cfg.Threshold, HasCooled: hasCooled,
	})

	if !hasCooled {
		return
	}

	m.mu.Lock()
	if m.cooled { // another path (ticker + status-updated racing) already fired
		m.mu.Unlock()
		return
	}
	m.cooled = true
	m.active = false
	stop := m.stopTicker
	m.stopTicker = nil
	completedAt := m.printCompleteTime
	m.mu.Unlock()
	if stop != nil {
		stop()
	}

	m.bus.Publish(model.TopicPrinterCooled, PrinterCooledEvent{
		ContextID: m.contextID, Temperature: bedTemp, BedCooledAt: time.Now(), PrintCompletedAt: completedAt,
	})
}

// TemperatureCheckedEvent carries the payload for TopicTemperatureCheck.
type TemperatureCheckedEvent struct {
	ContextID   string
	Temperature float64
	Threshold   float64
	HasCooled   bool
}

// PrinterCooledEvent carries the payload for TopicPrinterCooled.
type PrinterCooledEvent struct {
	ContextID        string
	Temperature      float64
	BedCooledAt      time.Time
	PrintCompletedAt time.Time
}
