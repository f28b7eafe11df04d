// Package registry implements the Context Registry (C4): the in-memory
// table of live PrinterContexts, exclusive owner of context lifecycle.
// Structurally this generalizes modules/bambu/module.go's single
// lock-guarded map (`state map[string]*...` behind `lock sync.Mutex`)
// into a typed registry that also fans events out over the shared
// engine.Bus instead of a bespoke hook slice.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// Registry is the C4 singleton: process-wide, init-on-first-use, with an
// explicit teardown via RemoveAll on shutdown.
type Registry struct {
	bus *engine.Bus

	mu       sync.Mutex
	contexts map[string]*model.PrinterContext
	bySerial map[string]string // serial -> contextId
	activeID string
}

func New(bus *engine.Bus) *Registry {
	return &Registry{
		bus:      bus,
		contexts: make(map[string]*model.PrinterContext),
		bySerial: make(map[string]string),
	}
}

// NextContextID mints an opaque contextId unique for process lifetime
// (§3's invariant on PrinterContext.contextId).
func (r *Registry) NextContextID() string {
	return "ctx-" + uuid.NewString()
}

// Create inserts a new context and publishes context-created. The new
// context does not automatically become active; call SetActive for that
// (Connection Flow does both as one logical step, §4.3.5 step 7).
func (r *Registry) Create(ctx *model.PrinterContext) {
	r.mu.Lock()
	ctx.CreatedAt = time.Now()
	ctx.LastActivityAt = ctx.CreatedAt
	r.contexts[ctx.ContextID] = ctx
	if ctx.Identity.SerialNumber != "" {
		r.bySerial[ctx.Identity.SerialNumber] = ctx.ContextID
	}
	info := ctx.Info()
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(model.TopicContextCreated, info)
	}
}

// Get returns the context for id, or nil.
func (r *Registry) Get(id string) *model.PrinterContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contexts[id]
}

// GetBySerial looks up a context by its printer's serial number.
func (r *Registry) GetBySerial(serial string) *model.PrinterContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySerial[serial]
	if !ok {
		return nil
	}
	return r.contexts[id]
}

// All returns every live context.
func (r *Registry) All() []*model.PrinterContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.PrinterContext, 0, len(r.contexts))
	for _, c := range r.contexts {
		out = append(out, c)
	}
	return out
}

// ActiveContextID returns the currently-active context's id, or "" if none.
func (r *Registry) ActiveContextID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// SetActive switches the active context atomically (§4.4): the old
// context's isActive is cleared, the new one's is set, and a
// context-switched event is published carrying both ids. Switching to the
// context that is already active is a no-op (no event).
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	next, ok := r.contexts[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: unknown context %q", id)
	}
	previous := r.activeID
	if previous == id {
		r.mu.Unlock()
		return nil
	}
	if old, ok := r.contexts[previous]; ok {
		old.IsActive = false
	}
	next.IsActive = true
	r.activeID = id
	info := next.Info()
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(model.TopicContextSwitched, model.ContextSwitchedEvent{
			ContextID:         id,
			PreviousContextID: previous,
			Info:              info,
		})
	}
	return nil
}

// Remove deletes a context and publishes context-removed carrying whether
// it was the active one. Idempotent: removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	ctx, ok := r.contexts[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	wasActive := ctx.IsActive
	delete(r.contexts, id)
	if ctx.Identity.SerialNumber != "" {
		delete(r.bySerial, ctx.Identity.SerialNumber)
	}
	if r.activeID == id {
		r.activeID = ""
	}
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(model.TopicContextRemoved, model.ContextRemovedEvent{ContextID: id, WasActive: wasActive})
	}
}

// SetBackend/SetPollingService/SetCameraPort are the typed decoration
// setters named in §4.4 — the Registry stores them without interpreting
// their contents.
func (r *Registry) SetBackend(id string, backend any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contexts[id]; ok {
		c.Backend = backend
	}
}

func (r *Registry) SetPollingService(id string, svc any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contexts[id]; ok {
		c.PollingService = svc
	}
}

func (r *Registry) SetCameraPort(id string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contexts[id]; ok {
		c.CameraPort = port
	}
}

func (r *Registry) SetConnectionState(id string, state model.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contexts[id]; ok {
		c.ConnectionState = state
		c.LastActivityAt = time.Now()
	}
}
