// Package connect implements the Connection Flow (C3): probe, classify,
// acquire a check code, handshake, and materialize a Context — or fail
// with a typed ConnectionError. This is the hardest control flow in the
// system; it is grounded on modules/bambu's connect-then-poll sequencing
// and modules/machines's config-driven printer wiring, generalized from
// "always Bambu" into a probe-then-classify dispatch over several printer
// families.
package connect

import (
	"context"
	"log/slog"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/backend"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerapi"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerstore"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/registry"
)

// Flow wires together the collaborators Connection Flow needs: a client
// factory, the Printer Details Store, the Context Registry, and an
// optional check-code prompt.
type Flow struct {
	Factory      printerapi.Factory
	Printers     *printerstore.Store
	Registry     *registry.Registry
	Bus          *engine.Bus
	Prompt       CheckCodePrompt
	ProbeOptions ProbeOptions

	// ForceLegacyAPI is the global override; a per-printer override (from
	// StoredPrinter.Overrides.ForceLegacyMode) takes precedence when set.
	ForceLegacyAPI bool
}

// ConnectSpec describes one explicit connection request (§6.2's
// --printers= entries, or a discovered/saved printer).
type ConnectSpec struct {
	IP          string
	ClientType  string // "new" or "legacy"
	CheckCode   string
}

// Result is the outcome of a successful Connect call.
type Result struct {
	ContextID string
	Identity  model.PrinterIdentity
}

// Connect runs the full §4.3 sequence for one printer spec: probe,
// classify, resolve a check code if needed, handshake, and materialize the
// context. It never panics across its boundary; failures come back as
// *ConnectionError.
func (f *Flow) Connect(ctx context.Context, spec ConnectSpec) (*Result, error) {
	outcome, err := Probe(ctx, f.Factory, spec.IP, f.ProbeOptions)
	if err != nil {
		return nil, err
	}

	forceLegacy := f.ForceLegacyAPI
	if stored := f.Printers.Get(outcome.Identity.SerialNumber); stored != nil {
		forceLegacy = forceLegacy || stored.Overrides.ForceLegacyMode
	}
	family, kind := Classify(outcome.Identity.TypeName, forceLegacy)
	outcome.Identity.Family = family
	outcome.Identity.ModelKind = kind

	var checkCode string
	if family == model.FamilyFiveM {
		var storedCode string
		if stored := f.Printers.Get(outcome.Identity.SerialNumber); stored != nil {
			storedCode = stored.CheckCode
		}
		checkCode, err = resolveCheckCode(ctx, spec.CheckCode, storedCode, f.Prompt, PromptIdentity{
			Name: outcome.Identity.Name, SerialNumber: outcome.Identity.SerialNumber, IPAddress: spec.IP,
		})
		if err != nil {
			if outcome.Carry != nil {
				outcome.Carry.Dispose()
			}
			return nil, err
		}
	}

	pair, err := handshake(ctx, f.Factory, spec.IP, outcome.Identity.SerialNumber, checkCode, family, outcome.Carry)
	if err != nil {
		return nil, err
	}

	return f.materialize(ctx, outcome.Identity, checkCode, pair)
}

// materialize implements §4.3.5: persist, register, build the backend,
// transition state, and emit the created/connected events.
func (f *Flow) materialize(ctx context.Context, identity model.PrinterIdentity, checkCode string, pair *clientPair) (*Result, error) {
	contextID := f.Registry.NextContextID()

	existing := f.Printers.Get(identity.SerialNumber)
	overrides := model.StoredPrinterDefaults()
	clientTag := "legacy"
	if identity.Family == model.FamilyFiveM {
		clientTag = "new"
	}
	if existing != nil {
		overrides = existing.Overrides
	}
	stored := &model.StoredPrinter{
		PrinterIdentity: identity,
		CheckCode:       checkCode,
		ClientTypeTag:   clientTag,
		LastConnectedAt: time.Now(),
		Overrides:       overrides,
	}
	if err := f.Printers.Save(stored, printerstore.DefaultSaveOptions()); err != nil {
		teardown(pair)
		return nil, newConnErr(ErrKindValidation, err)
	}

	printerCtx := &model.PrinterContext{
		ContextID:       contextID,
		Identity:        identity,
		CheckCode:       checkCode,
		ConnectionState: model.StateConnecting,
	}
	f.Registry.Create(printerCtx)

	be := backend.New(identity.ModelKind, pair.primary, pair.legacy)
	if res := be.Initialize(ctx); res.Err != nil {
		f.Registry.Remove(contextID)
		teardown(pair)
		return nil, newConnErr(ErrKindProtocolHandshake, res.Err)
	}
	f.Registry.SetBackend(contextID, be)
	f.Registry.SetConnectionState(contextID, model.StateConnected)

	if err := f.Registry.SetActive(contextID); err != nil {
		slog.Error("connect: failed to activate new context", "error", err, "contextId", contextID)
	}

	if f.Bus != nil {
		f.Bus.Publish(model.TopicConnected, identity)
	}

	return &Result{ContextID: contextID, Identity: identity}, nil
}

func teardown(pair *clientPair) {
	if pair == nil {
		return
	}
	if pair.primary != nil {
		pair.primary.Dispose()
	}
	if pair.legacy != nil {
		pair.legacy.Dispose()
	}
}

// ConnectFromSaved implements §4.3.7: connects to every saved printer in a
// list, in sequence (never parallel, to avoid client-library contention).
// Each printer's failure is logged and does not abort the rest; each
// success switches the active context to the newest.
func (f *Flow) ConnectFromSaved(ctx context.Context, saved []*model.StoredPrinter) []error {
	var errs []error
	for _, p := range saved {
		_, err := f.Connect(ctx, ConnectSpec{
			IP:         p.IPAddress,
			ClientType: p.ClientTypeTag,
			CheckCode:  p.CheckCode,
		})
		if err != nil {
			slog.Error("connect: failed to reconnect saved printer", "error", err, "serial", p.SerialNumber)
			errs = append(errs, err)
		}
	}
	return errs
}

// ConnectDirect implements §4.3.7's explicit-specs entry point: probe each
// IP/type/checkCode triple in sequence, handshake, register.
func (f *Flow) ConnectDirect(ctx context.Context, specs []ConnectSpec) []error {
	var errs []error
	for _, spec := range specs {
		if _, err := f.Connect(ctx, spec); err != nil {
			slog.Error("connect: failed to connect to printer", "error", err, "ip", spec.IP)
			errs = append(errs, err)
		}
	}
	return errs
}

// Disconnect implements §4.3.6: the inverse of Connect, idempotent.
func (f *Flow) Disconnect(ctx context.Context, contextID string) error {
	printerCtx := f.Registry.Get(contextID)
	if printerCtx == nil {
		return nil // already gone: idempotent
	}

	if f.Bus != nil {
		f.Bus.Publish(model.TopicPreDisconnect, contextID)
	}

	be, _ := printerCtx.Backend.(*backend.Backend)
	if be != nil {
		be.Dispose(ctx) // disposes both the secondary (legacy) and primary clients
	}

	// Best-effort legacy logout (~M602) happens inside Backend.Dispose via
	// the legacy client's own Dispose; any failure there is logged only,
	// never surfaced here. Wait for timer drain per §4.3.6.
	time.Sleep(100 * time.Millisecond)

	f.Registry.SetConnectionState(contextID, model.StateDisconnected)
	f.Printers.ClearContextTracking(contextID)
	name := printerCtx.Identity.Name
	f.Registry.Remove(contextID)

	if f.Bus != nil {
		f.Bus.Publish(model.TopicDisconnected, name)
	}
	return nil
}
