// Package backend implements the Backend Adapter (C5): a per-context
// façade over a printer client pair, polymorphic over a capability set and
// selected by model kind. Grounded on modules/machines/module.go's
// printer-specific status/control dispatch (there hardcoded to Bambu's
// client), generalized here into an explicit variant-per-modelKind table
// instead of a single hardcoded client type.
package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/printerapi"
)

// ErrBackendDisposed is returned by every operation once Dispose has run.
var ErrBackendDisposed = errors.New("backend: disposed")

// ErrBackendNotReady is returned when an operation needs a client that this
// backend's client pair does not have (for example a rich-client operation
// on the generic-legacy variant).
var ErrBackendNotReady = errors.New("backend: not ready")

// FeatureSet enumerates the capabilities a backend variant supports;
// callers must not infer capabilities from modelKind alone (§4.5).
type FeatureSet struct {
	Status          bool
	JobList         bool
	JobControl      bool
	MaterialStation bool
	Thumbnail       bool
	ModelPreview    bool
	GCode           bool
	AD5XUpload      bool
}

// Result wraps every Backend operation's outcome with the success/error/
// timestamp envelope named in §4.5.
type Result[T any] struct {
	Value     T
	Err       error
	Timestamp time.Time
}

func ok[T any](v T) Result[T]  { return Result[T]{Value: v, Timestamp: time.Now()} }
func fail[T any](err error) Result[T] {
	return Result[T]{Err: err, Timestamp: time.Now()}
}

// Backend is the adapter surface the Polling Coordinator, Thumbnail Queue,
// and external command dispatch operate against.
type Backend struct {
	kind    model.ModelKind
	primary printerapi.RichClient // nil for the generic-legacy variant
	legacy  printerapi.LegacyClient
	feature FeatureSet

	mu          sync.Mutex
	initialized bool
	initErr     error
	initOnce    chan struct{} // closed once the first Initialize attempt completes
	disposed    bool
}

// New selects a variant by modelKind (falling back to generic-legacy for an
// unrecognized kind, §4.5) and wires it to the given client pair. primary
// is nil for the legacy-only pair.
func New(kind model.ModelKind, primary printerapi.RichClient, legacy printerapi.LegacyClient) *Backend {
	b := &Backend{kind: kind, primary: primary, legacy: legacy}
	switch kind {
	case model.ModelAdventurer5M, model.ModelAdventurer5MPro:
		b.feature = FeatureSet{Status: true, JobList: true, JobControl: true, MaterialStation: true, Thumbnail: true, ModelPreview: true, GCode: true}
	case model.ModelAD5X:
		b.feature = FeatureSet{Status: true, JobList: true, JobControl: true, MaterialStation: true, Thumbnail: true, ModelPreview: true, GCode: true, AD5XUpload: true}
	default: // generic-legacy, and any unknown kind
		b.feature = FeatureSet{GCode: true}
	}
	return b
}

func (b *Backend) GetFeatureSet() FeatureSet { return b.feature }

// Initialize warms caches; concurrent initialization attempts for the same
// backend coalesce so only one actually runs (§4.5).
func (b *Backend) Initialize(ctx context.Context) Result[bool] {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return fail[bool](ErrBackendDisposed)
	}
	if b.initOnce != nil {
		wait := b.initOnce
		b.mu.Unlock()
		<-wait
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.initErr != nil {
			return fail[bool](b.initErr)
		}
		return ok(b.initialized)
	}
	b.initOnce = make(chan struct{})
	b.mu.Unlock()

	var err error
	if b.primary != nil {
		_, err = b.primary.Initialize(ctx)
	}

	b.mu.Lock()
	b.initialized = err == nil
	b.initErr = err
	close(b.initOnce)
	b.mu.Unlock()

	if err != nil {
		return fail[bool](err)
	}
	return ok(true)
}

// Dispose tears down keep-alive timers deterministically; after Dispose
// every operation fails with ErrBackendDisposed.
func (b *Backend) Dispose(ctx context.Context) Result[bool] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return ok(true)
	}
	b.disposed = true
	var firstErr error
	if b.primary != nil {
		if err := b.primary.Dispose(); err != nil {
			firstErr = err
		}
	}
	if b.legacy != nil {
		if err := b.legacy.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fail[bool](firstErr)
	}
	return ok(true)
}

// Ready reports whether Initialize has completed successfully and Dispose
// has not yet run — the "backend reports not-ready" check the Polling
// Coordinator makes before every tick (§4.6.1 step 1).
func (b *Backend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized && !b.disposed
}

func (b *Backend) checkReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return ErrBackendDisposed
	}
	return nil
}

func (b *Backend) ExecuteGCode(ctx context.Context, cmd string) Result[bool] {
	if err := b.checkReady(); err != nil {
		return fail[bool](err)
	}
	if b.legacy != nil {
		if err := b.legacy.SendRawCmd(ctx, cmd); err != nil {
			return fail[bool](err)
		}
		return ok(true)
	}
	return fail[bool](ErrBackendNotReady)
}

func (b *Backend) GetPrinterStatus(ctx context.Context) Result[printerapi.RawStatus] {
	if err := b.checkReady(); err != nil {
		return fail[printerapi.RawStatus](err)
	}
	if b.primary == nil {
		return fail[printerapi.RawStatus](ErrBackendNotReady)
	}
	status, err := b.primary.GetPrinterStatus(ctx)
	if err != nil {
		return fail[printerapi.RawStatus](err)
	}
	return ok(status)
}

func (b *Backend) GetMaterialStationStatus(ctx context.Context) Result[model.MaterialStationStatus] {
	if err := b.checkReady(); err != nil {
		return fail[model.MaterialStationStatus](err)
	}
	if !b.feature.MaterialStation || b.primary == nil {
		return fail[model.MaterialStationStatus](printerapi.ErrUnsupportedFeature)
	}
	m, err := b.primary.GetMaterialStationStatus(ctx)
	if err != nil {
		return fail[model.MaterialStationStatus](err)
	}
	return ok(m)
}

func (b *Backend) GetLocalJobs(ctx context.Context) Result[[]printerapi.JobSummary] {
	if err := b.checkReady(); err != nil {
		return fail[[]printerapi.JobSummary](err)
	}
	if b.primary == nil {
		return fail[[]printerapi.JobSummary](ErrBackendNotReady)
	}
	jobs, err := b.primary.GetLocalJobs(ctx)
	if err != nil {
		return fail[[]printerapi.JobSummary](err)
	}
	return ok(jobs)
}

func (b *Backend) GetRecentJobs(ctx context.Context) Result[[]printerapi.JobSummary] {
	if err := b.checkReady(); err != nil {
		return fail[[]printerapi.JobSummary](err)
	}
	if b.primary == nil {
		return fail[[]printerapi.JobSummary](ErrBackendNotReady)
	}
	jobs, err := b.primary.GetRecentJobs(ctx)
	if err != nil {
		return fail[[]printerapi.JobSummary](err)
	}
	return ok(jobs)
}

func (b *Backend) StartJob(ctx context.Context, params printerapi.StartJobParams) Result[bool] {
	if err := b.checkReady(); err != nil {
		return fail[bool](err)
	}
	if b.primary == nil {
		return fail[bool](ErrBackendNotReady)
	}
	if err := b.primary.StartJob(ctx, params); err != nil {
		return fail[bool](err)
	}
	return ok(true)
}

func (b *Backend) PauseJob(ctx context.Context) Result[bool]  { return b.jobControl(ctx, (printerapi.RichClient).PauseJob) }
func (b *Backend) ResumeJob(ctx context.Context) Result[bool] { return b.jobControl(ctx, (printerapi.RichClient).ResumeJob) }
func (b *Backend) CancelJob(ctx context.Context) Result[bool] { return b.jobControl(ctx, (printerapi.RichClient).CancelJob) }

func (b *Backend) jobControl(ctx context.Context, fn func(printerapi.RichClient, context.Context) error) Result[bool] {
	if err := b.checkReady(); err != nil {
		return fail[bool](err)
	}
	if b.primary == nil {
		return fail[bool](ErrBackendNotReady)
	}
	if err := fn(b.primary, ctx); err != nil {
		return fail[bool](err)
	}
	return ok(true)
}

func (b *Backend) GetModelPreview(ctx context.Context) Result[[]byte] {
	if err := b.checkReady(); err != nil {
		return fail[[]byte](err)
	}
	if !b.feature.ModelPreview || b.primary == nil {
		return fail[[]byte](printerapi.ErrUnsupportedFeature)
	}
	data, err := b.primary.GetModelPreview(ctx)
	if err != nil {
		return fail[[]byte](err)
	}
	return ok(data)
}

func (b *Backend) GetJobThumbnail(ctx context.Context, fileName string) Result[string] {
	if err := b.checkReady(); err != nil {
		return fail[string](err)
	}
	if !b.feature.Thumbnail || b.primary == nil {
		return fail[string](printerapi.ErrUnsupportedFeature)
	}
	thumb, err := b.primary.GetJobThumbnail(ctx, fileName)
	if err != nil {
		return fail[string](err)
	}
	return ok(thumb)
}

// UploadFileAD5X is only meaningful on the ad5x variant; other variants
// return UnsupportedFeature, per §4.5.
func (b *Backend) UploadFileAD5X(ctx context.Context, path string, startPrint, levelBeforePrint bool, materialMappings map[string]string) Result[bool] {
	if err := b.checkReady(); err != nil {
		return fail[bool](err)
	}
	if !b.feature.AD5XUpload || b.primary == nil {
		return fail[bool](printerapi.ErrUnsupportedFeature)
	}
	if err := b.primary.UploadFileAD5X(ctx, path, startPrint, levelBeforePrint, materialMappings); err != nil {
		return fail[bool](err)
	}
	return ok(true)
}

// ModelKind returns the backend's selected model kind, used by the
// Thumbnail Queue to pick a concurrency profile (§4.10) without reaching
// into the Context Registry's decorations directly.
func (b *Backend) ModelKind() model.ModelKind { return b.kind }
