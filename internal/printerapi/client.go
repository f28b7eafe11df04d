// Package printerapi defines the capability contract the core requires
// from a printer client pair. The core never talks to a vendor SDK
// directly; Connection Flow and the Backend Adapter only see these two
// interfaces. This mirrors how modules/bambu wraps
// github.com/torbenconto/bambulabs_api behind its own poll/data call
// shape, except here the wrapping is the actual public contract rather
// than a single vendor's concrete type, since both a "legacy" and a
// "rich" printer family need to satisfy it.
package printerapi

import (
	"context"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// PrinterInfo is what a legacy client's GetPrinterInfo returns during probe
// (§4.3.1 / §6.3).
type PrinterInfo struct {
	TypeName     string
	Name         string
	SerialNumber string
}

// LegacyClient is the minimum surface used by Connection Flow's probe step
// and by the generic-legacy Backend variant.
type LegacyClient interface {
	InitControl(ctx context.Context) (bool, error)
	GetPrinterInfo(ctx context.Context) (PrinterInfo, error)
	SendRawCmd(ctx context.Context, cmd string) error
	Dispose() error
}

// RawStatus is the unnormalized status payload a RichClient returns: raw
// vendor state strings and temperatures, before the Polling Coordinator's
// §4.6.3 transformer maps them into a model.PrinterStatus.
type RawStatus struct {
	State           string
	BedCurrent      float64
	BedTarget       float64
	ExtruderCurrent float64
	ExtruderTarget  float64
	HasJob          bool
	JobFileName     string
	JobProgress     float64 // 0-1 fraction or 0-100 percentage, per §4.6.3
	JobCurrentLayer int
	JobTotalLayers  int
	JobWeightUsedG  float64
	JobLengthUsedM  float64
}

// RichClient is the 5M-family client pair's primary member; only
// constructed once a check code is available (§4.3.4).
type RichClient interface {
	Initialize(ctx context.Context) (bool, error)
	InitControl(ctx context.Context) (bool, error)
	Dispose() error

	GetPrinterStatus(ctx context.Context) (RawStatus, error)
	GetMaterialStationStatus(ctx context.Context) (model.MaterialStationStatus, error)
	GetLocalJobs(ctx context.Context) ([]JobSummary, error)
	GetRecentJobs(ctx context.Context) ([]JobSummary, error)
	StartJob(ctx context.Context, params StartJobParams) error
	PauseJob(ctx context.Context) error
	ResumeJob(ctx context.Context) error
	CancelJob(ctx context.Context) error
	GetModelPreview(ctx context.Context) ([]byte, error)
	GetJobThumbnail(ctx context.Context, fileName string) (string, error)

	// UploadFileAD5X is only meaningful on ad5x-family printers; other
	// RichClient implementations should return ErrUnsupportedFeature.
	UploadFileAD5X(ctx context.Context, path string, startPrint, levelBeforePrint bool, materialMappings map[string]string) error
}

// JobSummary is a minimal job-list entry (§4.5 getLocalJobs/getRecentJobs).
type JobSummary struct {
	FileName   string
	EnqueuedAt time.Time
}

// StartJobParams is the payload for RichClient.StartJob.
type StartJobParams struct {
	FileName         string
	LevelBeforePrint bool
}

// Factory constructs a legacy and (if needed) a rich client for a given
// IP; it's the seam Connection Flow calls during the final handshake and
// is supplied by whatever concrete wire-protocol implementation is wired
// at process bootstrap — out of scope for this package.
type Factory interface {
	NewLegacyClient(ip string) LegacyClient
	NewRichClient(ip, serial, checkCode string) RichClient
}
