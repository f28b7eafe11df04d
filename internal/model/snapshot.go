package model

import (
	"strings"
	"time"
)

// PrinterState is the normalized print-job state, the output of the
// Polling Coordinator's state-mapping table.
type PrinterState string

const (
	StateReady       PrinterState = "Ready"
	StatePrinting    PrinterState = "Printing"
	StatePaused      PrinterState = "Paused"
	StatePausing     PrinterState = "Pausing"
	StateCompleted   PrinterState = "Completed"
	StateCancelled   PrinterState = "Cancelled"
	StateErrorPrint  PrinterState = "Error"
	StateBusy        PrinterState = "Busy"
	StateCalibrating PrinterState = "Calibrating"
	StateHeating     PrinterState = "Heating"
)

// IsActivePrintState reports whether state counts as "a job is running" for
// the Print State Monitor's print-started detection (§4.7).
func IsActivePrintState(s PrinterState) bool {
	switch s {
	case StateBusy, StatePrinting, StateHeating, StateCalibrating, StatePaused, StatePausing:
		return true
	default:
		return false
	}
}

// CurrentJob describes the in-progress (or just-finished) print, preserved
// across Printing/Paused/Completed and cleared otherwise per §4.6.3.
type CurrentJob struct {
	FileName         string
	ProgressPercent  float64
	CurrentLayer     int
	TotalLayers      int
	WeightUsedGrams  float64
	LengthUsedMeters float64
}

// Temperature is one bed-or-extruder reading.
type Temperature struct {
	Current   float64
	Target    float64
	IsHeating bool
}

// PrinterStatus is the normalized status payload the Polling Coordinator
// produces each tick.
type PrinterStatus struct {
	State      PrinterState
	Bed        Temperature
	Extruder   Temperature
	CurrentJob *CurrentJob
}

// MaterialStationStatus is the synchronous material-station snapshot; its
// shape is opaque to the core beyond existence, so it's carried as a map.
type MaterialStationStatus map[string]any

// PollingSnapshot is the atomically-swapped per-context observation
// produced by one polling tick (§3, §4.6.3).
type PollingSnapshot struct {
	PrinterStatus   *PrinterStatus
	MaterialStation MaterialStationStatus
	ThumbnailBase64 string
	Connected       bool
	Initializing    bool
	LastPolledAt    time.Time
}

// NormalizeProgress clamps/rescales a raw progress value per §4.6.3: values
// <= 1.0 are treated as a 0-1 fraction and rescaled to a percentage; values
// > 1.0 are clamped into [0, 100].
func NormalizeProgress(raw float64) float64 {
	if raw <= 1.0 {
		raw *= 100
	}
	if raw < 0 {
		return 0
	}
	if raw > 100 {
		return 100
	}
	return raw
}

// MapRawState implements the fixed lowercase-state lookup table from
// §4.6.3. Unknown values map to StateBusy, matching the table's
// "busy,unknown,offline,disconnected → Busy" row.
func MapRawState(raw string) PrinterState {
	switch strings.ToLower(raw) {
	case "idle", "ready":
		return StateReady
	case "printing", "print":
		return StatePrinting
	case "paused", "pause":
		return StatePaused
	case "pausing":
		return StatePausing
	case "finished", "complete", "completed":
		return StateCompleted
	case "cancelled", "canceled":
		return StateCancelled
	case "error":
		return StateErrorPrint
	case "calibrating":
		return StateCalibrating
	case "heating":
		return StateHeating
	default:
		return StateBusy
	}
}

// IsHeating implements the §4.6.3 heating predicate: |current-target| > 2
// and target > 0.
func IsHeating(current, target float64) bool {
	diff := current - target
	if diff < 0 {
		diff = -diff
	}
	return diff > 2 && target > 0
}

// ValidateAndSanitize enforces the §4.6.3 validation rule: progress must be
// in [0,100] and current layer, if present, must be in [0, totalLayers].
// On failure the numeric fields are reset to safe defaults; the snapshot
// still emits (callers never drop a tick for a validation failure).
func (j *CurrentJob) ValidateAndSanitize() {
	if j == nil {
		return
	}
	if j.ProgressPercent < 0 || j.ProgressPercent > 100 {
		j.ProgressPercent = 0
	}
	if j.CurrentLayer < 0 || (j.TotalLayers > 0 && j.CurrentLayer > j.TotalLayers) {
		j.CurrentLayer = 0
	}
}
