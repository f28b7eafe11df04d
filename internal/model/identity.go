// Package model holds the data types shared across every core component:
// printer identity and catalog records, live context state, polling
// snapshots, and lifecycle events. None of these types own behavior beyond
// simple derivations — they are passed between components over the event
// bus and through component constructors.
package model

import (
	"strconv"
	"time"
)

// Family is the coarse printer classification controlling which client
// pair Connection Flow establishes.
type Family string

const (
	FamilyFiveM  Family = "fiveM"
	FamilyLegacy Family = "legacy"
)

// ModelKind is the finer classification the Backend Adapter selects a
// variant from.
type ModelKind string

const (
	ModelGenericLegacy   ModelKind = "generic-legacy"
	ModelAdventurer5M    ModelKind = "adventurer-5m"
	ModelAdventurer5MPro ModelKind = "adventurer-5m-pro"
	ModelAD5X            ModelKind = "ad5x"
)

// PrinterIdentity is immutable once produced by Connection Flow's probe
// step.
type PrinterIdentity struct {
	Name         string
	IPAddress    string
	SerialNumber string
	TypeName     string
	Family       Family
	ModelKind    ModelKind
}

// SynthesizeSerial builds the "Unknown-<epoch-ms>" placeholder serial used
// when a probe doesn't return one. The result is explicitly non-portable:
// it must never be persisted as a real catalog key across process restarts
// without the caller understanding that.
func SynthesizeSerial(now time.Time) string {
	return "Unknown-" + strconv.FormatInt(now.UnixMilli(), 10)
}
