package model

import (
	"encoding/json"
	"time"
)

// PrinterOverrides are the per-printer settings layered on top of
// PrinterIdentity. Fields absent from a stored document take their
// StoredPrinterDefaults values when it is decoded (see
// StoredPrinter.UnmarshalJSON).
type PrinterOverrides struct {
	CustomCameraEnabled bool    `json:"customCameraEnabled"`
	CustomCameraURL     string  `json:"customCameraUrl"`
	CustomLedsEnabled   bool    `json:"customLedsEnabled"`
	ForceLegacyMode     bool    `json:"forceLegacyMode"`
	WebUIEnabled        bool    `json:"webUIEnabled"`
	RTSPFrameRate       int     `json:"rtspFrameRate"`
	RTSPQuality         int     `json:"rtspQuality"`
	ActiveSpool         *Spool  `json:"activeSpool,omitempty"`
}

// StoredPrinterDefaults returns the defaults applied when an override field
// is absent from the on-disk document.
func StoredPrinterDefaults() PrinterOverrides {
	return PrinterOverrides{
		WebUIEnabled:  true,
		RTSPFrameRate: 15,
		RTSPQuality:   3,
	}
}

// Spool is the local shape of a filament-inventory record, mirrored from
// whatever the external Spoolman-like service returns.
type Spool struct {
	ID           int64   `json:"id"`
	Material     string  `json:"material"`
	RemainingG   float64 `json:"remainingWeightGrams"`
	RemainingMM  float64 `json:"remainingLengthMm"`
}

// StoredPrinter is the durable, on-disk catalog record for one printer.
type StoredPrinter struct {
	PrinterIdentity
	CheckCode       string           `json:"checkCode"`
	ClientTypeTag   string           `json:"clientTypeTag"`
	LastConnectedAt time.Time        `json:"lastConnectedAt"`
	Overrides       PrinterOverrides `json:"overrides"`
}

// UnmarshalJSON starts Overrides from StoredPrinterDefaults, so override
// fields absent from the document keep their default values.
func (p *StoredPrinter) UnmarshalJSON(b []byte) error {
	type plain StoredPrinter
	v := plain{Overrides: StoredPrinterDefaults()}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = StoredPrinter(v)
	return nil
}

// PrinterConfig is the complete document persisted by the Printer Details
// Store (C2): `printer_details.json`.
type PrinterConfig struct {
	LastUsedSerial string                    `json:"lastUsedSerial"`
	Printers       map[string]*StoredPrinter `json:"printers"`
}

// NewPrinterConfig returns an empty, well-formed document.
func NewPrinterConfig() *PrinterConfig {
	return &PrinterConfig{Printers: make(map[string]*StoredPrinter)}
}

// Repair enforces the invariant that LastUsedSerial is either empty or a
// key of Printers, clearing it otherwise. Called after every load.
func (c *PrinterConfig) Repair() {
	if c.Printers == nil {
		c.Printers = make(map[string]*StoredPrinter)
	}
	if c.LastUsedSerial == "" {
		return
	}
	if _, ok := c.Printers[c.LastUsedSerial]; !ok {
		c.LastUsedSerial = ""
	}
}

// LegacyPrinterDocument is the single-printer shape written by older
// versions of the on-disk format; the Printer Details Store migrates it to
// PrinterConfig on load.
type LegacyPrinterDocument struct {
	Name         string `json:"Name"`
	IPAddress    string `json:"IPAddress"`
	SerialNumber string `json:"SerialNumber"`
	CheckCode    string `json:"CheckCode"`
	ClientType   string `json:"ClientType"`
	PrinterModel string `json:"printerModel"`
}

// Empty reports whether the document names no printer (neither a name nor a
// serial number); printerstore's load then starts from an empty catalog
// instead of migrating it.
func (d LegacyPrinterDocument) Empty() bool {
	return d.Name == "" && d.SerialNumber == ""
}
