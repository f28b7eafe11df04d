// Package printerstore implements the Printer Details Store (C2): the
// durable PrinterConfig document, including legacy-shape migration and the
// process-scoped (non-persisted) contextLastUsed map. The on-disk write
// path reuses the same atomic temp-file-then-rename idiom as
// internal/configstore, grounded on modules/peering/client.go.
package printerstore

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

// Store is the C2 singleton. Validation rules from §4.2 are enforced in
// Save; Load performs the legacy-shape migration from §4.2 / scenario S5.
type Store struct {
	path string

	mu   sync.Mutex
	data *model.PrinterConfig

	clMu              sync.Mutex
	contextLastUsed   map[string]string // contextId -> serialNumber, not persisted
}

// Open loads path, migrating a legacy single-printer document if found, or
// starts from an empty catalog if the file doesn't exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, contextLastUsed: make(map[string]string)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.data = model.NewPrinterConfig()
		return nil
	}
	if err != nil {
		return err
	}

	var doc model.PrinterConfig
	if err := json.Unmarshal(raw, &doc); err == nil && doc.Printers != nil {
		doc.Repair()
		s.data = &doc
		return nil
	}

	// Not a PrinterConfig shape (or an empty `printers` meaning it's really
	// the legacy single-printer document) — try migrating.
	var legacy model.LegacyPrinterDocument
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return fmt.Errorf("parsing printer_details.json: %w", err)
	}
	if legacy.Empty() {
		s.data = model.NewPrinterConfig()
		return nil
	}

	migrated := model.NewPrinterConfig()
	migrated.Printers[legacy.SerialNumber] = &model.StoredPrinter{
		PrinterIdentity: model.PrinterIdentity{
			Name:         legacy.Name,
			IPAddress:    legacy.IPAddress,
			SerialNumber: legacy.SerialNumber,
		},
		CheckCode:       legacy.CheckCode,
		ClientTypeTag:   legacy.ClientType,
		LastConnectedAt: time.Now(),
		Overrides:       model.StoredPrinterDefaults(),
	}
	migrated.LastUsedSerial = legacy.SerialNumber
	s.data = migrated
	return s.writeLocked() // migration writes back before returning, per §4.2
}

// All returns every saved printer.
func (s *Store) All() []*model.StoredPrinter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.StoredPrinter, 0, len(s.data.Printers))
	for _, p := range s.data.Printers {
		out = append(out, p)
	}
	return out
}

// Get returns the saved printer for serial, or nil if unknown.
func (s *Store) Get(serial string) *model.StoredPrinter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Printers[serial]
}

// SaveOptions configures Save's side effects.
type SaveOptions struct {
	UpdateLastUsed bool
}

// DefaultSaveOptions matches save(details, {updateLastUsed=true}).
func DefaultSaveOptions() SaveOptions { return SaveOptions{UpdateLastUsed: true} }

// Save validates and persists details, merging any existing per-printer
// overrides (§3's invariant on perPrinterOverrides).
func (s *Store) Save(details *model.StoredPrinter, opts SaveOptions) error {
	if err := validate(details); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data.Printers[details.SerialNumber]; ok {
		merged := existing.Overrides
		mergeOverrides(&merged, details.Overrides)
		details.Overrides = merged
	}
	s.data.Printers[details.SerialNumber] = details
	if opts.UpdateLastUsed {
		s.data.LastUsedSerial = details.SerialNumber
	}
	return s.writeLocked()
}

// mergeOverrides applies any explicitly-set fields in next on top of base.
// Because PrinterOverrides has no "is this field set" marker, Go's zero
// value is treated as "not specified" for the pointer-typed ActiveSpool and
// is otherwise an accepted limitation of using plain struct fields instead
// of a dynamic partial-update object (an explicit adaptation choice — see
// DESIGN.md).
func mergeOverrides(base, next *model.PrinterOverrides) {
	merged := *next
	if merged.ActiveSpool == nil {
		merged.ActiveSpool = base.ActiveSpool
	}
	*base = merged
}

func validate(d *model.StoredPrinter) error {
	if d.Name == "" || d.IPAddress == "" || d.SerialNumber == "" || d.CheckCode == "" || d.ClientTypeTag == "" {
		return fmt.Errorf("validation: missing required field")
	}
	if d.ClientTypeTag != "legacy" && d.ClientTypeTag != "new" {
		return fmt.Errorf("validation: clientType must be 'legacy' or 'new', got %q", d.ClientTypeTag)
	}
	if net.ParseIP(d.IPAddress) == nil || !isIPv4DottedQuad(d.IPAddress) {
		return fmt.Errorf("validation: ipAddress %q is not a valid IPv4 dotted-quad", d.IPAddress)
	}
	return nil
}

func isIPv4DottedQuad(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// Remove deletes serial from the catalog, clearing LastUsedSerial if it
// pointed at it.
func (s *Store) Remove(serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Printers, serial)
	if s.data.LastUsedSerial == serial {
		s.data.LastUsedSerial = ""
	}
	return s.writeLocked()
}

// SetLastUsed marks serial as the last-used printer; serial must already be
// a saved printer.
func (s *Store) SetLastUsed(serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Printers[serial]; !ok {
		return fmt.Errorf("setLastUsed: unknown serial %q", serial)
	}
	s.data.LastUsedSerial = serial
	return s.writeLocked()
}

// SetActiveSpool replaces the active-spool override for serial, e.g. after
// the Usage Tracker's external collaborator returns an updated Spool
// (§4.9 step 7). Passing nil clears the assignment.
func (s *Store) SetActiveSpool(serial string, spool *model.Spool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.Printers[serial]
	if !ok {
		return fmt.Errorf("setActiveSpool: unknown serial %q", serial)
	}
	p.Overrides.ActiveSpool = spool
	return s.writeLocked()
}

// ClearLastUsed unsets LastUsedSerial.
func (s *Store) ClearLastUsed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.LastUsedSerial = ""
	return s.writeLocked()
}

// ClearAll empties the catalog entirely.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = model.NewPrinterConfig()
	return s.writeLocked()
}

// GetLastUsed resolves the last-used saved printer. If contextID is
// non-empty and has a recorded context-to-serial mapping, that mapping
// takes precedence (UI "last used for this live context" semantics).
func (s *Store) GetLastUsed(contextID string) *model.StoredPrinter {
	if contextID != "" {
		s.clMu.Lock()
		serial, ok := s.contextLastUsed[contextID]
		s.clMu.Unlock()
		if ok {
			return s.Get(serial)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.LastUsedSerial == "" {
		return nil
	}
	return s.data.Printers[s.data.LastUsedSerial]
}

// RecordContextLastUsed associates a live contextID with the saved printer
// it corresponds to, for the UI last-used lookup above. Not persisted.
func (s *Store) RecordContextLastUsed(contextID, serial string) {
	s.clMu.Lock()
	defer s.clMu.Unlock()
	s.contextLastUsed[contextID] = serial
}

// ClearContextTracking drops a context's contextLastUsed entry, e.g. on
// disconnect.
func (s *Store) ClearContextTracking(contextID string) {
	s.clMu.Lock()
	defer s.clMu.Unlock()
	delete(s.contextLastUsed, contextID)
}

func (s *Store) writeLocked() error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".printer_details-*.json.tmp")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
