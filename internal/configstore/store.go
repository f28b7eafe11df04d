// Package configstore implements the Config Store (C1): the process-wide
// mutable AppConfig, debounce-persisted to config.json. The atomic
// temp-file-then-rename write is adapted from
// modules/peering/client.go's WarmCache/BufferEvent pattern; the
// debounce-latch discipline gives a single saving flag exclusive
// ownership of the write path, serializing concurrent callers.
package configstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Parallel-7/FlashForgeWebUI-sub000/engine"
	"github.com/Parallel-7/FlashForgeWebUI-sub000/internal/model"
)

const debounceDelay = 100 * time.Millisecond

// Store holds the in-memory AppConfig and debounces its persistence to
// disk. It is a process-wide singleton with init-on-first-use and an
// explicit Dispose.
type Store struct {
	path string
	bus  *engine.Bus

	mu      sync.Mutex
	current model.AppConfig
	timer   *time.Timer
	saving  bool
}

// Open loads path (creating it with defaults if absent) and returns a
// ready Store. bus may be nil if the caller doesn't need change
// notifications.
func Open(path string, bus *engine.Bus) (*Store, error) {
	s := &Store{path: path, bus: bus}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetAll returns a copy of the whole current config, read under the lock.
// There is no per-key getter; callers read and write through
// GetAll/Update.
func (s *Store) GetAll() model.AppConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update merges a partial config in (via fn, which mutates a copy) and
// schedules a debounced save. If fn doesn't change anything, no event is
// emitted and no save is scheduled, per §4.1.
func (s *Store) Update(fn func(*model.AppConfig)) {
	s.mu.Lock()
	previous := s.current
	next := s.current
	fn(&next)
	changed := next != previous
	if changed {
		s.current = next
		s.scheduleSaveLocked()
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	if s.bus != nil {
		s.bus.Publish(configUpdatedTopic, ConfigUpdatedEvent{Previous: previous, Current: next})
	}
}

// Replace overwrites the entire config and schedules a save.
func (s *Store) Replace(next model.AppConfig) {
	s.Update(func(c *model.AppConfig) { *c = next })
}

// Reload re-reads the file from disk, discarding any unsaved in-memory
// change — used by the bootstrap's SIGHUP-equivalent, if ever wired.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

func (s *Store) reload() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		s.current = model.DefaultAppConfig()
		return s.writeLocked()
	}
	if err != nil {
		return err
	}
	defer f.Close()

	cfg := model.DefaultAppConfig()
	dec := json.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		slog.Error("config store: parse failure, falling back to defaults", "error", err)
		s.current = model.DefaultAppConfig()
		return s.writeLocked()
	}
	s.current = cfg
	return nil
}

// ForceSave cancels any pending debounce timer and writes immediately.
func (s *Store) ForceSave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return s.writeLocked()
}

// ResetToDefaults restores AppConfig defaults and schedules a save.
func (s *Store) ResetToDefaults() {
	s.Replace(model.DefaultAppConfig())
}

func (s *Store) scheduleSaveLocked() {
	if s.timer != nil {
		return // already scheduled
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		s.mu.Lock()
		s.timer = nil
		err := s.writeLocked()
		s.mu.Unlock()
		if err != nil {
			slog.Error("config store: debounced save failed", "error", err)
		}
	})
}

// writeLocked performs the atomic write; caller must hold s.mu.
func (s *Store) writeLocked() error {
	if s.saving {
		return nil // another writer (ForceSave racing the timer) already in flight
	}
	s.saving = true
	defer func() { s.saving = false }()

	lockPath := s.path + ".lock"
	if err := os.WriteFile(lockPath, []byte{}, 0644); err != nil {
		return err
	}
	defer os.Remove(lockPath)

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".config-*.json.tmp")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.current); err != nil {
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

// Dispose attempts an async save bounded by a 1s timeout, falling back to a
// blocking write if the timeout elapses, guaranteeing no in-memory change
// is lost across an orderly shutdown (§4.1).
func (s *Store) Dispose() error {
	done := make(chan error, 1)
	go func() { done <- s.ForceSave() }()

	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		return s.ForceSave()
	}
}

const configUpdatedTopic = "configUpdated"

// ConfigUpdatedEvent is published on configUpdatedTopic whenever Update
// changes the config.
type ConfigUpdatedEvent struct {
	Previous model.AppConfig
	Current  model.AppConfig
}
