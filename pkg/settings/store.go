// Copyright 2024-2026 Aiku AI

package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store keeps the current settings in memory and mirrors them to a YAML file.
type Store struct {
	path string
	log  zerolog.Logger

	mu  sync.RWMutex
	cur Settings
}

// Open loads the settings file at path, creating it with [Default] values
// when it does not exist.
func Open(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		path: path,
		log:  log.With().Str("component", "settings").Logger(),
		cur:  Default(),
	}
	err := s.Reload()
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info().Str("path", path).Msg("Settings file not found, writing defaults")
		return s, s.Persist()
	} else if err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Clone()
}

// Update applies fn to the current settings and persists the result. The
// in-memory value is kept even if writing the file fails.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	next := s.cur.Clone()
	fn(&next)
	s.cur = next
	s.mu.Unlock()
	return s.Persist()
}

// Reload re-reads the settings file, replacing the in-memory copy.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	loaded := Default()
	if err = yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}
	if err = loaded.SetMode(loaded.NotificationMode); err != nil {
		loaded.NotificationMode = ModeBlacklist
	}
	s.mu.Lock()
	s.cur = loaded
	s.mu.Unlock()
	return nil
}

// Persist writes the current settings through a temp file and rename so a
// crash never leaves a truncated file behind.
func (s *Store) Persist() error {
	s.mu.RLock()
	data, err := yaml.Marshal(s.cur)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
