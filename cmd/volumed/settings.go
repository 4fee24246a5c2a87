package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// stepSizeKey is the settings key holding the raise/lower step in percent.
const stepSizeKey = "volume-step-size"

// SettingsStore is the user-writable settings file.
//
// It is a flat YAML mapping. Keys other than stepSizeKey are preserved on
// write so other tools may share the file.
type SettingsStore struct {
	path string

	// mu serializes read-modify-write cycles from this process.
	mu sync.Mutex
}

func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: ExpandPath(path)}
}

func (s *SettingsStore) Path() string { return s.path }

func (s *SettingsStore) load() (map[string]any, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	values := map[string]any{}
	if len(bytes.TrimSpace(b)) == 0 {
		return values, nil
	}
	if err := yaml.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("decode settings yaml: %w", err)
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

// StepSize returns the stored step size. ok is false when the key is
// missing or does not hold an integer.
func (s *SettingsStore) StepSize() (v int, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return 0, false, err
	}
	raw, found := values[stepSizeKey]
	if !found {
		return 0, false, nil
	}
	switch n := raw.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case uint64:
		return int(n), true, nil
	default:
		return 0, false, nil
	}
}

// SetStepSize writes the step size, keeping every other key.
// The file is replaced atomically.
func (s *SettingsStore) SetStepSize(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[stepSizeKey] = v

	out, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode settings yaml: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Watch calls onChange with the current step size whenever the settings file
// changes. Bursts of filesystem events are collapsed with debounce.
// It blocks until ctx is canceled.
//
// The parent directory is watched rather than the file, so editors that
// replace the file by rename keep being observed.
func (s *SettingsStore) Watch(ctx context.Context, debounce time.Duration, onChange func(StepSizeChanged), logger *slog.Logger) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("watching settings", "path", s.path)

	base := filepath.Base(s.path)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", "error", err)

		case <-fire:
			fire = nil
			v, set, err := s.StepSize()
			if err != nil {
				logger.Warn("settings reload failed", "error", err)
				continue
			}
			logger.Debug("settings changed", "step_size", v, "set", set)
			onChange(StepSizeChanged{Value: v, Set: set})
		}
	}
}
