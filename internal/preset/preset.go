// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package preset manages named provider configurations stored as TOML
// files on disk. Presets bundle a provider name, customization values,
// and an optional system message.
package preset

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrPresetNotFound indicates no preset with the requested name.
	ErrPresetNotFound = errors.New("preset not found")

	// ErrInvalidPreset indicates a preset file that fails validation.
	ErrInvalidPreset = errors.New("invalid preset")
)

// =============================================================================
// MANAGER
// =============================================================================

// presetExt is the file extension for preset files.
const presetExt = ".toml"

// reloadDebounce coalesces rapid file events into one reload.
const reloadDebounce = 200 * time.Millisecond

// Manager loads and serves presets from a directory. Safe for
// concurrent use; an optional watcher reloads on file changes.
type Manager struct {
	dir string

	mu      sync.RWMutex
	presets map[string]*model.Preset

	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  sync.Once

	// OnReload, when set, is called after each watcher-driven reload.
	OnReload func()
}

// NewManager creates a manager over the given directory, creating it if
// missing, and loads any presets already present.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preset directory: %w", err)
	}
	m := &Manager{
		dir:     dir,
		presets: make(map[string]*model.Preset),
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Dir returns the preset directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Reload rescans the directory, replacing the in-memory preset set.
// Unreadable or malformed files are skipped.
func (m *Manager) Reload() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("failed to read preset directory: %w", err)
	}

	loaded := make(map[string]*model.Preset)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), presetExt) {
			continue
		}
		p, err := loadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}
		loaded[p.Name()] = p
	}

	m.mu.Lock()
	m.presets = loaded
	m.mu.Unlock()
	return nil
}

func loadFile(path string) (*model.Preset, error) {
	var p model.Preset
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreset, err)
	}
	if p.Metadata.Name == "" {
		p.Metadata.Name = strings.TrimSuffix(filepath.Base(path), presetExt)
	}
	if p.Metadata.Provider == "" {
		return nil, fmt.Errorf("%w: missing provider", ErrInvalidPreset)
	}
	return &p, nil
}

// Get returns the named preset, or ErrPresetNotFound.
func (m *Manager) Get(name string) (*model.Preset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	return p, nil
}

// Names returns the sorted preset names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.presets))
	for name := range m.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes a preset to disk and adds it to the in-memory set.
func (m *Manager) Save(p *model.Preset) error {
	if p.Metadata.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidPreset)
	}
	if p.Metadata.Provider == "" {
		return fmt.Errorf("%w: missing provider", ErrInvalidPreset)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("failed to encode preset: %w", err)
	}
	path := filepath.Join(m.dir, p.Metadata.Name+presetExt)
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write preset: %w", err)
	}

	m.mu.Lock()
	m.presets[p.Metadata.Name] = p
	m.mu.Unlock()
	return nil
}

// Delete removes a preset from disk and memory.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	_, ok := m.presets[name]
	delete(m.presets, name)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	if err := os.Remove(filepath.Join(m.dir, name+presetExt)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove preset file: %w", err)
	}
	return nil
}

// =============================================================================
// WATCHING
// =============================================================================

// Watch starts reloading presets when files in the directory change.
// Call Close to stop.
func (m *Manager) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(m.dir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch preset directory: %w", err)
	}

	m.watcher = w
	m.done = make(chan struct{})
	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-m.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, presetExt) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := m.Reload(); err == nil && m.OnReload != nil {
				m.OnReload()
			}
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher, if one is running.
func (m *Manager) Close() error {
	var err error
	m.closed.Do(func() {
		if m.watcher != nil {
			close(m.done)
			err = m.watcher.Close()
		}
	})
	return err
}
