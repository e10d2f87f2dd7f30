// Copyright 2026 The Lore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Subscriber is notified after a new configuration snapshot becomes
// active. Changed names the sections whose values differ from the previous
// snapshot. Subscribers must not block; long work belongs in a goroutine.
type Subscriber func(cfg *Config, changed []string)

// Manager owns the active configuration snapshot. Reads are lock-free;
// writers serialize on a mutex, build a full candidate snapshot, validate
// it, persist it, and only then swap the pointer and notify subscribers.
type Manager struct {
	path    string
	current atomic.Pointer[Config]

	mu          sync.Mutex
	subscribers []Subscriber

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager loads the configuration at path and returns a manager holding
// it as the active snapshot.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{path: path}
	m.current.Store(cfg)
	return m, nil
}

// NewManagerFromConfig wraps an already-built configuration (used by tests
// and by callers that assemble config programmatically).
func NewManagerFromConfig(cfg *Config) *Manager {
	m := &Manager{}
	m.current.Store(cfg)
	return m
}

// Get returns the active snapshot. Callers must treat it as immutable.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Path returns the backing file path, empty for in-memory managers.
func (m *Manager) Path() string {
	return m.path
}

// Subscribe registers fn for configuration-change notifications.
func (m *Manager) Subscribe(fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// ValidateUpdate applies a partial section update to a copy of the active
// snapshot and validates the result without activating or persisting it.
// It returns the candidate snapshot on success.
func (m *Manager) ValidateUpdate(section string, values map[string]any) (*Config, error) {
	canonical, ok := CanonicalSection(section)
	if !ok {
		return nil, fmt.Errorf("unknown configuration section: %q", section)
	}

	candidate := m.Get().Clone()
	if err := applySectionUpdate(candidate, canonical, values); err != nil {
		return nil, err
	}
	candidate.SetDefaults()
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	return candidate, nil
}

// UpdateSection validates a partial section update, persists the resulting
// snapshot, activates it, and notifies subscribers. The active snapshot is
// untouched when any step before activation fails.
func (m *Manager) UpdateSection(section string, values map[string]any) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	canonical, ok := CanonicalSection(section)
	if !ok {
		return nil, fmt.Errorf("unknown configuration section: %q", section)
	}

	previous := m.Get()
	candidate := previous.Clone()
	if err := applySectionUpdate(candidate, canonical, values); err != nil {
		return nil, err
	}
	candidate.SetDefaults()
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	if m.path != "" {
		if err := candidate.Save(m.path); err != nil {
			return nil, err
		}
	}

	m.current.Store(candidate)
	m.notifyLocked(candidate, changedSections(previous, candidate))
	return candidate, nil
}

// Reload re-reads the backing file and activates the result when it
// validates. A broken file on disk leaves the active snapshot in place.
func (m *Manager) Reload() error {
	if m.path == "" {
		return fmt.Errorf("configuration manager has no backing file")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := Load(m.path)
	if err != nil {
		return err
	}

	previous := m.Get()
	changed := changedSections(previous, cfg)
	m.current.Store(cfg)
	if len(changed) > 0 {
		m.notifyLocked(cfg, changed)
	}
	return nil
}

// Watch reloads the configuration when the backing file changes on disk.
// It returns once the watcher is installed; watching stops when ctx is
// canceled or Close is called. Reload failures are logged and skipped.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return fmt.Errorf("configuration manager has no backing file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory, not the file. Atomic saves replace the file by
	// rename, which drops a direct file watch on some platforms.
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer watcher.Close()
		target := filepath.Clean(m.path)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := m.Reload(); err != nil {
					slog.Warn("config reload failed, keeping active snapshot",
						"path", m.path, "error", err)
				} else {
					slog.Info("configuration reloaded", "path", m.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}

// Close stops the file watcher if one is running.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.watcher = nil
}

func (m *Manager) notifyLocked(cfg *Config, changed []string) {
	for _, fn := range m.subscribers {
		fn(cfg, changed)
	}
}

func applySectionUpdate(cfg *Config, section string, values map[string]any) error {
	switch section {
	case "app":
		return DecodeSection(values, &cfg.App)
	case "database":
		return DecodeSection(values, &cfg.Database)
	case "vector_store":
		return DecodeSection(values, &cfg.VectorStore)
	case "embeddings":
		return DecodeSection(values, &cfg.Embeddings)
	case "llm":
		return DecodeSection(values, &cfg.LLM)
	case "reranking":
		return DecodeSection(values, &cfg.Reranking)
	case "retrieval":
		return DecodeSection(values, &cfg.Retrieval)
	case "api":
		return DecodeSection(values, &cfg.API)
	}
	return fmt.Errorf("unknown configuration section: %q", section)
}

// changedSections compares two snapshots section by section using YAML
// round-trips, which honors the same field set the file format does.
func changedSections(prev, next *Config) []string {
	var changed []string
	for _, name := range SectionNames {
		a, _ := prev.Section(name)
		b, _ := next.Section(name)
		if !sectionEqual(a, b) {
			changed = append(changed, name)
		}
	}
	return changed
}

func sectionEqual(a, b any) bool {
	ab, err := yaml.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := yaml.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
