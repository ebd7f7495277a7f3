// Package settings persists user preferences as a defaults document merged
// with a key-scoped overrides document.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultKey names the overrides file.
const DefaultKey = "shufflizer.settings.v1"

// DefaultsFile is the name of the shared defaults document inside the
// settings directory.
const DefaultsFile = "settings.json"

// Fallback is used when no defaults file exists or it cannot be parsed.
func Fallback() map[string]any {
	return map[string]any{
		"audio": map[string]any{
			"mode":      "stream",
			"streamUrl": "/stream.mp3",
			"customUrl": "",
		},
		"visual": map[string]any{
			"oledSafe":          true,
			"hideTrackText":     false,
			"hideOverlayLabels": false,
		},
	}
}

// Store holds the merged settings document.
type Store struct {
	dir string
	key string

	mu        sync.Mutex
	data      map[string]any
	overrides map[string]any
	loaded    bool
}

// New returns a store reading from dir. An empty key uses DefaultKey.
func New(dir, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{dir: dir, key: key}
}

// DefaultsPath is the shared defaults file.
func (s *Store) DefaultsPath() string {
	return filepath.Join(s.dir, DefaultsFile)
}

// OverridesPath is the file Set writes to.
func (s *Store) OverridesPath() string {
	return filepath.Join(s.dir, s.key+".json")
}

// Load reads the defaults file and the overrides file and merges them over
// base. A missing or corrupt defaults file falls back to Fallback; a missing
// or corrupt overrides file counts as empty.
func (s *Store) Load(base any) (map[string]any, error) {
	root, err := toMap(base)
	if err != nil {
		return nil, fmt.Errorf("settings: base: %w", err)
	}
	defaults, ok := readJSON(s.DefaultsPath())
	if !ok {
		defaults = Fallback()
	}
	overrides, ok := readJSON(s.OverridesPath())
	if !ok {
		overrides = map[string]any{}
	}

	merged := Merge(Merge(root, defaults), overrides)

	s.mu.Lock()
	s.data = merged
	s.overrides = overrides
	s.loaded = true
	s.mu.Unlock()
	return clone(merged), nil
}

// Get returns a copy of the merged document, or nil before Load.
func (s *Store) Get() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil
	}
	return clone(s.data)
}

// Set merges patch into the document and persists the accumulated
// overrides. The defaults file is never written.
func (s *Store) Set(patch any) (map[string]any, error) {
	p, err := toMap(patch)
	if err != nil {
		return nil, fmt.Errorf("settings: patch: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string]any{}
	}
	if s.overrides == nil {
		s.overrides = map[string]any{}
	}
	next := Merge(s.data, p)
	nextOverrides := Merge(s.overrides, p)
	if err := writeJSON(s.OverridesPath(), nextOverrides); err != nil {
		return nil, err
	}
	s.data = next
	s.overrides = nextOverrides
	s.loaded = true
	return clone(next), nil
}

// Decode unmarshals the merged document into v.
func (s *Store) Decode(v any) error {
	s.mu.Lock()
	raw, err := json.Marshal(s.data)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Watch reloads the store when either file changes on disk and calls
// onChange with the merged document. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, base any, logger *log.Logger, onChange func(map[string]any)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("settings: watch %s: %w", s.dir, err)
	}

	want := map[string]bool{
		filepath.Clean(s.DefaultsPath()):  true,
		filepath.Clean(s.OverridesPath()): true,
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !want[filepath.Clean(ev.Name)] {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			merged, err := s.Load(base)
			if err != nil {
				if logger != nil {
					logger.Printf("[settings] reload failed: %v", err)
				}
				continue
			}
			if onChange != nil {
				onChange(merged)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Printf("[settings] watch error: %v", err)
			}
		}
	}
}

// Merge returns base with over applied. Nested objects merge recursively;
// every other value, arrays included, replaces the base value.
func Merge(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		sub, isObj := v.(map[string]any)
		prev, prevObj := base[k].(map[string]any)
		if isObj && prevObj {
			out[k] = Merge(prev, sub)
			continue
		}
		out[k] = v
	}
	return out
}

func readJSON(path string) (map[string]any, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// writeJSON writes through a temp file and rename so readers never see a
// partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("settings: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("settings: temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}

// toMap converts a struct or map into a generic JSON object.
func toMap(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	if m, ok := v.(map[string]any); ok {
		return clone(m), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("not a JSON object")
	}
	return m, nil
}

func clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = clone(sub)
			continue
		}
		out[k] = v
	}
	return out
}
