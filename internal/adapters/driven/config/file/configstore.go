package file

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

const configFileName = "config.toml"

// ConfigStore keeps settings in a TOML file. Values are addressed by flat
// dotted keys and written back as nested tables, so "retrieval.threshold"
// lives in the [retrieval] table on disk.
type ConfigStore struct {
	mu     sync.RWMutex
	path   string
	values map[string]any
}

// NewConfigStore opens the config file in configDir, creating the directory
// if needed. An empty configDir means ~/.mizan. A missing file is an empty
// configuration.
func NewConfigStore(configDir string) (*ConfigStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		configDir = filepath.Join(home, ".mizan")
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	s := &ConfigStore{path: filepath.Join(configDir, configFileName)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get retrieves a value by key.
func (s *ConfigStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	return val, ok
}

// Set stores a value and rewrites the file.
func (s *ConfigStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.values)
	next[key] = value
	if err := s.write(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// Delete removes key and rewrites the file.
func (s *ConfigStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return nil
	}
	next := maps.Clone(s.values)
	delete(next, key)
	if err := s.write(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// Keys returns every stored key in sorted order.
func (s *ConfigStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Path returns the config file path.
func (s *ConfigStore) Path() string {
	return s.path
}

// reload reads the file into memory.
func (s *ConfigStore) reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.values = make(map[string]any)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}

	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	s.values = make(map[string]any)
	flatten(tree, "", s.values)
	return nil
}

// write replaces the file through a temporary sibling so a failed write
// never leaves a truncated config behind. Caller holds the lock.
func (s *ConfigStore) write(values map[string]any) error {
	data, err := toml.Marshal(nest(values))
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), configFileName+".*")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())

	// API keys live here.
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// flatten copies a decoded TOML tree into out under dotted keys.
func flatten(tree map[string]any, prefix string, out map[string]any) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if table, ok := value.(map[string]any); ok {
			flatten(table, key, out)
			continue
		}
		out[key] = value
	}
}

// nest is the inverse of flatten. A key that is both a value and a table
// prefix keeps the value under its full dotted name.
func nest(flat map[string]any) map[string]any {
	root := make(map[string]any)
	for _, key := range slices.Sorted(maps.Keys(flat)) {
		parts := strings.Split(key, ".")
		node, clash := root, false
		for _, p := range parts[:len(parts)-1] {
			child, exists := node[p]
			if !exists {
				child = make(map[string]any)
				node[p] = child
			}
			table, isTable := child.(map[string]any)
			if !isTable {
				clash = true
				break
			}
			node = table
		}
		leaf := parts[len(parts)-1]
		if _, taken := node[leaf]; clash || taken {
			root[key] = flat[key]
			continue
		}
		node[leaf] = flat[key]
	}
	return root
}
