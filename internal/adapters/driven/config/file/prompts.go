package file

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

var _ driven.PromptStore = (*PromptStore)(nil)

//go:embed defaults/*.txt
var builtinPrompts embed.FS

const promptExt = ".txt"

// PromptStore serves answer prompts from a directory of plain-text files
// the user may edit. A prompt missing on disk falls back to the copy
// compiled into the binary.
//
// The directory is seeded with the built-in prompts on first Load.
type PromptStore struct {
	dir string

	seedOnce sync.Once
	seedErr  error

	mu    sync.RWMutex
	cache map[string]string
}

// NewPromptStore uses ~/.mizan/prompts when dir is empty.
func NewPromptStore(dir string) (*PromptStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dir = filepath.Join(home, ".mizan", "prompts")
	}
	return &PromptStore{dir: dir, cache: map[string]string{}}, nil
}

// DefaultPrompt returns the compiled-in template for name.
func DefaultPrompt(name string) (string, bool) {
	data, err := builtinPrompts.ReadFile(path.Join("defaults", name+promptExt))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func (s *PromptStore) Load(name string) (string, error) {
	s.seedOnce.Do(s.seed)

	s.mu.RLock()
	cached, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	prompt, err := s.resolve(name)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[name]; ok {
		return cached, nil
	}
	s.cache[name] = prompt
	return prompt, nil
}

// resolve prefers the file on disk and falls back to the built-in copy.
func (s *PromptStore) resolve(name string) (string, error) {
	data, readErr := os.ReadFile(filepath.Join(s.dir, name+promptExt))
	if readErr == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if def, ok := DefaultPrompt(name); ok {
		return def, nil
	}
	return "", fmt.Errorf("load prompt %q: %w", name, errors.Join(readErr, s.seedErr))
}

// Reload drops cached prompts so edits on disk take effect.
func (s *PromptStore) Reload() {
	s.mu.Lock()
	clear(s.cache)
	s.mu.Unlock()
}

func (s *PromptStore) Dir() string { return s.dir }

// seed copies every built-in prompt that has no file yet. User edits are
// never overwritten.
func (s *PromptStore) seed() {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		s.seedErr = fmt.Errorf("create prompt directory: %w", err)
		return
	}
	entries, err := fs.ReadDir(builtinPrompts, "defaults")
	if err != nil {
		s.seedErr = err
		return
	}
	var errs []error
	for _, e := range entries {
		target := filepath.Join(s.dir, e.Name())
		if _, err := os.Stat(target); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		data, err := builtinPrompts.ReadFile(path.Join("defaults", e.Name()))
		if err == nil {
			err = os.WriteFile(target, data, 0o600)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("create default prompt %q: %w", e.Name(), err))
		}
	}
	s.seedErr = errors.Join(errs...)
}
