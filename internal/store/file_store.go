package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/gaganv007/polkaagents/internal/domain"
)

// FileStore keeps the registry in a single JSON document, rewritten atomically
// on every change set.
type FileStore struct {
	path  string
	mu    sync.Mutex
	state domain.State
	found bool
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(context.Context) (domain.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return domain.State{}, false, domain.Internal("failed to create data directory", err)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.found = false
			return domain.State{}, false, nil
		}
		return domain.State{}, false, domain.Internal("failed to read data file", err)
	}

	var parsed domain.State
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.State{}, false, domain.Internal("failed to parse data file", err)
	}
	repairLoaded(&parsed)

	s.state = parsed
	s.found = true
	return s.state.Clone(), true, nil
}

func (s *FileStore) Apply(_ context.Context, changes domain.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next domain.State
	if s.found {
		next = s.state.Clone()
	} else {
		next = domain.EmptyState(domain.PlatformConfig{})
	}
	if err := next.Apply(changes); err != nil {
		return domain.Internal("failed to apply change set", err)
	}
	if err := s.persist(next); err != nil {
		return err
	}

	s.state = next
	s.found = true
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) persist(state domain.State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return domain.Internal("failed to create data directory", err)
	}
	serialized, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return domain.Internal("failed to serialize state", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, append(serialized, '\n'), 0o600); err != nil {
		return domain.Internal("failed to write temporary state file", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return domain.Internal("failed to atomically persist state file", err)
	}
	return nil
}
