package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// corruptSuffix is appended to a state file that could not be parsed.
const corruptSuffix = ".corrupt"

// FileStore keeps every key in one JSON document on disk.
// Writes go through a temporary file followed by a rename so a crash never
// leaves a truncated document behind.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]json.RawMessage
	loaded bool
}

// NewFileStore creates a store persisted at path. The file is created lazily.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state file path required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state path: %w", err)
	}

	return &FileStore{path: abs}, nil
}

// Path returns the absolute location of the state document.
func (s *FileStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return false, err
	}

	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Update implements Store.
func (s *FileStore) Update(ctx context.Context, key string, value any) error {
	if value == nil {
		return ErrNilValue
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}

	prev, had := s.values[key]
	s.values[key] = data
	if err := s.flush(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}

	s.values = make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.values); err != nil {
			s.quarantine(err)
		}
	}
	s.loaded = true
	return nil
}

// quarantine moves an unparseable document to <path>.corrupt and starts
// from an empty state, so later updates can succeed again.
func (s *FileStore) quarantine(cause error) {
	s.values = make(map[string]json.RawMessage)

	aside := s.path + corruptSuffix
	logger := log.With().Str("component", "state-store").Logger()
	if err := os.Rename(s.path, aside); err != nil {
		logger.Warn().Err(err).Str("path", s.path).Msg("Cannot move corrupt state file aside, it will be overwritten")
		return
	}
	logger.Warn().
		Err(cause).
		Str("path", s.path).
		Str("moved_to", aside).
		Msg("State file unreadable, starting with empty state")
}

func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
