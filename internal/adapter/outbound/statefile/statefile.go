// Package statefile persists governor-state rows in a JSON file. It is
// the kill switch's write-through mirror: small enough to inspect and
// repair by hand, locked against concurrent writers, and written
// atomically so a crash never leaves a half-document behind.
package statefile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/audit"
)

// stateEntry is one persisted row in the file document.
type stateEntry struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes a keyed state document. Writes take an
// in-process mutex plus a cross-process flock on path+".lock", copy the
// previous file to path+".bak", and land via write-tmp-then-rename.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a store for the given file path. The file is created on
// first write.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// GetState returns the row for key.
func (s *Store) GetState(_ context.Context, key string) (audit.GovernorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return audit.GovernorState{}, err
	}
	e, ok := doc[key]
	if !ok {
		return audit.GovernorState{}, audit.ErrStateNotFound
	}
	return audit.GovernorState{Key: key, Value: e.Value, UpdatedAt: e.UpdatedAt}, nil
}

// PutState inserts or replaces the row.
func (s *Store) PutState(_ context.Context, row audit.GovernorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc[row.Key] = stateEntry{Value: row.Value, UpdatedAt: row.UpdatedAt}

	// Keep the previous document around; the file exists to survive
	// exactly the situations where the last write went wrong.
	if current, readErr := os.ReadFile(s.path); readErr == nil {
		if writeErr := os.WriteFile(s.path+".bak", current, 0600); writeErr != nil {
			s.logger.Warn("state file backup failed", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("state file permissions not set", "error", err)
	}
	return nil
}

// load reads the document; a missing file is an empty document.
func (s *Store) load() (map[string]stateEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]stateEntry{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				s.logger.Warn("state file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var doc map[string]stateEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if doc == nil {
		doc = map[string]stateEntry{}
	}
	return doc, nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it
// over the target path. On any error the temp file is cleaned up.
func (s *Store) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to state file: %w", err)
	}
	return nil
}

// Path returns the configured file path.
func (s *Store) Path() string {
	return s.path
}

var _ audit.StateStore = (*Store)(nil)
