// Package session persists conversation snapshots as JSON files so a later
// invocation can resume where the previous one stopped.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lococli/loco/internal/core/agent"
)

// ErrNotFound marks a missing session id.
var ErrNotFound = errors.New("session: not found")

// snapshotWrapper versions the on-disk format for future migration.
type snapshotWrapper struct {
	Version  int                   `json:"version"`
	Snapshot agent.SessionSnapshot `json:"snapshot"`
}

// FileStore keeps one JSON file per session under a base directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the store, making the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

// Put writes a snapshot atomically via temp file and rename.
func (s *FileStore) Put(id string, snapshot agent.SessionSnapshot) error {
	if err := validateID(id); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snapshotWrapper{Version: 1, Snapshot: snapshot}, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(id)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: rename temp file: %w", err)
	}
	return nil
}

// Get loads a snapshot by id.
func (s *FileStore) Get(id string) (agent.SessionSnapshot, error) {
	if err := validateID(id); err != nil {
		return agent.SessionSnapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return agent.SessionSnapshot{}, ErrNotFound
	}
	if err != nil {
		return agent.SessionSnapshot{}, fmt.Errorf("session: read: %w", err)
	}

	var wrapper snapshotWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return agent.SessionSnapshot{}, fmt.Errorf("session: unmarshal: %w", err)
	}
	return wrapper.Snapshot, nil
}

// Delete removes a session file.
func (s *FileStore) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); os.IsNotExist(err) {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// List returns the stored session ids.
func (s *FileStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: list: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("session: invalid id %q", id)
	}
	return nil
}

// Autosaver adapts a FileStore to agent.SessionSaver for one fixed session
// id. Save errors are swallowed on purpose; autosave must never disturb a
// run.
type Autosaver struct {
	store *FileStore
	id    string
}

// NewAutosaver binds the store to a session id.
func NewAutosaver(store *FileStore, id string) *Autosaver {
	return &Autosaver{store: store, id: id}
}

// Save implements agent.SessionSaver.
func (a *Autosaver) Save(snapshot agent.SessionSnapshot) {
	_ = a.store.Put(a.id, snapshot)
}
