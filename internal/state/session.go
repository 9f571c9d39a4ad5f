// internal/state/session.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/gravia/internal/types"
)

// sessionFile is the on-disk format of session.json.
type sessionFile struct {
	SessionID types.SessionID `json:"session_id"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SessionStore is a JSON-file-backed store for the last active session id.
// It lives at <root>/session.json.
type SessionStore struct {
	root string
	mu   sync.RWMutex
}

// NewSessionStore creates a new file-backed SessionStore rooted at the given directory.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

// Path returns the file path used by this store.
func (s *SessionStore) Path() string {
	return filepath.Join(s.root, "session.json")
}

// Load returns the persisted session id, or "" when none is stored.
func (s *SessionStore) Load(_ context.Context) (types.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read session file: %w", err)
	}

	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("unmarshal session file: %w", err)
	}
	return types.NormalizeSessionID(string(f.SessionID)), nil
}

// Save persists id, replacing whatever was stored.
func (s *SessionStore) Save(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !id.IsSet() {
		return fmt.Errorf("invalid session id: %q", id)
	}

	data, err := json.MarshalIndent(sessionFile{SessionID: id, UpdatedAt: time.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session file: %w", err)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp session file: %w", err)
	}
	return nil
}

// Clear removes the persisted session id. Clearing an empty store is not an error.
func (s *SessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// MemorySessionStore keeps the session id in memory only. It survives
// reconnects but not process restarts.
type MemorySessionStore struct {
	mu sync.Mutex
	id types.SessionID
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (m *MemorySessionStore) Load(_ context.Context) (types.SessionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *MemorySessionStore) Save(_ context.Context, id types.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	return nil
}

func (m *MemorySessionStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
	return nil
}
