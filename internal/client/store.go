package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// SessionState is what a host remembers about its session between
// connections
type SessionState struct {
	Code      string          `json:"sessionCode"`
	CreatedAt time.Time       `json:"createdAt"`
	Rooms     []types.RoomKey `json:"rooms"`
}

func (s *SessionState) clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Rooms = append([]types.RoomKey(nil), s.Rooms...)
	return &out
}

func (s *SessionState) addRoom(key types.RoomKey) {
	for _, existing := range s.Rooms {
		if existing == key {
			return
		}
	}
	s.Rooms = append(s.Rooms, key)
}

func (s *SessionState) removeRoom(key types.RoomKey) bool {
	for i, existing := range s.Rooms {
		if existing == key {
			s.Rooms = append(s.Rooms[:i], s.Rooms[i+1:]...)
			return true
		}
	}
	return false
}

// Store persists SessionState. Load returns nil, nil when nothing is saved.
type Store interface {
	Load() (*SessionState, error)
	Save(state *SessionState) error
	Clear() error
}

// MemoryStore keeps state for the life of the process
type MemoryStore struct {
	mu    sync.Mutex
	state *SessionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone(), nil
}

func (s *MemoryStore) Save(state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.clone()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}

// FileStore keeps state in a JSON file so a restarted host can recover
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse session state: %w", err)
	}
	if state.Code == "" {
		return nil, nil
	}
	return &state, nil
}

// Save writes through a temp file and rename so a crash never leaves a
// half-written state file
func (s *FileStore) Save(state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session state: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear session state: %w", err)
	}
	return nil
}
