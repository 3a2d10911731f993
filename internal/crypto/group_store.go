package crypto

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/matheus3301/sigil/internal/directory"
)

// GroupStore persists group session state keyed by channel sid.
type GroupStore interface {
	CreateGroup(sid, initiator string, members []directory.Card) (*GroupSession, error)
	LoadGroup(sid, initiator string) (*GroupSession, error)
	SaveGroup(session *GroupSession) error
	DeleteGroup(sid string) error
}

const groupsFilename = "groups.json"

// FileGroupStore keeps group states in a single JSON file under the
// session directory. Access is serialized by one mutex; the states are
// small and reads are rare (sessions are cached live in the manager).
type FileGroupStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileGroupStore returns a FileGroupStore rooted at dir.
func NewFileGroupStore(dir string) *FileGroupStore {
	return &FileGroupStore{dir: dir}
}

func (s *FileGroupStore) path() string {
	return filepath.Join(s.dir, groupsFilename)
}

func (s *FileGroupStore) read() (map[string]GroupState, error) {
	m := make(map[string]GroupState)
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group store: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode group store: %w", err)
	}
	return m, nil
}

func (s *FileGroupStore) write(m map[string]GroupState) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create group store dir: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode group store: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write group store: %w", err)
	}
	return os.Rename(tmp, s.path())
}

// CreateGroup mints fresh key material for sid. Fails with ErrGroupExists
// if state is already persisted for the sid.
func (s *FileGroupStore) CreateGroup(sid, initiator string, members []directory.Card) (*GroupSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return nil, err
	}
	if _, ok := m[sid]; ok {
		return nil, fmt.Errorf("create group %s: %w", sid, ErrGroupExists)
	}
	state, err := newGroupState(sid, initiator, members)
	if err != nil {
		return nil, err
	}
	m[sid] = state
	if err := s.write(m); err != nil {
		return nil, err
	}
	return &GroupSession{state: state}, nil
}

// LoadGroup returns the persisted session for sid, or ErrGroupNotFound.
func (s *FileGroupStore) LoadGroup(sid, initiator string) (*GroupSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return nil, err
	}
	state, ok := m[sid]
	if !ok {
		return nil, fmt.Errorf("load group %s: %w", sid, ErrGroupNotFound)
	}
	if initiator != "" && state.Initiator != initiator {
		return nil, fmt.Errorf("load group %s: initiator %q does not match %q: %w",
			sid, initiator, state.Initiator, ErrGroupNotFound)
	}
	return &GroupSession{state: state}, nil
}

// SaveGroup persists the session's current state.
func (s *FileGroupStore) SaveGroup(session *GroupSession) error {
	state := session.snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return err
	}
	m[state.Sid] = state
	return s.write(m)
}

// DeleteGroup removes persisted state for sid. Deleting a missing group
// is not an error; cleanup is best-effort.
func (s *FileGroupStore) DeleteGroup(sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := m[sid]; !ok {
		return nil
	}
	delete(m, sid)
	return s.write(m)
}

// Compile-time assertion that FileGroupStore implements GroupStore.
var _ GroupStore = (*FileGroupStore)(nil)
