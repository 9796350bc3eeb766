package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/m4xw311/arcadechat/errors"
)

// Store persists sessions keyed by thread id. Load returns an empty session
// for an unknown thread.
type Store interface {
	Load(threadID string) (*Session, error)
	Save(s *Session) error
}

// MemoryStore keeps checkpoints for the lifetime of the process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Load(threadID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[threadID]
	if !ok {
		return New(threadID), nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ThreadID] = s.Clone()
	return nil
}

// FileStore writes one JSON file per thread under Dir.
type FileStore struct {
	Dir string
}

// DefaultThreadDir is where file checkpoints live relative to the working directory.
var DefaultThreadDir = filepath.Join(".arcadechat", "threads")

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create thread directory %s", dir)
	}
	return &FileStore{Dir: dir}, nil
}

// Load loads an existing session from disk.
func (f *FileStore) Load(threadID string) (*Session, error) {
	if strings.ContainsAny(threadID, `/\`) {
		return nil, errors.New("invalid thread id %q", threadID)
	}
	path := f.path(threadID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(threadID), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read thread file %s", path)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "could not parse thread file %s", path)
	}
	return &s, nil
}

// Save writes the current session state to disk. The file is replaced by a
// rename, so a crash mid-write leaves the previous checkpoint intact.
func (f *FileStore) Save(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize thread %s", s.ThreadID)
	}

	tmp, err := os.CreateTemp(f.Dir, s.ThreadID+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "could not create temp file for thread %s", s.ThreadID)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "could not write thread %s", s.ThreadID)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "could not write thread %s", s.ThreadID)
	}
	if err := os.Rename(tmp.Name(), f.path(s.ThreadID)); err != nil {
		return errors.Wrapf(err, "could not replace thread file for %s", s.ThreadID)
	}
	return nil
}

func (f *FileStore) path(threadID string) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%s.json", threadID))
}
