package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	fileutil "ingestdesk/internal/file"
)

// Storage is the persistence port behind the store: a flat string
// key/value space with the semantics of browser local storage.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// MemoryStorage keeps values in a map. FailWrites makes Set and Remove fail,
// which tests use to simulate an unavailable or full storage.
type MemoryStorage struct {
	mu         sync.Mutex
	values     map[string]string
	FailWrites bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

var errStorageUnavailable = errors.New("storage unavailable")

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errStorageUnavailable
	}
	m.values[key] = value
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errStorageUnavailable
	}
	delete(m.values, key)
	return nil
}

// fileStorage keeps all keys in one JSON document under dir.
type fileStorage struct {
	mu   sync.Mutex
	path string
}

func NewFileStorage(dir string) Storage { //nolint:ireturn
	if dir == "" {
		dir = "storage/state"
	}
	return &fileStorage{path: filepath.Join(dir, "local_storage.json")}
}

func (s *fileStorage) load() (map[string]string, error) {
	values := make(map[string]string)
	if err := fileutil.ReadJSON(s.path, &values); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("load %s: %w", s.path, err)
	}
	return values, nil
}

func (s *fileStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (s *fileStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return fileutil.WriteJSONAtomic(s.path, values) //nolint:wrapcheck
}

func (s *fileStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return fileutil.WriteJSONAtomic(s.path, values) //nolint:wrapcheck
}
