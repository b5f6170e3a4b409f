package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Store loads and saves the device identity. Load returns (nil, nil) when
// no identity has been saved yet.
type Store interface {
	Load() (*Identity, error)
	Save(*Identity) error
}

// FileStore persists the identity as YAML under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) path() string {
	return filepath.Join(s.Dir, "device.yaml")
}

func (s *FileStore) Load() (*Identity, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read identity: %w", err)
	}
	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse identity: %w", err)
	}
	return &id, nil
}

func (s *FileStore) Save(id *Identity) error {
	data, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(s.path(), data, 0600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	id *Identity
}

func (s *MemStore) Load() (*Identity, error) {
	return s.id, nil
}

func (s *MemStore) Save(id *Identity) error {
	s.id = id
	return nil
}
