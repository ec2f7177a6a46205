package local

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store provides thread-safe JSON file storage. Every write goes to a
// temporary file that is renamed into place, so a reader never sees a torn
// document.
type Store struct {
	basePath string
	mu       sync.RWMutex
}

// NewStore creates a new local JSON store
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// Path returns the store's root directory.
func (s *Store) Path() string {
	return s.basePath
}

// Save persists data to a JSON file
func (s *Store) Save(collection, id string, data interface{}) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return s.SaveRaw(collection, id, raw)
}

// SaveRaw persists already encoded JSON.
func (s *Store) SaveRaw(collection, id string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFile(collection, id, raw)
}

// Load reads data from a JSON file
func (s *Store) Load(collection, id string, data interface{}) error {
	raw, err := s.LoadRaw(collection, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// LoadRaw reads the encoded document.
func (s *Store) LoadRaw(collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := os.ReadFile(s.path(collection, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return raw, nil
}

// Delete removes a JSON file
func (s *Store) Delete(collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeFile(collection, id)
}

// apply writes a batch of changes under one lock. A nil value deletes.
func (s *Store) apply(changes []change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range changes {
		var err error
		if c.Data == nil {
			err = s.removeFile(c.Collection, c.ID)
			if err == ErrNotFound {
				err = nil
			}
		} else {
			err = s.writeFile(c.Collection, c.ID, c.Data)
		}
		if err != nil {
			return fmt.Errorf("apply %s/%s: %w", c.Collection, c.ID, err)
		}
	}
	return nil
}

func (s *Store) path(collection, id string) string {
	return filepath.Join(s.basePath, collection, id+".json")
}

func (s *Store) writeFile(collection, id string, raw []byte) error {
	dir := filepath.Join(s.basePath, collection)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create collection directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(collection, id)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func (s *Store) removeFile(collection, id string) error {
	if err := os.Remove(s.path(collection, id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}
