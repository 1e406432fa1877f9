// Package pointer persists the device tenant pointer in a YAML file so the
// binding survives restarts of the host process.
package pointer

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-tenancy"
)

type document struct {
	Values map[string]string `yaml:"values"`
}

// FileStore is a tenancy.PointerStore backed by a YAML file
type FileStore struct {
	path   string
	mu     sync.RWMutex
	values map[string]string
}

// Open loads path, a missing file starts empty
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, values: map[string]string{}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read pointer file").
			WithMetadata(map[string]any{"path": path})
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse pointer file").
			WithMetadata(map[string]any{"path": path})
	}
	for k, v := range doc.Values {
		s.values[k] = v
	}
	return s, nil
}

// Path returns the backing file
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	s.values[key] = value
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

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	if !had {
		return nil
	}
	delete(s.values, key)
	if err := s.flush(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

// flush writes a temp file and renames it over the target
func (s *FileStore) flush() error {
	data, err := yaml.Marshal(document{Values: s.values})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode pointer file")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create pointer dir")
	}

	tmp, err := os.CreateTemp(dir, ".pointer-*.yaml")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create pointer temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write pointer file")
	}
	if err := tmp.Close(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to close pointer file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to replace pointer file")
	}
	return nil
}

var _ tenancy.PointerStore = (*FileStore)(nil)
