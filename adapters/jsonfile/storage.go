package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"loyaltykit/core"
)

// Store persists every vector to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	data map[core.UserID]core.AttributeVector
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: map[core.UserID]core.AttributeVector{}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, core.Wrap(core.KindConfiguration, "load state file", err)
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw map[string]core.AttributeVector
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		s.data[core.UserID(k)] = v
	}
	return nil
}

// persist writes to a temp file and renames it over the target.
func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	raw := make(map[string]core.AttributeVector, len(s.data))
	for k, v := range s.data {
		raw[string(k)] = v
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) Create(_ context.Context, v core.AttributeVector) error {
	if err := v.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[v.UserID]; ok {
		return core.E(core.KindConflict, "create vector", "user %q already registered", v.UserID)
	}
	s.data[v.UserID] = v
	if err := s.persist(); err != nil {
		delete(s.data, v.UserID)
		return core.Wrap(core.KindTransient, "persist", err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, user core.UserID) (core.AttributeVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[user]
	if !ok {
		return core.AttributeVector{}, core.E(core.KindNotFound, "get vector", "user %q not found", user)
	}
	return v, nil
}

// AtomicUpdate holds the file lock across read, fn and persist. A failed write
// restores the previous in-memory vector.
func (s *Store) AtomicUpdate(_ context.Context, user core.UserID, fn core.UpdateFunc) (core.AttributeVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.data[user]
	if !ok {
		return core.AttributeVector{}, core.E(core.KindNotFound, "atomic update", "user %q not found", user)
	}
	next, err := fn(prev)
	if err != nil {
		return core.AttributeVector{}, err
	}
	next.UserID = user
	if err := next.Validate(); err != nil {
		return core.AttributeVector{}, err
	}
	s.data[user] = next
	if err := s.persist(); err != nil {
		s.data[user] = prev
		return core.AttributeVector{}, core.Wrap(core.KindTransient, "persist", err)
	}
	return next, nil
}
