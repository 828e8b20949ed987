package memory

import (
	"context"
	"sync"

	"loyaltykit/core"
)

// Store is a concurrent in-memory vector store. Each user row has its own lock,
// so AtomicUpdate serializes per user only.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord
}

type userRecord struct {
	mu     sync.Mutex
	vector core.AttributeVector
}

func New() *Store { return &Store{} }

func (s *Store) Create(_ context.Context, v core.AttributeVector) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if _, loaded := s.users.LoadOrStore(v.UserID, &userRecord{vector: v}); loaded {
		return core.E(core.KindConflict, "create vector", "user %q already registered", v.UserID)
	}
	return nil
}

func (s *Store) record(user core.UserID) (*userRecord, error) {
	v, ok := s.users.Load(user)
	if !ok {
		return nil, core.E(core.KindNotFound, "get vector", "user %q not found", user)
	}
	return v.(*userRecord), nil
}

func (s *Store) Get(_ context.Context, user core.UserID) (core.AttributeVector, error) {
	rec, err := s.record(user)
	if err != nil {
		return core.AttributeVector{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.vector, nil
}

func (s *Store) AtomicUpdate(_ context.Context, user core.UserID, fn core.UpdateFunc) (core.AttributeVector, error) {
	rec, err := s.record(user)
	if err != nil {
		return core.AttributeVector{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	next, err := fn(rec.vector)
	if err != nil {
		return core.AttributeVector{}, err
	}
	next.UserID = user
	if err := next.Validate(); err != nil {
		return core.AttributeVector{}, err
	}
	rec.vector = next
	return next, nil
}
