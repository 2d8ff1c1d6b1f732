package identity

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/model"
	"github.com/m-mizutani/reagent/pkg/repository"
)

// Key is the durable key holding the session identifier.
const Key = "session_id"

// Store owns the durable session identifier. It is the only writer of Key.
type Store struct {
	kv  repository.KeyValue
	now func() time.Time

	mu      sync.Mutex
	current model.SessionID
}

// Option is a functional option for Store
type Option func(*Store)

// WithClock replaces time.Now, used for the identifier prefix
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(kv repository.KeyValue, opts ...Option) *Store {
	s := &Store{
		kv:  kv,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreateID returns the persisted identifier, creating and persisting a
// new one when none exists. Repeated calls return the same value.
func (s *Store) GetOrCreateID(ctx context.Context) (model.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" {
		return s.current, nil
	}

	v, found, err := s.kv.Get(ctx, Key)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read session ID")
	}
	if found && v != "" {
		s.current = model.SessionID(v)
		return s.current, nil
	}

	return s.create(ctx)
}

// Reset drops the persisted identifier and derives a fresh one. It has no
// network side effect.
func (s *Store) Reset(ctx context.Context) (model.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, Key); err != nil {
		return "", goerr.Wrap(err, "failed to delete session ID")
	}

	return s.create(ctx)
}

// create persists a new identifier that differs from the current one.
func (s *Store) create(ctx context.Context) (model.SessionID, error) {
	prev := s.current
	s.current = ""

	id := model.NewSessionID(s.now())
	for id == prev {
		id = model.NewSessionID(s.now())
	}

	if err := s.kv.Set(ctx, Key, string(id)); err != nil {
		return "", goerr.Wrap(err, "failed to persist session ID", goerr.V("session_id", id))
	}
	s.current = id
	return id, nil
}
