package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/fedhost/internal/sharedstate"
)

// ErrInjected is returned by Service while Fail is set.
var ErrInjected = errors.New("injected failure")

// Service is an in-memory sharedstate.Service. Setting Fail makes every
// call return ErrInjected.
type Service struct {
	Fail atomic.Bool

	mu        sync.Mutex
	record    sharedstate.Record
	persisted []sharedstate.Record
}

var _ sharedstate.Service = (*Service)(nil)

// NewService returns a service holding initial.
func NewService(initial sharedstate.Record) *Service {
	return &Service{record: initial.Clone()}
}

func (s *Service) Fetch(context.Context) (sharedstate.Record, error) {
	if s.Fail.Load() {
		return nil, ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone(), nil
}

func (s *Service) Persist(_ context.Context, record sharedstate.Record) (sharedstate.Record, error) {
	if s.Fail.Load() {
		return nil, ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = record.Clone()
	s.persisted = append(s.persisted, record.Clone())
	return s.record.Clone(), nil
}

// Persisted returns every record persisted so far.
func (s *Service) Persisted() []sharedstate.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sharedstate.Record, len(s.persisted))
	for i, r := range s.persisted {
		out[i] = r.Clone()
	}
	return out
}
