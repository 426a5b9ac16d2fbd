package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/fedhost/internal/eventbus"
	"github.com/zjrosen/fedhost/internal/globals"
	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/tracing"
)

const (
	// DefaultFetchTimeout bounds the initial record fetch.
	DefaultFetchTimeout = 3 * time.Second
	// DefaultPersistTimeout bounds each persist call to the record service.
	DefaultPersistTimeout = 5 * time.Second
)

var (
	// ErrClosed is returned for updates made after Close.
	ErrClosed = errors.New("shared state store closed")
	// ErrEmptyUpdate is returned when an update carries no fields.
	ErrEmptyUpdate = errors.New("update has no fields")
)

// Service is the external record service. Both calls return the full
// canonical record.
type Service interface {
	Fetch(ctx context.Context) (Record, error)
	Persist(ctx context.Context, record Record) (Record, error)
}

// Config configures a Store.
type Config struct {
	// Default is used when the initial fetch fails or times out.
	Default Record
	// Service fetches the initial record and persists updates. Nil keeps
	// state local to the process.
	Service        Service
	FetchTimeout   time.Duration
	PersistTimeout time.Duration
	// Globals, when set, has KeySharedState refreshed on every change.
	Globals *globals.Globals
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
	// Now is used for State.UpdatedAt.
	Now func() time.Time
}

type request struct {
	source string
	fields Record
	result chan error
}

// Store holds the canonical State. All writes go through one worker goroutine.
type Store struct {
	broker         *eventbus.Broker
	service        Service
	fetchTimeout   time.Duration
	persistTimeout time.Duration
	globals        *globals.Globals
	tracer         trace.Tracer
	now            func() time.Time
	fallback       Record

	mu     sync.Mutex
	state  State
	queue  []*request
	closed bool

	wake     chan struct{}
	done     chan struct{}
	ready    chan struct{}
	stopped  chan struct{}
	requests *eventbus.Subscription
}

// New creates the store and starts initialization in the background: the
// configured Service is asked for the authoritative record, falling back to
// cfg.Default on error or timeout. Loading stays true until that finishes.
func New(broker *eventbus.Broker, cfg Config) *Store {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("fedhost/sharedstate")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Store{
		broker:         broker,
		service:        cfg.Service,
		fetchTimeout:   cfg.FetchTimeout,
		persistTimeout: cfg.PersistTimeout,
		globals:        cfg.Globals,
		tracer:         cfg.Tracer,
		now:            cfg.Now,
		fallback:       cfg.Default.Clone(),
		state:          State{Record: cfg.Default.Clone(), Loading: true},
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		ready:          make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	if s.globals != nil {
		s.globals.Set(globals.KeySharedState, s.state.Clone())
	}

	s.requests = broker.Subscribe(eventbus.EventStateUpdateRequest, s.handleRequestEvent)

	log.SafeGo("sharedstate.worker", s.run)
	return s
}

func (s *Store) handleRequestEvent(payload any) {
	switch req := payload.(type) {
	case UpdateRequest:
		s.Submit(req.Source, req.Fields)
	case *UpdateRequest:
		if req != nil {
			s.Submit(req.Source, req.Fields)
		}
	default:
		log.Warn(log.CatStore, "ignoring malformed update request", "type", fmt.Sprintf("%T", payload))
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Ready is closed once initialization has finished, successfully or not.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// RequestUpdate queues an update from source and waits for its outcome.
// If ctx ends first the update still runs; only the wait is abandoned.
// Handlers of state events run on the store's worker and must use Submit
// instead, or they wait on themselves.
func (s *Store) RequestUpdate(ctx context.Context, source string, fields Record) error {
	req, err := s.enqueue(source, fields)
	if err != nil {
		return err
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues an update without waiting. Failures surface only as
// state:update-error events.
func (s *Store) Submit(source string, fields Record) {
	if _, err := s.enqueue(source, fields); err != nil {
		log.Warn(log.CatStore, "dropping update", "source", source, "error", err)
	}
}

func (s *Store) enqueue(source string, fields Record) (*request, error) {
	if len(fields) == 0 {
		return nil, ErrEmptyUpdate
	}
	req := &request{source: source, fields: fields.Clone(), result: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.queue = append(s.queue, req)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return req, nil
}

// Close stops the worker. Queued updates that have not started fail with
// ErrClosed. Idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.requests.Unsubscribe()
	close(s.done)
	<-s.stopped
}

func (s *Store) run() {
	defer close(s.stopped)

	s.initialize()
	close(s.ready)

	for {
		select {
		case <-s.done:
			s.failQueued()
			return
		case <-s.wake:
			s.drain()
		}
	}
}

func (s *Store) drain() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		req := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		req.result <- s.apply(req)
	}
}

func (s *Store) failQueued() {
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, req := range queued {
		req.result <- ErrClosed
	}
}

func (s *Store) initialize() {
	record := s.fallback.Clone()
	lastError := ""

	if s.service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
		ctx, span := s.tracer.Start(ctx, tracing.SpanStoreFetch)
		fetched, err := s.service.Fetch(ctx)
		cancel()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			lastError = err.Error()
			log.Warn(log.CatStore, "initial fetch failed, using default record", "error", err)
		} else if len(fetched) > 0 {
			record = fetched.Clone()
			log.Info(log.CatStore, "initial record loaded", "fields", len(fetched))
		}
		span.End()
	}

	s.commit(record, lastError)
}

// apply runs one queued update. The state is only replaced after a
// successful persist.
func (s *Store) apply(req *request) error {
	current := s.Snapshot()
	merged := current.Record.Merge(req.fields)
	canonical := merged

	if s.service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		ctx, span := s.tracer.Start(ctx, tracing.SpanStorePersist,
			trace.WithAttributes(
				attribute.String(tracing.AttrUpdateSource, req.source),
				attribute.Int(tracing.AttrUpdateFields, len(req.fields)),
			))
		persisted, err := s.service.Persist(ctx, merged)
		cancel()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			log.ErrorErr(log.CatStore, "persist failed", err, "source", req.source)
			s.broker.Publish(eventbus.EventStateUpdateError, UpdateError{
				Message:         err.Error(),
				SourceModule:    req.source,
				AttemptedFields: req.fields.Clone(),
			})
			return fmt.Errorf("persisting update from %s: %w", req.source, err)
		}
		span.End()
		if len(persisted) > 0 {
			canonical = persisted.Clone()
		}
	}

	s.commit(canonical, "")
	log.Debug(log.CatStore, "update applied", "source", req.source, "fields", len(req.fields))
	return nil
}

// commit replaces the state and republishes it. Only the worker calls it.
func (s *Store) commit(record Record, lastError string) {
	s.mu.Lock()
	s.state.Record = record
	s.state.Loading = false
	s.state.LastError = lastError
	s.state.Version++
	s.state.UpdatedAt = s.now()
	snapshot := s.state.Clone()
	s.mu.Unlock()

	if s.globals != nil {
		s.globals.Set(globals.KeySharedState, snapshot.Clone())
	}
	s.broker.Publish(eventbus.EventStateChanged, snapshot)
}
