package boundary

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/fedhost/internal/eventbus"
	"github.com/zjrosen/fedhost/internal/globals"
	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/module"
	"github.com/zjrosen/fedhost/internal/registry"
	"github.com/zjrosen/fedhost/internal/sharedstate"
)

// ErrNotFaulted is returned by Retry on a boundary that has not faulted.
var ErrNotFaulted = errors.New("boundary is not faulted")

// Loader starts module loads. *registry.Registry implements it.
type Loader interface {
	Load(ctx context.Context, name string) *registry.Pending
}

// Config configures a Boundary.
type Config struct {
	Name string
	// Title is shown on the region and in the fallback. Defaults to Name.
	Title string
	Kind  Kind
	Route string

	Loader  Loader
	Broker  *eventbus.Broker
	Store   *sharedstate.Store
	Globals *globals.Globals
	// Invalidate is called whenever the boundary's view may have changed.
	// It must be safe to call from any goroutine.
	Invalidate func()
	Now        func() time.Time
}

// Boundary wraps one module. Its methods are safe for concurrent use.
type Boundary struct {
	cfg Config

	mu      sync.Mutex
	state   State
	gen     uint64
	mod     module.Module
	scope   *eventbus.Scope
	fault   *FaultRecord
	pending *registry.Pending
	loads   int
}

// New creates a boundary in the mounting state. Call Start to begin.
func New(cfg Config) *Boundary {
	if cfg.Title == "" {
		cfg.Title = cfg.Name
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Invalidate == nil {
		cfg.Invalidate = func() {}
	}
	return &Boundary{cfg: cfg, state: StateMounting}
}

func (b *Boundary) Name() string  { return b.cfg.Name }
func (b *Boundary) Title() string { return b.cfg.Title }
func (b *Boundary) Kind() Kind    { return b.cfg.Kind }

// State returns the current state.
func (b *Boundary) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Fault returns the active fault record.
func (b *Boundary) Fault() (FaultRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fault == nil {
		return FaultRecord{}, false
	}
	return *b.fault, true
}

// Loads returns how many registry loads this boundary has started.
func (b *Boundary) Loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

// Start begins a mount attempt: load, instantiate, mount. It returns
// immediately; the view shows a placeholder until the attempt settles.
func (b *Boundary) Start(ctx context.Context) {
	b.mu.Lock()
	if b.state == StateUnmounted {
		b.mu.Unlock()
		return
	}
	b.gen++
	gen := b.gen
	b.state = StateMounting
	b.fault = nil
	b.loads++
	p := b.cfg.Loader.Load(ctx, b.cfg.Name)
	b.pending = p
	b.mu.Unlock()

	log.Debug(log.CatBoundary, "mount attempt started", "module", b.cfg.Name, "attempt", gen)
	b.cfg.Invalidate()

	mountCtx := context.WithoutCancel(ctx)
	log.SafeGo("boundary.mount."+b.cfg.Name, func() {
		<-p.Done()
		b.settle(mountCtx, gen, p)
	})
}

// Retry clears the fault and restarts the mount. The registry cache is not
// touched: a ready load is reused and a failed one is fetched again.
func (b *Boundary) Retry(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateFaulted {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotFaulted, b.cfg.Name, state)
	}
	b.mu.Unlock()

	log.Info(log.CatBoundary, "retrying module", "module", b.cfg.Name)
	b.Start(ctx)
	return nil
}

// current reports whether gen is still the live attempt.
func (b *Boundary) current(gen uint64) bool {
	return b.gen == gen && b.state == StateMounting
}

func (b *Boundary) settle(ctx context.Context, gen uint64, p *registry.Pending) {
	m, _ := p.Result()

	b.mu.Lock()
	if !b.current(gen) {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if m.Err != nil {
		b.enterFault(gen, PhaseLoad, m.Err)
		return
	}

	mod, err := instantiate(m.Factory)
	if err != nil {
		b.enterFault(gen, PhaseInstantiate, err)
		return
	}

	scope := b.cfg.Broker.Scope(b.cfg.Name)
	env := module.Env{
		Name:       b.cfg.Name,
		Route:      b.cfg.Route,
		Events:     scope,
		Globals:    b.cfg.Globals,
		Invalidate: b.cfg.Invalidate,
	}
	if b.cfg.Store != nil {
		env.State = b.cfg.Store.Client(scope)
	}

	if err := mountSafely(ctx, mod, env); err != nil {
		scope.Close()
		b.enterFault(gen, PhaseMount, err)
		return
	}

	b.mu.Lock()
	if !b.current(gen) {
		b.mu.Unlock()
		// Superseded while mounting.
		unmountSafely(b.cfg.Name, mod)
		scope.Close()
		return
	}
	b.state = StateMounted
	b.mod = mod
	b.scope = scope
	b.mu.Unlock()

	log.Info(log.CatBoundary, "module mounted", "module", b.cfg.Name)
	b.cfg.Broker.Publish(eventbus.EventModuleMounted, b.cfg.Name)
	b.cfg.Invalidate()
}

// enterFault records a fault for attempt gen. The mounted module, if any,
// gets one final Unmount and its scope is closed, so none of its handlers
// run afterwards.
func (b *Boundary) enterFault(gen uint64, phase Phase, err error) {
	b.mu.Lock()
	if b.gen != gen || (b.state != StateMounting && b.state != StateMounted) {
		b.mu.Unlock()
		return
	}
	rec := &FaultRecord{
		ID:        uuid.NewString(),
		Module:    b.cfg.Name,
		Phase:     phase,
		Err:       err,
		Panicked:  isPanic(err),
		Timestamp: b.cfg.Now(),
	}
	mod, scope := b.mod, b.scope
	b.mod, b.scope = nil, nil
	b.state = StateFaulted
	b.fault = rec
	b.mu.Unlock()

	if scope != nil {
		scope.Close()
	}
	if mod != nil {
		unmountSafely(b.cfg.Name, mod)
	}

	log.ErrorErr(log.CatBoundary, "module faulted", err, "module", b.cfg.Name, "phase", phase, "panic", rec.Panicked, "fault", rec.ID)
	b.cfg.Broker.Publish(eventbus.EventModuleFaulted, *rec)
	b.cfg.Invalidate()
}

// Unmount tears the module down and discards any attempt in flight.
// Idempotent.
func (b *Boundary) Unmount() {
	b.mu.Lock()
	if b.state == StateUnmounted {
		b.mu.Unlock()
		return
	}
	b.gen++
	b.state = StateUnmounted
	mod, scope := b.mod, b.scope
	b.mod, b.scope, b.fault = nil, nil, nil
	b.mu.Unlock()

	if scope != nil {
		scope.Close()
	}
	if mod != nil {
		unmountSafely(b.cfg.Name, mod)
	}
	log.Debug(log.CatBoundary, "module unmounted", "module", b.cfg.Name)
}

// Actions returns the mounted module's key actions.
func (b *Boundary) Actions() []module.Action {
	b.mu.Lock()
	mod := b.mod
	b.mu.Unlock()
	if a, ok := mod.(module.Actionable); ok {
		return a.Actions()
	}
	return nil
}

// Trigger forwards a key to the mounted module. A panic faults the region.
func (b *Boundary) Trigger(key string) (handled bool) {
	b.mu.Lock()
	mod, gen := b.mod, b.gen
	b.mu.Unlock()
	a, ok := mod.(module.Actionable)
	if !ok {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			b.enterFault(gen, PhaseRender, recovered(b.cfg.Name, r))
			handled = true
		}
	}()
	return a.Trigger(key)
}

func instantiate(f module.Factory) (mod module.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			mod, err = nil, recovered("factory", r)
		}
	}()
	if f == nil {
		return nil, errors.New("no factory")
	}
	mod, err = f()
	if err == nil && mod == nil {
		err = errors.New("factory returned no module")
	}
	return mod, err
}

func mountSafely(ctx context.Context, mod module.Module, env module.Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(env.Name, r)
		}
	}()
	return mod.Mount(ctx, env)
}

func unmountSafely(name string, mod module.Module) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatBoundary, "unmount panicked", "module", name, "panic", r)
		}
	}()
	mod.Unmount()
}

// PanicError wraps a value recovered from module code.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func recovered(name string, r any) error {
	stack := string(debug.Stack())
	log.Error(log.CatBoundary, "module code panicked", "module", name, "panic", r, "stack", stack)
	return &PanicError{Value: r, Stack: stack}
}

func isPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
