package registry

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/fedhost/internal/cachemanager"
	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/module"
	"github.com/zjrosen/fedhost/internal/tracing"
)

// DefaultLoadTimeout bounds one fetch.
const DefaultLoadTimeout = 10 * time.Second

// Fetcher retrieves a module entry from url and returns a factory for the
// descriptor's exposed entry. Errors should wrap ErrUnreachable,
// ErrMalformed or ErrEntryNotFound.
type Fetcher interface {
	Fetch(ctx context.Context, url string, d Descriptor) (module.Factory, error)
}

// FetcherFunc adapts a function into a Fetcher.
type FetcherFunc func(ctx context.Context, url string, d Descriptor) (module.Factory, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string, d Descriptor) (module.Factory, error) {
	return f(ctx, url, d)
}

// Config configures a Registry.
type Config struct {
	Environment Environment
	Fetcher     Fetcher
	LoadTimeout time.Duration
	// Cache holds ready modules. Defaults to an in-memory cache without expiry.
	Cache  cachemanager.CacheManager[string, *LoadedModule]
	Tracer trace.Tracer
	Now    func() time.Time
}

// Registry resolves and loads modules. Safe for concurrent use.
type Registry struct {
	env         Environment
	fetcher     Fetcher
	loadTimeout time.Duration
	cache       cachemanager.CacheManager[string, *LoadedModule]
	tracer      trace.Tracer
	now         func() time.Time

	mu          sync.Mutex
	descriptors map[string]Descriptor
	order       []string
	inflight    map[string]*Pending
	local       map[string]*LoadedModule
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.Environment == "" {
		cfg.Environment = Development
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.Cache == nil {
		cfg.Cache = cachemanager.NewInMemoryCacheManager[string, *LoadedModule](
			"modules", cachemanager.NoExpiration, cachemanager.DefaultCleanupInterval)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("fedhost/registry")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		env:         cfg.Environment,
		fetcher:     cfg.Fetcher,
		loadTimeout: cfg.LoadTimeout,
		cache:       cfg.Cache,
		tracer:      cfg.Tracer,
		now:         cfg.Now,
		descriptors: make(map[string]Descriptor),
		inflight:    make(map[string]*Pending),
		local:       make(map[string]*LoadedModule),
	}
}

// Environment returns the environment URLs are resolved for.
func (r *Registry) Environment() Environment {
	return r.env
}

// Register adds a descriptor. Names are unique.
func (r *Registry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.Name)
	}
	r.descriptors[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// RegisterLocal adds an in-process module. It is ready immediately and is
// never fetched.
func (r *Registry) RegisterLocal(name string, factory module.Factory) error {
	url := "local://" + name
	d := Descriptor{Name: name, Scope: name, Resolve: func(Environment) (string, error) { return url, nil }}
	if err := d.validate(); err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("%w: %s has no factory", ErrInvalidDescriptor, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.descriptors[name] = d
	r.order = append(r.order, name)
	r.local[name] = &LoadedModule{Name: name, URL: url, Factory: factory, State: StateReady, LoadedAt: r.now()}
	return nil
}

// Local reports whether name was registered with RegisterLocal.
func (r *Registry) Local(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.local[name]
	return ok
}

// Descriptor returns the descriptor registered under name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.descriptors[name])
	}
	return out
}

// Resolve returns the URL name resolves to in the registry's environment.
func (r *Registry) Resolve(name string) (string, error) {
	d, ok := r.Descriptor(name)
	if !ok {
		return "", &LoadError{Module: name, Kind: ErrNotRegistered}
	}
	url, err := d.Resolve(r.env)
	if err != nil {
		return "", &LoadError{Module: name, Kind: ErrResolve, Err: err}
	}
	return url, nil
}

// Load returns a handle on name's load. A ready module comes back already
// completed; a load in flight is shared; anything else starts a new fetch.
// Failed loads are not cached, so loading a failed name fetches again.
//
// ctx only carries trace context into the fetch. The fetch is bounded by
// the registry's LoadTimeout, not by ctx.
func (r *Registry) Load(ctx context.Context, name string) *Pending {
	if m, ok := r.cache.Get(ctx, name); ok {
		return completed(m)
	}

	r.mu.Lock()
	if m, ok := r.local[name]; ok {
		r.mu.Unlock()
		return completed(m)
	}
	if p, ok := r.inflight[name]; ok {
		r.mu.Unlock()
		return p
	}
	// A load may have finished between the cache check and taking the lock.
	if m, ok := r.cache.Get(ctx, name); ok {
		r.mu.Unlock()
		return completed(m)
	}
	d, ok := r.descriptors[name]
	if !ok {
		r.mu.Unlock()
		log.Warn(log.CatRegistry, "load of unregistered module", "module", name)
		return completed(r.failed(name, "", &LoadError{Module: name, Kind: ErrNotRegistered}))
	}
	url, err := d.Resolve(r.env)
	if err != nil {
		r.mu.Unlock()
		log.ErrorErr(log.CatRegistry, "resolve failed", err, "module", name, "env", r.env)
		return completed(r.failed(name, "", &LoadError{Module: name, Kind: ErrResolve, Err: err}))
	}
	p := newPending(name)
	r.inflight[name] = p
	r.mu.Unlock()

	fetchCtx := context.WithoutCancel(ctx)
	log.SafeGo("registry.load."+name, func() {
		r.fetch(fetchCtx, d, url, p)
	})
	return p
}

func (r *Registry) fetch(ctx context.Context, d Descriptor, url string, p *Pending) {
	ctx, cancel := context.WithTimeout(ctx, r.loadTimeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, tracing.SpanRegistryLoad, trace.WithAttributes(
		attribute.String(tracing.AttrModuleName, d.Name),
		attribute.String(tracing.AttrModuleURL, url),
		attribute.String(tracing.AttrModuleEnv, string(r.env)),
	))
	defer span.End()

	start := r.now()
	factory, err := r.safeFetch(ctx, d, url)
	if err == nil && factory == nil {
		err = fmt.Errorf("%w: fetcher returned no factory", ErrMalformed)
	}

	var result *LoadedModule
	if err != nil {
		loadErr := newLoadError(d.Name, url, err)
		span.RecordError(loadErr)
		span.SetStatus(codes.Error, loadErr.Kind.Error())
		log.ErrorErr(log.CatRegistry, "module load failed", err, "module", d.Name, "url", url)
		result = r.failed(d.Name, url, loadErr)
	} else {
		result = &LoadedModule{Name: d.Name, URL: url, Factory: factory, State: StateReady, LoadedAt: r.now()}
		log.Info(log.CatRegistry, "module loaded", "module", d.Name, "url", url, "elapsed", r.now().Sub(start))
	}

	r.mu.Lock()
	if result.State == StateReady {
		r.cache.Set(ctx, d.Name, result, cachemanager.NoExpiration)
	}
	delete(r.inflight, d.Name)
	r.mu.Unlock()

	p.complete(result)
}

func (r *Registry) safeFetch(ctx context.Context, d Descriptor, url string) (f module.Factory, err error) {
	if r.fetcher == nil {
		return nil, fmt.Errorf("%w: no fetcher configured", ErrUnreachable)
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error(log.CatRegistry, "fetcher panicked", "module", d.Name, "panic", rec, "stack", string(debug.Stack()))
			f, err = nil, fmt.Errorf("%w: fetcher panicked: %v", ErrMalformed, rec)
		}
	}()
	return r.fetcher.Fetch(ctx, url, d)
}

func (r *Registry) failed(name, url string, err *LoadError) *LoadedModule {
	return &LoadedModule{Name: name, URL: url, State: StateFailed, Err: err, LoadedAt: r.now()}
}

// Loaded returns the ready modules currently cached.
func (r *Registry) Loaded(ctx context.Context) map[string]*LoadedModule {
	return r.cache.Items(ctx)
}

// Invalidate drops a cached ready module so the next Load fetches it again.
// A load in flight is unaffected.
func (r *Registry) Invalidate(ctx context.Context, name string) {
	_ = r.cache.Delete(ctx, name)
	log.Debug(log.CatRegistry, "module invalidated", "module", name)
}
