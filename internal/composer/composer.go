// Package composer decides which modules are mounted for the current route.
// It owns the process's single event broker and shared state store, wraps
// every module in a fault boundary and reports changes to the UI through a
// pubsub broker.
package composer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/zjrosen/fedhost/internal/boundary"
	"github.com/zjrosen/fedhost/internal/eventbus"
	"github.com/zjrosen/fedhost/internal/globals"
	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/module"
	"github.com/zjrosen/fedhost/internal/pubsub"
	"github.com/zjrosen/fedhost/internal/registry"
	"github.com/zjrosen/fedhost/internal/sharedstate"
)

// NotFoundModule is the built-in module shown when no route matches.
const NotFoundModule = "notFound"

// NavigateRequest is the payload of nav:request and nav:changed.
type NavigateRequest = module.NavigateRequest

var (
	ErrClosed        = errors.New("composer closed")
	ErrUnknownRegion = errors.New("no such region")
)

// Change reasons published on the change broker.
const (
	ReasonRedraw   = "redraw"
	ReasonNavigate = "navigate"
	ReasonState    = "state"
	ReasonFault    = "fault"
	ReasonError    = "update-error"
)

// Change tells the UI what happened. Payload carries the broker payload
// for state, fault and update-error changes.
type Change struct {
	Reason  string
	Module  string
	Path    string
	Payload any
}

// Config configures a Composer.
type Config struct {
	// Layout modules are mounted once and stay mounted across routes.
	Layout       []string
	Routes       []Route
	DefaultRoute string
	// Titles maps module names to display titles.
	Titles   map[string]string
	Registry *registry.Registry
	State    sharedstate.Config
}

// Composer is the host. Create it with New, then Start it.
type Composer struct {
	cfg      Config
	registry *registry.Registry
	broker   *eventbus.Broker
	store    *sharedstate.Store
	globals  *globals.Globals
	changes  *pubsub.Broker[Change]
	subs     []*eventbus.Subscription

	mu     sync.Mutex
	match  Match
	layout []*boundary.Boundary
	page   []*boundary.Boundary
	closed bool
}

// New validates cfg and creates the broker, globals and store. The store
// starts fetching the initial record right away.
func New(cfg Config) (*Composer, error) {
	if cfg.Registry == nil {
		return nil, errors.New("composer needs a module registry")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if _, ok := cfg.Registry.Descriptor(NotFoundModule); !ok {
		if err := cfg.Registry.RegisterLocal(NotFoundModule, notFoundPage); err != nil {
			return nil, err
		}
	}

	c := &Composer{
		cfg:      cfg,
		registry: cfg.Registry,
		broker:   eventbus.New(),
		globals:  globals.New(),
		changes:  pubsub.NewLatestBroker[Change](32),
	}
	c.globals.Set(globals.KeyEventBroker, c.broker)
	stateCfg := cfg.State
	stateCfg.Globals = c.globals
	c.store = sharedstate.New(c.broker, stateCfg)

	c.subs = append(c.subs,
		c.broker.Subscribe(eventbus.EventNavigateRequest, c.handleNavigateRequest),
		c.broker.Subscribe(eventbus.EventStateChanged, func(p any) {
			c.notify(Change{Reason: ReasonState, Payload: p})
		}),
		c.broker.Subscribe(eventbus.EventStateUpdateError, func(p any) {
			c.notify(Change{Reason: ReasonError, Payload: p})
		}),
		c.broker.Subscribe(eventbus.EventModuleFaulted, eventbus.On(func(rec boundary.FaultRecord) {
			c.notify(Change{Reason: ReasonFault, Module: rec.Module, Payload: rec})
		})),
	)
	return c, nil
}

func validate(cfg Config) error {
	var errs []error
	check := func(name, where string) {
		if _, ok := cfg.Registry.Descriptor(name); !ok && name != NotFoundModule {
			errs = append(errs, fmt.Errorf("%s references unknown module %q", where, name))
		}
	}
	for _, name := range cfg.Layout {
		check(name, "layout")
	}
	seen := map[string]bool{}
	for _, r := range cfg.Routes {
		p := normalizePath(r.Path)
		if seen[p] {
			errs = append(errs, fmt.Errorf("duplicate route %s", p))
		}
		seen[p] = true
		for _, name := range r.Modules {
			check(name, "route "+p)
		}
	}
	if cfg.DefaultRoute != "" && resolve(cfg.Routes, "", cfg.DefaultRoute).NotFound() {
		errs = append(errs, fmt.Errorf("default route %s matches no route", cfg.DefaultRoute))
	}
	return errors.Join(errs...)
}

func notFoundPage() (module.Module, error) {
	var route string
	return module.Func{
		MountFn: func(_ context.Context, env module.Env) error {
			route = env.Route
			return nil
		},
		RenderFn: func(int) (string, error) {
			return fmt.Sprintf("Page Not Found\n\nThe requested page could not be found: %s", route), nil
		},
	}, nil
}

// Broker returns the process-wide event broker.
func (c *Composer) Broker() *eventbus.Broker { return c.broker }

// Store returns the process-wide shared state store.
func (c *Composer) Store() *sharedstate.Store { return c.store }

// Globals returns the values shared with every mounted module.
func (c *Composer) Globals() *globals.Globals { return c.globals }

// Subscribe returns a channel of changes the UI should react to.
func (c *Composer) Subscribe(ctx context.Context) <-chan pubsub.Event[Change] {
	return c.changes.Subscribe(ctx)
}

func (c *Composer) notify(ch Change) {
	eventType := pubsub.ChangedEvent
	if ch.Payload != nil {
		eventType = pubsub.ForwardedEvent
	}
	c.changes.Publish(eventType, ch)
}

// Start waits for the store to initialize (bounded by ctx), mounts the
// layout and navigates to path.
func (c *Composer) Start(ctx context.Context, path string) error {
	select {
	case <-c.store.Ready():
	case <-ctx.Done():
		return fmt.Errorf("waiting for shared state: %w", ctx.Err())
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.layout == nil {
		for _, name := range c.cfg.Layout {
			b := c.newBoundary(name, boundary.KindLayout, path)
			c.layout = append(c.layout, b)
		}
		layout := slices.Clone(c.layout)
		c.mu.Unlock()
		for _, b := range layout {
			b.Start(ctx)
		}
	} else {
		c.mu.Unlock()
	}

	_, err := c.Navigate(ctx, path)
	return err
}

func (c *Composer) newBoundary(name string, kind boundary.Kind, route string) *boundary.Boundary {
	title := c.cfg.Titles[name]
	if name == NotFoundModule && title == "" {
		title = "Not Found"
	}
	return boundary.New(boundary.Config{
		Name:    name,
		Title:   title,
		Kind:    kind,
		Route:   route,
		Loader:  c.registry,
		Broker:  c.broker,
		Store:   c.store,
		Globals: c.globals,
		Invalidate: func() {
			c.notify(Change{Reason: ReasonRedraw, Module: name})
		},
	})
}

// Routes returns the configured route table.
func (c *Composer) Routes() []Route {
	return slices.Clone(c.cfg.Routes)
}

// Resolve matches path against the route table without navigating.
func (c *Composer) Resolve(path string) Match {
	return resolve(c.cfg.Routes, c.cfg.DefaultRoute, path)
}

// Navigate shows path. The previous page's regions are unmounted and a
// boundary is started for every module of the new route; modules still
// loading show a placeholder. Navigating to the route already shown keeps
// its regions mounted. Loads already in flight for abandoned regions run
// to completion and still populate the registry cache.
func (c *Composer) Navigate(ctx context.Context, path string) (Match, error) {
	m := c.Resolve(path)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return m, ErrClosed
	}
	prev := c.match
	if prev.Route != nil && m.Route == prev.Route && c.page != nil {
		c.match = m
		c.mu.Unlock()
		c.publishNavigation(m, "")
		return m, nil
	}

	old := c.page
	var names []string
	if m.NotFound() {
		names = []string{NotFoundModule}
	} else {
		names = m.Route.Modules
	}
	page := make([]*boundary.Boundary, 0, len(names))
	for _, name := range names {
		page = append(page, c.newBoundary(name, boundary.KindPage, m.Path))
	}
	c.page = page
	c.match = m
	c.mu.Unlock()

	for _, b := range old {
		b.Unmount()
	}
	for _, b := range page {
		b.Start(ctx)
	}

	if m.NotFound() {
		log.Warn(log.CatHost, "no route matches", "path", m.Path)
	} else {
		log.Info(log.CatHost, "navigated", "path", m.Path, "route", m.Route.Path, "modules", strings.Join(names, ","), "redirected", m.Redirected)
	}
	c.publishNavigation(m, "")
	return m, nil
}

func (c *Composer) publishNavigation(m Match, source string) {
	c.broker.Publish(eventbus.EventNavigateChanged, NavigateRequest{Path: m.Path, Source: source})
	c.notify(Change{Reason: ReasonNavigate, Path: m.Path})
}

func (c *Composer) handleNavigateRequest(payload any) {
	var req NavigateRequest
	switch p := payload.(type) {
	case NavigateRequest:
		req = p
	case *NavigateRequest:
		if p == nil {
			return
		}
		req = *p
	case string:
		req = NavigateRequest{Path: p}
	default:
		log.Warn(log.CatHost, "ignoring malformed navigation request", "type", fmt.Sprintf("%T", payload))
		return
	}
	log.Debug(log.CatHost, "navigation requested", "path", req.Path, "source", req.Source)
	if _, err := c.Navigate(context.Background(), req.Path); err != nil {
		log.ErrorErr(log.CatHost, "navigation failed", err, "path", req.Path)
	}
}

// Current returns the match being shown.
func (c *Composer) Current() Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.match
}

// Regions returns the boundaries in render order: layout first, then the
// page.
func (c *Composer) Regions() []*boundary.Boundary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*boundary.Boundary, 0, len(c.layout)+len(c.page))
	out = append(out, c.layout...)
	return append(out, c.page...)
}

// Region returns the mounted region for name.
func (c *Composer) Region(name string) (*boundary.Boundary, bool) {
	for _, b := range c.Regions() {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// Retry restarts a faulted region.
func (c *Composer) Retry(ctx context.Context, name string) error {
	b, ok := c.Region(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, name)
	}
	return b.Retry(ctx)
}

// RetryFaulted restarts every faulted region and returns how many were
// restarted.
func (c *Composer) RetryFaulted(ctx context.Context) int {
	n := 0
	for _, b := range c.Regions() {
		if b.State() == boundary.StateFaulted && b.Retry(ctx) == nil {
			n++
		}
	}
	return n
}

// Trigger offers key to each region in render order until one handles it.
func (c *Composer) Trigger(key string) bool {
	for _, b := range c.Regions() {
		if b.Trigger(key) {
			return true
		}
	}
	return false
}

// Actions returns the key actions of every mounted region.
func (c *Composer) Actions() []module.Action {
	var out []module.Action
	for _, b := range c.Regions() {
		out = append(out, b.Actions()...)
	}
	return out
}

// Close unmounts every region and stops the store and broker. Idempotent.
func (c *Composer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	regions := append(slices.Clone(c.layout), c.page...)
	c.layout, c.page = nil, nil
	c.mu.Unlock()

	for _, b := range regions {
		b.Unmount()
	}
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.store.Close()
	c.broker.Close()
	c.changes.Close()
	log.Info(log.CatHost, "host closed")
}
