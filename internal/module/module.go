// Package module defines the fixed interface every dynamically loaded
// fragment implements, and the environment the host injects on mount.
package module

import (
	"context"
	"errors"

	"github.com/zjrosen/fedhost/internal/eventbus"
	"github.com/zjrosen/fedhost/internal/globals"
	"github.com/zjrosen/fedhost/internal/sharedstate"
)

// Module is a mountable unit produced by a Factory.
type Module interface {
	// Mount attaches the module to the host. An error faults the module's
	// boundary.
	Mount(ctx context.Context, env Env) error
	// Render returns the module's current view at the given width. An error
	// faults the module's boundary.
	Render(width int) (string, error)
	// Unmount releases module-held resources. The host closes the module's
	// event scope itself.
	Unmount()
}

// Factory yields a fresh Module instance.
type Factory func() (Module, error)

// Action is a key-triggered command a module offers to the host.
type Action struct {
	Key     string         `json:"key"`
	Label   string         `json:"label"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Actionable is implemented by modules that expose key actions.
type Actionable interface {
	Actions() []Action
	// Trigger runs the action bound to key and reports whether one matched.
	Trigger(key string) bool
}

// Env is injected into every mount. All of its handles are scoped to the
// module named Name.
type Env struct {
	Name    string
	Route   string
	Events  *eventbus.Scope
	State   *sharedstate.Client
	Globals *globals.Globals
	// Invalidate asks the host to re-render. Safe to call from any goroutine.
	Invalidate func()
}

// Redraw calls Invalidate when it is set.
func (e Env) Redraw() {
	if e.Invalidate != nil {
		e.Invalidate()
	}
}

// ErrNotMounted is returned by modules rendered before Mount succeeded.
var ErrNotMounted = errors.New("module not mounted")

// Func adapts plain functions into a Module. Nil fields are no-ops.
type Func struct {
	MountFn   func(ctx context.Context, env Env) error
	RenderFn  func(width int) (string, error)
	UnmountFn func()
}

func (f Func) Mount(ctx context.Context, env Env) error {
	if f.MountFn == nil {
		return nil
	}
	return f.MountFn(ctx, env)
}

func (f Func) Render(width int) (string, error) {
	if f.RenderFn == nil {
		return "", nil
	}
	return f.RenderFn(width)
}

func (f Func) Unmount() {
	if f.UnmountFn != nil {
		f.UnmountFn()
	}
}

// Static returns a factory for a module that always renders text.
func Static(text string) Factory {
	return func() (Module, error) {
		return Func{RenderFn: func(int) (string, error) { return text, nil }}, nil
	}
}

// NavigateRequest is the payload of nav:request and nav:changed.
type NavigateRequest struct {
	Path   string `json:"path"`
	Source string `json:"source,omitempty"`
}
