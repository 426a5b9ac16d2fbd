package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/fedhost/internal/module"
)

// LoadState is the lifecycle of a module load.
type LoadState int

const (
	StatePending LoadState = iota
	StateReady
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

// LoadedModule is the outcome of a load. Values handed out by the registry
// are shared and must not be modified.
type LoadedModule struct {
	Name     string
	URL      string
	Factory  module.Factory
	State    LoadState
	Err      error
	LoadedAt time.Time
}

// Pending is a handle on one load. Every caller that asks for a module while
// its load is in flight receives the same *Pending.
type Pending struct {
	name   string
	done   chan struct{}
	result *LoadedModule
}

func newPending(name string) *Pending {
	return &Pending{name: name, done: make(chan struct{})}
}

func completed(m *LoadedModule) *Pending {
	p := newPending(m.Name)
	p.complete(m)
	return p
}

func (p *Pending) complete(m *LoadedModule) {
	p.result = m
	close(p.done)
}

// Name returns the module name being loaded.
func (p *Pending) Name() string {
	return p.name
}

// Done is closed when the load has finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome without blocking. ok is false while pending.
func (p *Pending) Result() (m *LoadedModule, ok bool) {
	select {
	case <-p.done:
		return p.result, true
	default:
		return nil, false
	}
}

// Wait blocks until the load finishes or ctx ends. Ending ctx abandons the
// wait only; the load itself keeps running.
func (p *Pending) Wait(ctx context.Context) (*LoadedModule, error) {
	select {
	case <-p.done:
		if p.result.Err != nil {
			return p.result, p.result.Err
		}
		return p.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
