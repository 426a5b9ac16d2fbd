package sharedstate

import (
	"context"

	"github.com/zjrosen/fedhost/internal/eventbus"
)

// Client is a module's handle on the store. It attributes every update to
// the module that owns it, so update errors name the right source.
type Client struct {
	store *Store
	scope *eventbus.Scope
}

// Client returns a handle whose owner and subscriptions come from scope.
func (s *Store) Client(scope *eventbus.Scope) *Client {
	return &Client{store: s, scope: scope}
}

// Owner returns the module name updates are attributed to.
func (c *Client) Owner() string {
	return c.scope.Owner()
}

// Snapshot returns a copy of the current state.
func (c *Client) Snapshot() State {
	return c.store.Snapshot()
}

// Update requests a change and waits for the outcome.
func (c *Client) Update(ctx context.Context, fields Record) error {
	return c.store.RequestUpdate(ctx, c.Owner(), fields)
}

// Submit requests a change without waiting.
func (c *Client) Submit(fields Record) {
	c.store.Submit(c.Owner(), fields)
}

// OnChange calls fn with every new canonical state. The subscription is
// released with the client's scope.
func (c *Client) OnChange(fn func(State)) *eventbus.Subscription {
	return c.scope.Subscribe(eventbus.EventStateChanged, eventbus.On(fn))
}

// OnError calls fn for update errors attributed to this client's owner.
func (c *Client) OnError(fn func(UpdateError)) *eventbus.Subscription {
	owner := c.Owner()
	return c.scope.Subscribe(eventbus.EventStateUpdateError, eventbus.On(func(e UpdateError) {
		if e.SourceModule == owner {
			fn(e)
		}
	}))
}
