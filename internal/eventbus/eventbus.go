// Package eventbus is the in-process publish/subscribe hub that independently
// loaded modules use to signal each other.
//
// Dispatch is synchronous: Publish calls every handler registered for the
// event at call time, in subscription order, on the publisher's goroutine.
// Nothing is buffered, so a publish before a subscription is lost. A handler
// that panics is recovered and logged; the remaining handlers still run.
package eventbus

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zjrosen/fedhost/internal/log"
)

// Well-known event names.
const (
	// EventStateChanged carries the full sharedstate.State after every applied update.
	EventStateChanged = "state:changed"
	// EventStateUpdateError carries a sharedstate.UpdateError when a persist fails.
	EventStateUpdateError = "state:update-error"
	// EventStateUpdateRequest carries a sharedstate.UpdateRequest from a module.
	EventStateUpdateRequest = "state:update-request"
	// EventNavigateRequest asks the host to change route.
	EventNavigateRequest = "nav:request"
	// EventNavigateChanged is published by the host after a route change.
	EventNavigateChanged = "nav:changed"
	// EventModuleMounted carries the name of a module that finished mounting.
	EventModuleMounted = "module:mounted"
	// EventModuleFaulted carries the boundary.FaultRecord of a faulted module.
	EventModuleFaulted = "module:faulted"
)

// Handler receives an event payload. Payloads are passed by reference;
// handlers must not mutate them.
type Handler func(payload any)

// Subscription is one registered handler.
type Subscription struct {
	ID    string
	Event string
	Owner string

	handler Handler
	broker  *Broker
	active  atomic.Bool
}

// Unsubscribe removes this handler from its broker. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.broker == nil {
		return
	}
	s.broker.Unsubscribe(s)
}

// Active reports whether the handler can still be invoked.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

// Broker is the event hub. The zero value is not usable; call New.
type Broker struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	closed bool
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{subs: make(map[string][]*Subscription)}
}

// Subscribe registers h under event.
func (b *Broker) Subscribe(event string, h Handler) *Subscription {
	return b.subscribe("", event, h)
}

func (b *Broker) subscribe(owner, event string, h Handler) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Event:   event,
		Owner:   owner,
		handler: h,
		broker:  b,
	}
	if h == nil {
		return sub
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sub
	}
	sub.active.Store(true)
	b.subs[event] = append(b.subs[event], sub)
	log.Debug(log.CatBroker, "subscribed", "event", event, "owner", owner, "id", sub.ID)
	return sub
}

// Unsubscribe removes sub. Once it returns, sub's handler is never invoked
// again, including by a Publish that is already iterating.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.active.Swap(false) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.Event]
	for i, s := range list {
		if s == sub {
			// Copy so that snapshots taken by in-flight publishes stay intact.
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, sub.Event)
			} else {
				b.subs[sub.Event] = next
			}
			break
		}
	}
	log.Debug(log.CatBroker, "unsubscribed", "event", sub.Event, "owner", sub.Owner, "id", sub.ID)
}

// Publish delivers payload to every handler registered for event at call
// time. Returns the number of handlers that ran without panicking.
func (b *Broker) Publish(event string, payload any) int {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	snapshot := b.subs[event]
	b.mu.Unlock()

	delivered := 0
	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		if b.invoke(sub, payload) {
			delivered++
		}
	}
	return delivered
}

func (b *Broker) invoke(sub *Subscription, payload any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			log.Error(log.CatBroker, "handler panicked",
				"event", sub.Event, "owner", sub.Owner, "id", sub.ID,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	sub.handler(payload)
	return true
}

// SubscriberCount returns the number of handlers registered for event.
func (b *Broker) SubscriberCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}

// Close drops every subscription. Later publishes and subscriptions are no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, sub := range list {
			sub.active.Store(false)
		}
	}
	b.subs = nil
}

// On adapts a typed handler. Payloads of another type are logged and dropped.
func On[T any](fn func(T)) Handler {
	return func(payload any) {
		v, ok := payload.(T)
		if !ok {
			var want T
			log.Warn(log.CatBroker, "dropping payload of unexpected type",
				"got", fmt.Sprintf("%T", payload), "want", fmt.Sprintf("%T", want))
			return
		}
		fn(v)
	}
}
