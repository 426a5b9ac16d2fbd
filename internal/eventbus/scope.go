package eventbus

import "sync"

// Scope is an owner-attributed view of a Broker. Every subscription made
// through a scope is released by Close, which is how a module's handlers are
// torn down when it unmounts or faults.
type Scope struct {
	broker *Broker
	owner  string

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// Scope returns a new scope for owner.
func (b *Broker) Scope(owner string) *Scope {
	return &Scope{broker: b, owner: owner}
}

// Owner returns the module name this scope attributes subscriptions to.
func (s *Scope) Owner() string {
	return s.owner
}

// Subscribe registers h under event on behalf of the scope owner. After Close
// it returns an inactive subscription.
func (s *Scope) Subscribe(event string, h Handler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &Subscription{Event: event, Owner: s.owner}
	}
	sub := s.broker.subscribe(s.owner, event, h)
	s.subs = append(s.subs, sub)
	return sub
}

// Publish forwards to the underlying broker. Publishing from a closed scope
// is dropped.
func (s *Scope) Publish(event string, payload any) int {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0
	}
	return s.broker.Publish(event, payload)
}

// Len returns the number of subscriptions still held by the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if sub.Active() {
			n++
		}
	}
	return n
}

// Close releases every subscription made through the scope. Idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.broker.Unsubscribe(sub)
	}
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
