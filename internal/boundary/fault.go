// Package boundary isolates one module's failures from the rest of the
// host. A Boundary loads, mounts and renders its module, and swaps in a
// fallback view when any of those steps fails or panics.
package boundary

import (
	"fmt"
	"time"
)

// State of a boundary.
type State int

const (
	StateMounting State = iota
	StateMounted
	StateFaulted
	StateUnmounted
)

func (s State) String() string {
	switch s {
	case StateMounting:
		return "mounting"
	case StateMounted:
		return "mounted"
	case StateFaulted:
		return "faulted"
	case StateUnmounted:
		return "unmounted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Phase names the step that failed.
type Phase string

const (
	PhaseLoad        Phase = "load"
	PhaseInstantiate Phase = "instantiate"
	PhaseMount       Phase = "mount"
	PhaseRender      Phase = "render"
)

// FaultRecord describes why a boundary faulted. It is published on
// module:faulted and cleared by Retry.
type FaultRecord struct {
	ID        string
	Module    string
	Phase     Phase
	Err       error
	Panicked  bool
	Timestamp time.Time
}

func (f FaultRecord) Error() string {
	return fmt.Sprintf("%s %s failed: %v", f.Module, f.Phase, f.Err)
}

func (f FaultRecord) Unwrap() error {
	return f.Err
}

// Kind selects the fallback a boundary shows.
type Kind int

const (
	// KindPage is a route's content region.
	KindPage Kind = iota
	// KindLayout is a region mounted on every route, such as the header.
	KindLayout
)
