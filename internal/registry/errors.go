package registry

import (
	"errors"
	"fmt"
)

// Failure kinds. A *LoadError matches exactly one of them with errors.Is.
var (
	ErrNotRegistered = errors.New("module not registered")
	ErrResolve       = errors.New("module url could not be resolved")
	ErrUnreachable   = errors.New("module entry unreachable")
	ErrMalformed     = errors.New("module entry malformed")
	ErrEntryNotFound = errors.New("exposed entry not found")
)

// LoadError describes a failed module load.
type LoadError struct {
	Module string
	URL    string
	Kind   error
	Err    error
}

func (e *LoadError) Error() string {
	var msg string
	if e.URL != "" {
		msg = fmt.Sprintf("load %s from %s: %v", e.Module, e.URL, e.Kind)
	} else {
		msg = fmt.Sprintf("load %s: %v", e.Module, e.Kind)
	}
	if e.Err != nil && e.Err != e.Kind {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newLoadError(name, url string, err error) *LoadError {
	return &LoadError{Module: name, URL: url, Kind: classify(err), Err: err}
}

// classify picks the failure kind a fetch error belongs to. Untagged errors,
// timeouts included, count as unreachable.
func classify(err error) error {
	for _, kind := range []error{ErrNotRegistered, ErrResolve, ErrMalformed, ErrEntryNotFound, ErrUnreachable} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrUnreachable
}
