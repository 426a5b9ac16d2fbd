// Package sharedstate is the single writer of cross-module state.
//
// The Store owns one State (today: the active user record). Modules read
// copies through Snapshot or the state:changed event and ask for changes with
// RequestUpdate, Submit or a state:update-request event. Updates are applied
// one at a time in call order, optionally after an external record service
// confirms them.
package sharedstate

import (
	"fmt"
	"maps"
	"time"
)

// Record is a set of named fields, for example id, name, email, role and avatar.
type Record map[string]any

// Clone returns a deep copy of nested maps and slices.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Record:
		return val.Clone()
	case map[string]any:
		return map[string]any(Record(val).Clone())
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Merge returns a copy of r with fields laid over it. Untouched fields keep
// their values; r itself is not modified.
func (r Record) Merge(fields Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(fields))
	}
	maps.Copy(out, fields.Clone())
	return out
}

// String returns the field formatted as a string, or "" when absent.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// State is the canonical shared state. Values handed out by the store are
// copies; mutating them has no effect on the store.
type State struct {
	Record    Record    `json:"record"`
	Loading   bool      `json:"loading"`
	LastError string    `json:"lastError,omitempty"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.Record = s.Record.Clone()
	return s
}

// UpdateRequest is the payload of state:update-request.
type UpdateRequest struct {
	Source string `json:"source"`
	Fields Record `json:"fields"`
}

// UpdateError is the payload of state:update-error.
type UpdateError struct {
	Message         string `json:"message"`
	SourceModule    string `json:"sourceModule"`
	AttemptedFields Record `json:"attemptedFields"`
}

func (e UpdateError) Error() string {
	return fmt.Sprintf("update from %s failed: %s", e.SourceModule, e.Message)
}
