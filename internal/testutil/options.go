package testutil

import "github.com/zjrosen/fedhost/internal/sharedstate"

// RecordOption sets one field of a record under construction.
type RecordOption func(sharedstate.Record)

func Name(name string) RecordOption {
	return func(r sharedstate.Record) { r["name"] = name }
}

func Email(email string) RecordOption {
	return func(r sharedstate.Record) { r["email"] = email }
}

func Role(role string) RecordOption {
	return func(r sharedstate.Record) { r["role"] = role }
}

func Avatar(avatar string) RecordOption {
	return func(r sharedstate.Record) { r["avatar"] = avatar }
}

// Field sets an arbitrary field.
func Field(key string, value any) RecordOption {
	return func(r sharedstate.Record) { r[key] = value }
}

// NewRecord returns a record with id set and opts applied.
func NewRecord(id string, opts ...RecordOption) sharedstate.Record {
	r := sharedstate.Record{"id": id}
	for _, opt := range opts {
		opt(r)
	}
	return r
}
