// Package testutil provides shared fixtures for tests: user records, a
// record store seeder and a scriptable record service.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/fedhost/internal/sharedstate"
)

// Seeder stores a record under id unless one exists.
// *records.Repository satisfies it.
type Seeder interface {
	Seed(ctx context.Context, id string, record sharedstate.Record) error
}

type seeded struct {
	id     string
	record sharedstate.Record
}

// Builder accumulates records and seeds them in order.
type Builder struct {
	t       *testing.T
	seeder  Seeder
	records []seeded
}

// NewBuilder creates a builder that seeds into s.
func NewBuilder(t *testing.T, s Seeder) *Builder {
	t.Helper()
	return &Builder{t: t, seeder: s}
}

// WithRecord adds a record with optional configuration.
func (b *Builder) WithRecord(id string, opts ...RecordOption) *Builder {
	b.records = append(b.records, seeded{id: id, record: NewRecord(id, opts...)})
	return b
}

// Build seeds every record and returns them keyed by id.
func (b *Builder) Build() map[string]sharedstate.Record {
	b.t.Helper()
	out := make(map[string]sharedstate.Record, len(b.records))
	for _, r := range b.records {
		require.NoError(b.t, b.seeder.Seed(context.Background(), r.id, r.record), "seeding %s", r.id)
		out[r.id] = r.record.Clone()
	}
	return out
}
