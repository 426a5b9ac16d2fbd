package testutil

import "github.com/zjrosen/fedhost/internal/sharedstate"

const (
	AdaID   = "user_123"
	GraceID = "user_456"
)

// Ada is the default user record.
func Ada() sharedstate.Record {
	return NewRecord(AdaID,
		Name("Ada Lovelace"), Email("ada@example.com"), Role("Software Engineer"), Avatar("A"))
}

// Grace is a second user for tests that need more than one record.
func Grace() sharedstate.Record {
	return NewRecord(GraceID,
		Name("Grace Hopper"), Email("grace@example.com"), Role("Rear Admiral"), Avatar("G"))
}

// WithStandardUsers adds Ada and Grace.
func (b *Builder) WithStandardUsers() *Builder {
	b.records = append(b.records,
		seeded{id: AdaID, record: Ada()},
		seeded{id: GraceID, record: Grace()},
	)
	return b
}
