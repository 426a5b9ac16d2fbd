// Package records talks to the external record service that persists the
// shared user record, and provides a sqlite-backed mock of that service for
// development.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/records/migrations"
	"github.com/zjrosen/fedhost/internal/sharedstate"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("record not found")

// Repository stores records as JSON documents keyed by id.
type Repository struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// embedded migrations.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	clean := filepath.Clean(path)
	log.Debug(log.CatRecords, "Opening database", "path", clean)

	db, err := sql.Open("sqlite3", "file:"+clean+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes PATCH read-modify-write.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info(log.CatRecords, "Connected to database", "path", clean)
	return &Repository{db: db, path: clean}, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Get returns the record stored under id.
func (r *Repository) Get(ctx context.Context, id string) (sharedstate.Record, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM records WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query record %s: %w", id, err)
	}
	return decode(data)
}

// Put replaces the record stored under id and returns what was stored.
func (r *Repository) Put(ctx context.Context, id string, record sharedstate.Record) (sharedstate.Record, error) {
	stored := record.Clone()
	if stored == nil {
		stored = sharedstate.Record{}
	}
	stored["id"] = id
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO records (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			version = records.version + 1,
			updated_at = CURRENT_TIMESTAMP`, id, string(data))
	if err != nil {
		return nil, fmt.Errorf("store record %s: %w", id, err)
	}
	return stored, nil
}

// Patch merges fields into the stored record.
func (r *Repository) Patch(ctx context.Context, id string, fields sharedstate.Record) (sharedstate.Record, error) {
	current, err := r.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return r.Put(ctx, id, current.Merge(fields))
}

// Seed stores record under id unless one already exists.
func (r *Repository) Seed(ctx context.Context, id string, record sharedstate.Record) error {
	if _, err := r.Get(ctx, id); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, err := r.Put(ctx, id, record); err != nil {
		return err
	}
	log.Info(log.CatRecords, "Seeded record", "id", id)
	return nil
}

// Version returns how many times the record under id has been written.
func (r *Repository) Version(ctx context.Context, id string) (int, error) {
	var v int
	err := r.db.QueryRowContext(ctx, `SELECT version FROM records WHERE id = ?`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func decode(data string) (sharedstate.Record, error) {
	var rec sharedstate.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// applyMigrations runs each *.sql file in name order, once.
func applyMigrations(db *sql.DB, fsys fs.FS) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
		log.Debug(log.CatRecords, "Applied migration", "name", name)
	}
	return nil
}
