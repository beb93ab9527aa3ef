// Package stage implements the record-time staging store SPEC_FULL.md
// adds ahead of the builder: a resumable, deduplicating buffer for
// events pulled from a file, stream, or upstream relay before `record`
// hands a frozen batch to CassetteBuilder.
//
// Grounded directly on the teacher's pkg/storage (GenericStorage: open,
// apply pragmas, prepared-statement batch insert) and pkg/db
// (embedded, versioned SQL migrations) — restructured from ergs'
// generic-block schema to a fixed, six-column Nostr event schema, but
// keeping the same manager shape, the same pragma set, and the same
// embedded-migration mechanism.
package stage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/sandwichfarm/cassette/internal/cassettelog"
	"github.com/sandwichfarm/cassette/pkg/event"
	"github.com/sandwichfarm/cassette/pkg/realtime"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var log = cassettelog.ForService("stage")

// Store is a SQLite-backed staging buffer. Events are deduplicated by
// id on insert (INSERT OR IGNORE), so interrupting and resuming a long
// `record` run never produces duplicate rows.
type Store struct {
	db  *sql.DB
	hub *realtime.Hub
}

// Open opens (creating if necessary) the staging database at dbPath and
// applies any pending migrations. hub may be nil; when set, every
// successfully staged event is also broadcast to it.
func Open(dbPath string, hub *realtime.Hub) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("stage: opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA temp_store = memory",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("stage: applying pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, hub: hub}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("stage: reading migrations: %w", err)
	}
	type migration struct {
		version int
		sql     string
	}
	var migrations []migration
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("stage: reading migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, migration{version: version, sql: string(content)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })

	for _, m := range migrations {
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("stage: applying migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stages a batch of events, skipping (not erroring on) ids already
// present. It reports how many rows were newly inserted.
func (s *Store) Add(ctx context.Context, events []event.Event) (inserted int, err error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("stage: beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Warnf("rollback failed: %v", rbErr)
			}
		}
	}()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO staged_events (id, pubkey, created_at, kind, raw_json) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("stage: preparing statement: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := events[i]
		body, err := e.MarshalJSON()
		if err != nil {
			return inserted, fmt.Errorf("stage: marshaling event %s: %w", e.ID, err)
		}
		res, err := stmt.Exec(e.ID, e.Pubkey, e.CreatedAt, e.Kind, string(body))
		if err != nil {
			return inserted, fmt.Errorf("stage: inserting event %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
			if s.hub != nil {
				s.hub.Publish(e)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("stage: committing: %w", err)
	}
	committed = true
	return inserted, nil
}

// All returns every staged event, in no particular order — callers
// feeding this into eventstore.Build rely on Build's own primary sort,
// not on staging order.
func (s *Store) All(ctx context.Context) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM staged_events`)
	if err != nil {
		return nil, fmt.Errorf("stage: querying staged events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("stage: scanning row: %w", err)
		}
		var e event.Event
		if err := e.UnmarshalJSON([]byte(raw)); err != nil {
			return nil, fmt.Errorf("stage: unmarshaling staged event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count reports the number of staged events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM staged_events`).Scan(&n)
	return n, err
}
