// Package sqlstore implements store.Store on the shared "entities" table.
//
// Each row is keyed by (entity_name, id). Fields are stored as typed JSON
// (record.MarshalFields) and modification times as Unix nanoseconds.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/pubsync/internal/record"
	"github.com/roach88/pubsync/internal/sqldb"
	"github.com/roach88/pubsync/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is a SQL-backed store for one entity kind.
type Store struct {
	db     *sqldb.DB
	name   string
	staged store.ChangeSet
}

// New binds a store to entityName on db. db must come from sqldb.Open so
// the schema exists.
func New(db *sqldb.DB, entityName string) *Store {
	return &Store{db: db, name: entityName}
}

func (s *Store) EntityName() string { return s.name }

func (s *Store) Insert(e record.Entity) { s.staged.Insert(e) }

func (s *Store) UpdateFields(id uuid.UUID, fields record.Fields, modifiedAt time.Time) {
	s.staged.Update(id, fields, modifiedAt)
}

func (s *Store) Delete(id uuid.UUID) { s.staged.Delete(id) }

func (s *Store) Discard() { s.staged.Reset() }

// FetchByID returns the committed row with staged changes applied.
func (s *Store) FetchByID(ctx context.Context, id uuid.UUID) (*record.Entity, error) {
	row := s.db.QueryRowContext(ctx, s.db.Dialect.Rebind(`
		SELECT id, fields, modified_at
		FROM entities
		WHERE entity_name = ? AND id = ?
	`), s.name, id.String())

	committed, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		committed, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", s.name, id, err)
	}

	e := s.staged.Overlay(id, committed)
	if e == nil {
		return nil, store.ErrNotFound
	}
	return e, nil
}

// FetchLatest returns the newest committed row. Ties on modified_at are
// broken by id so the result is deterministic.
func (s *Store) FetchLatest(ctx context.Context) (*record.Entity, error) {
	row := s.db.QueryRowContext(ctx, s.db.Dialect.Rebind(`
		SELECT id, fields, modified_at
		FROM entities
		WHERE entity_name = ?
		ORDER BY modified_at DESC, id DESC
		LIMIT 1
	`), s.name)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch latest %s: %w", s.name, err)
	}
	return e, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.db.Dialect.Rebind(
		"SELECT COUNT(*) FROM entities WHERE entity_name = ?"), s.name,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.name, err)
	}
	return n, nil
}

// List returns every committed row ordered by modified_at, then id.
func (s *Store) List(ctx context.Context) ([]record.Entity, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Dialect.Rebind(`
		SELECT id, fields, modified_at
		FROM entities
		WHERE entity_name = ?
		ORDER BY modified_at ASC, id ASC
	`), s.name)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.name, err)
	}
	defer rows.Close()

	out := []record.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.name, err)
	}
	return out, nil
}

// Commit applies every staged change in one transaction. On any failure the
// transaction is rolled back, the staged changes are dropped and a
// *store.PersistenceError is returned.
func (s *Store) Commit(ctx context.Context) error {
	changes := s.staged.Take()
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &store.PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback() // no-op after Commit

	for _, ch := range changes {
		if err := s.apply(ctx, tx, ch); err != nil {
			return &store.PersistenceError{Op: ch.Kind.String(), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &store.PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, ch store.Change) error {
	id := ch.Entity.ID.String()
	switch ch.Kind {
	case store.ChangeInsert:
		fields, err := record.MarshalFields(ch.Entity.Fields)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.db.Dialect.Rebind(`
			INSERT INTO entities (entity_name, id, fields, modified_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (entity_name, id) DO UPDATE
			SET fields = excluded.fields, modified_at = excluded.modified_at
		`), s.name, id, string(fields), toNanos(ch.Entity.ModifiedAt))
		return err

	case store.ChangeUpdate:
		fields, err := record.MarshalFields(ch.Entity.Fields)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.db.Dialect.Rebind(`
			UPDATE entities SET fields = ?, modified_at = ?
			WHERE entity_name = ? AND id = ?
		`), string(fields), toNanos(ch.Entity.ModifiedAt), s.name, id)
		return err

	case store.ChangeDelete:
		_, err := tx.ExecContext(ctx, s.db.Dialect.Rebind(
			"DELETE FROM entities WHERE entity_name = ? AND id = ?"), s.name, id)
		return err

	default:
		return fmt.Errorf("unknown change kind %d", ch.Kind)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*record.Entity, error) {
	var (
		id     string
		fields string
		nanos  int64
	)
	if err := row.Scan(&id, &fields, &nanos); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("stored id %q: %w", id, err)
	}
	f, err := record.UnmarshalFields([]byte(fields))
	if err != nil {
		return nil, fmt.Errorf("stored fields for %s: %w", id, err)
	}
	return &record.Entity{ID: parsed, Fields: f, ModifiedAt: fromNanos(nanos)}, nil
}

// The zero time has no Unix nanosecond representation; it is stored as 0.
// zeroNanos stores the zero time. It sorts before every real timestamp and
// leaves 0 free for the Unix epoch.
const zeroNanos = math.MinInt64

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return zeroNanos
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == zeroNanos {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
