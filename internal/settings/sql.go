package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/pubsync/internal/sqldb"
)

// SQLKV stores settings in the "settings" table created by sqldb.Open.
type SQLKV struct {
	db *sqldb.DB
}

// NewSQL returns a Store backed by db.
func NewSQL(db *sqldb.DB) *Typed {
	return NewTyped(&SQLKV{db: db})
}

func (s *SQLKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		s.db.Dialect.Rebind("SELECT value FROM settings WHERE name = ?"), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %q: %w", key, err)
	}
	return value, true, nil
}

// Put upserts the value. ON CONFLICT works on SQLite and PostgreSQL alike.
func (s *SQLKV) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.db.Dialect.Rebind(`
		INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value
	`), key, value)
	if err != nil {
		return fmt.Errorf("write setting %q: %w", key, err)
	}
	return nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Dialect.Rebind("DELETE FROM settings WHERE name = ?"), key); err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}
