// Package sqldb opens the SQL database backing the local entity store and
// the settings store.
//
// Three database/sql drivers are supported:
//   - "sqlite3": github.com/mattn/go-sqlite3 (cgo, default)
//   - "sqlite":  modernc.org/sqlite (pure Go)
//   - "pgx":     github.com/jackc/pgx/v5/stdlib (PostgreSQL)
//
// # Database Configuration (SQLite drivers)
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single open connection: SQLite has one writer
//
// The schema is embedded and applied idempotently on every Open. Queries are
// written with "?" placeholders and rebound for PostgreSQL by the Dialect.
package sqldb
