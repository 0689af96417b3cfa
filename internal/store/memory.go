package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/pubsync/internal/record"
)

var _ Store = (*Memory)(nil)

// Memory is an in-memory Store. It counts commits and can be told to fail
// the next commit, which tests use to check batch atomicity.
type Memory struct {
	name    string
	staged  ChangeSet
	mu      sync.RWMutex
	rows    map[uuid.UUID]record.Entity
	commits int
	failErr error
}

// NewMemory creates an empty store for the entity kind.
func NewMemory(entityName string) *Memory {
	return &Memory{name: entityName, rows: make(map[uuid.UUID]record.Entity)}
}

func (m *Memory) EntityName() string { return m.name }

func (m *Memory) Insert(e record.Entity) { m.staged.Insert(e) }

func (m *Memory) UpdateFields(id uuid.UUID, fields record.Fields, modifiedAt time.Time) {
	m.staged.Update(id, fields, modifiedAt)
}

func (m *Memory) Delete(id uuid.UUID) { m.staged.Delete(id) }

func (m *Memory) Discard() { m.staged.Reset() }

func (m *Memory) FetchByID(ctx context.Context, id uuid.UUID) (*record.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var committed *record.Entity
	if row, ok := m.rows[id]; ok {
		committed = &row
	}
	m.mu.RUnlock()

	e := m.staged.Overlay(id, committed)
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

func (m *Memory) FetchLatest(ctx context.Context) (*record.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *record.Entity
	for _, row := range m.rows {
		if latest == nil || newer(row, *latest) {
			latest = row.Clone()
		}
	}
	return latest, nil
}

// newer orders by modification time, then by ID string, both descending,
// matching the SQL store's ORDER BY.
func newer(a, b record.Entity) bool {
	if c := a.ModifiedAt.Compare(b.ModifiedAt); c != 0 {
		return c > 0
	}
	return a.ID.String() > b.ID.String()
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows), nil
}

// Commit applies staged changes. A failure injected with FailNextCommit
// leaves the committed rows untouched.
func (m *Memory) Commit(ctx context.Context) error {
	changes := m.staged.Take()
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "commit", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	if m.failErr != nil {
		err := m.failErr
		m.failErr = nil
		return &PersistenceError{Op: "commit", Err: err}
	}
	for _, ch := range changes {
		switch ch.Kind {
		case ChangeInsert:
			m.rows[ch.Entity.ID] = *ch.Entity.Clone()
		case ChangeUpdate:
			if row, ok := m.rows[ch.Entity.ID]; ok {
				row.Fields = ch.Entity.Fields.Clone()
				row.ModifiedAt = ch.Entity.ModifiedAt
				m.rows[ch.Entity.ID] = row
			}
		case ChangeDelete:
			delete(m.rows, ch.Entity.ID)
		}
	}
	return nil
}

// Commits returns the number of Commit calls, including failed ones.
func (m *Memory) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

// FailNextCommit makes the next Commit return err without applying changes.
func (m *Memory) FailNextCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// All returns every committed entity.
func (m *Memory) All() []record.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]record.Entity, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, *row.Clone())
	}
	return out
}
