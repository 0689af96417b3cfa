package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/pubsync/internal/record"
)

// ErrNotFound is returned by FetchByID when no entity has the given ID.
var ErrNotFound = errors.New("entity not found")

// Store is the local object store for one entity kind.
type Store interface {
	EntityName() string

	// Insert stages e. An existing row with the same primary key is replaced.
	Insert(e record.Entity)
	// UpdateFields stages a full overwrite of the entity's fields and
	// modification time. Updating a missing row is a no-op at commit.
	UpdateFields(id uuid.UUID, fields record.Fields, modifiedAt time.Time)
	// Delete stages removal of the entity.
	Delete(id uuid.UUID)

	FetchByID(ctx context.Context, id uuid.UUID) (*record.Entity, error)
	// FetchLatest returns the committed entity with the greatest
	// modification time, or nil when the store is empty.
	FetchLatest(ctx context.Context) (*record.Entity, error)
	Count(ctx context.Context) (int, error)

	// Commit applies staged changes atomically.
	Commit(ctx context.Context) error
	// Discard drops staged changes.
	Discard()
}

// PersistenceError reports a failed commit.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err wraps a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
