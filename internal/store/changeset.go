package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/pubsync/internal/record"
)

// ChangeKind labels a staged change.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one staged mutation. Entity.ID is always set; Fields and
// ModifiedAt are unused for deletes.
type Change struct {
	Kind   ChangeKind
	Entity record.Entity
}

// ChangeSet accumulates staged changes in order. Safe for concurrent use.
type ChangeSet struct {
	mu      sync.Mutex
	changes []Change
}

func (c *ChangeSet) Insert(e record.Entity) {
	c.add(Change{Kind: ChangeInsert, Entity: *e.Clone()})
}

func (c *ChangeSet) Update(id uuid.UUID, fields record.Fields, modifiedAt time.Time) {
	c.add(Change{Kind: ChangeUpdate, Entity: record.Entity{ID: id, Fields: fields.Clone(), ModifiedAt: modifiedAt}})
}

func (c *ChangeSet) Delete(id uuid.UUID) {
	c.add(Change{Kind: ChangeDelete, Entity: record.Entity{ID: id}})
}

func (c *ChangeSet) add(ch Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

// Len returns the number of staged changes.
func (c *ChangeSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

// Take returns the staged changes and empties the set.
func (c *ChangeSet) Take() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.changes
	c.changes = nil
	return out
}

// Reset drops all staged changes.
func (c *ChangeSet) Reset() {
	c.Take()
}

// Overlay applies staged changes for id on top of the committed row
// (nil when absent) and returns the resulting view.
func (c *ChangeSet) Overlay(id uuid.UUID, committed *record.Entity) *record.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := committed.Clone()
	for _, ch := range c.changes {
		if ch.Entity.ID != id {
			continue
		}
		switch ch.Kind {
		case ChangeInsert:
			cur = ch.Entity.Clone()
		case ChangeUpdate:
			if cur != nil {
				cur.Fields = ch.Entity.Fields.Clone()
				cur.ModifiedAt = ch.Entity.ModifiedAt
			}
		case ChangeDelete:
			cur = nil
		}
	}
	return cur
}
