package record

import (
	"time"

	"github.com/google/uuid"
)

// Record is a remote record: a typed, timestamped document in the shared
// store, addressed by a globally unique identifier.
type Record struct {
	// ID is the remote record name.
	ID string
	// Type is the record-type tag, e.g. "CD_Item".
	Type string
	// Fields holds the record's scalar values keyed by remote field name.
	Fields Fields
	// ModifiedAt is assigned by the remote store on every write.
	ModifiedAt time.Time
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// Entity is the local projection of a Record.
type Entity struct {
	ID         uuid.UUID
	Fields     Fields
	ModifiedAt time.Time
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{ID: e.ID, Fields: e.Fields.Clone(), ModifiedAt: e.ModifiedAt}
}

// Latest returns the greatest modification time among records, or the zero
// time for an empty slice.
func Latest(records []Record) time.Time {
	var latest time.Time
	for _, r := range records {
		if r.ModifiedAt.After(latest) {
			latest = r.ModifiedAt
		}
	}
	return latest
}
