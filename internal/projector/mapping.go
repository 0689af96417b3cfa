package projector

import (
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/pubsync/internal/record"
)

// Field names with special meaning after the remote prefix is removed.
const (
	RemoteFieldPrefix = "CD_"
	EntityNameField   = "entityName"
	IDField           = "id"
)

// LocalName maps a remote field name to its local name: the remote prefix
// is removed and the result NFC-normalised.
func LocalName(remoteName string) string {
	return record.NormalizeName(strings.TrimPrefix(remoteName, RemoteFieldPrefix))
}

// Project applies the field mapping to r.
//
// The id field becomes the primary key and is not copied into Fields;
// entityName is dropped; every other field is copied under its local name.
// ModifiedAt is always taken from r. hasID reports whether r carried an id
// field; when it did not, the entity gets a fresh random ID.
//
// An id that is not a string or not a UUID yields a *record.DecodeError.
func Project(r record.Record) (e record.Entity, hasID bool, err error) {
	e = record.Entity{Fields: make(record.Fields, len(r.Fields)), ModifiedAt: r.ModifiedAt}
	for _, key := range r.Fields.SortedKeys() {
		name := LocalName(key)
		v := r.Fields[key]
		switch name {
		case EntityNameField:
			continue
		case IDField:
			s, ok := v.(record.String)
			if !ok {
				return record.Entity{}, false, &record.DecodeError{Field: key, Reason: "identifier must be a string"}
			}
			id, perr := uuid.Parse(string(s))
			if perr != nil {
				return record.Entity{}, false, &record.DecodeError{Field: key, Reason: "identifier is not a UUID", Err: perr}
			}
			e.ID = id
			hasID = true
		default:
			e.Fields[name] = v
		}
	}
	if !hasID {
		e.ID = uuid.New()
	}
	return e, hasID, nil
}
