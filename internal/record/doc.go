// Package record defines the data model shared by the sync engine and the
// local projector.
//
// A Record is a remote document as fetched from the shared store: a typed,
// timestamped map of scalar fields addressed by a globally unique name.
// An Entity is its local projection, addressed by a UUID primary key.
//
// This package imports nothing internal; every other package builds on it.
//
// Key constraints:
//   - Field values are scalars only (String, Int, Bool, Time). Floats,
//     arrays and objects are rejected by the codec with a DecodeError.
//   - Records are immutable once fetched. Handlers receive clones.
//   - Field maps serialise with sorted, NFC-normalised keys so that stored
//     rows and snapshots are byte-stable. Values are never rewritten.
package record
