// Package store defines the local entity store used by the projector.
//
// A Store is bound to one entity kind. Mutations are staged in a ChangeSet
// (unit of work) and become visible to FetchLatest and Count only after
// Commit. FetchByID reads through staged changes so a projector can look at
// what it is about to write.
//
// Commit is all-or-nothing: either every staged change is applied or none
// is. A failed commit discards the staged changes and returns a
// *PersistenceError.
//
// Implementations:
//   - Memory (this package): tests and dry runs
//   - sqlstore: database/sql via sqldb (SQLite or PostgreSQL)
package store
