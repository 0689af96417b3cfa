// Package remote defines the contract of the shared, eventually-consistent
// record store the sync engine talks to.
//
// Every method is a blocking call that honours ctx; the engine runs them on
// its single-concurrency pipeline. Failures are classified: a
// *TransportError carries an optional retry-after hint, ErrNotFound marks a
// missing record. Concrete stores live in sub-packages (memory, s3store).
package remote
