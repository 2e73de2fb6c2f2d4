// Package store provides the durable key/value medium behind the questionnaire.
//
// The medium is deliberately dumb: string keys to string values, with an
// availability probe at startup and quota-exhaustion detection on writes.
// Callers own the shape of what they persist; the store only guarantees
// round-tripping and silent-absent semantics on reads. Failures never
// surface as error values, only as absent reads and false writes.
package store

// KV defines the durable key/value contract consumed by the form state
// manager and the submission coordinator.
//
// All operations are failure-tolerant by contract: Load returns absent on
// any problem, Save reports success as a boolean, Remove is best-effort.
// Nothing in this interface ever surfaces an error to the UI path.
type KV interface {
	// Probe attempts a trivial write/delete cycle once at startup and
	// records the result. All later operations consult the recorded flag
	// and short-circuit without touching the medium when it failed.
	Probe() bool

	// Available reports the current availability flag.
	Available() bool

	// Load returns the stored value for key, or absent on missing key,
	// medium unavailability, or read error.
	Load(key string) (string, bool)

	// Save stores value under key. Returns false on quota exhaustion or
	// any other medium error. Quota exhaustion flips the availability
	// flag off for the remainder of the session.
	Save(key, value string) bool

	// Remove deletes key. Errors are swallowed.
	Remove(key string)
}

const probeKey = "intake:probe"
