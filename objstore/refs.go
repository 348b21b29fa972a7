package objstore

import "errors"

// ErrRefMismatch is returned by RefStore.CompareAndSwap when the ref's
// current value does not match the expected old value.
var ErrRefMismatch = errors.New("objstore: ref compare-and-swap mismatch")

// RefStore is the mutable-pointer layer that sits on top of a Store.
//
// Unlike Store, which only ever appends immutable content-addressed blobs,
// RefStore lets a peer atomically repoint a named ref (e.g.
// "rad/remotes/<urn>/<peer>/heads/main") from one object id to another.
// CompareAndSwap is the only mutation primitive; it is what the replication
// engine's commit phase uses to make a multi-ref update appear atomic.
type RefStore interface {
	// Get returns the current id for name. ok is false if the ref does not
	// exist yet.
	Get(name string) (id ID, ok bool, err error)

	// CompareAndSwap sets name to newID iff its current value equals oldID.
	// A zero oldID means "ref must not currently exist". Returns
	// ErrRefMismatch if the current value differs from oldID.
	CompareAndSwap(name string, oldID, newID ID) error

	// List returns all ref names with the given prefix, sorted.
	List(prefix string) ([]string, error)
}
