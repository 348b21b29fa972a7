package objstore

import "fmt"

// NamedStore associates a Store with a stable backend name.
//
// Used for multi-backend orchestration where callers need to retain
// per-backend metadata, e.g. for reporting which mirrors accepted a write
// during the commit phase of replication.
type NamedStore struct {
	Name  string
	Store Store
}

// ReplicatingStore writes to all configured backends.
//
// Reads fall back in order. Writes go to all backends and require all
// returned ids to match the canonical id computed from bytes (otherwise
// ErrIDMismatch is returned). This is used when a peer wants every object
// the replication engine commits (replicate.Engine.fetch's Put calls) to
// land in more than one backend at write time, e.g. a local fsstore
// alongside an ipfsstore mirror kept in lockstep rather than populated
// lazily like MultiStore's fallback-only backends.
type ReplicatingStore struct {
	Backends []NamedStore
}

var _ Store = (*ReplicatingStore)(nil)

// PutAll writes the same bytes to all backends.
//
// It returns the canonical id (computed from bytes) and a map of backend
// name to returned id. If any backend returns a different id, ErrIDMismatch
// is returned.
func (r ReplicatingStore) PutAll(bytes []byte) (ID, map[string]ID, error) {
	want, err := ComputeID(bytes)
	if err != nil {
		return ID{}, nil, err
	}
	if !want.Defined() {
		return ID{}, nil, ErrInvalidID
	}
	if len(r.Backends) == 0 {
		return ID{}, nil, fmt.Errorf("objstore: ReplicatingStore has no backends")
	}

	out := make(map[string]ID, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store == nil {
			return ID{}, nil, fmt.Errorf("objstore: nil store for backend %q", b.Name)
		}
		got, err := b.Store.Put(bytes)
		if err != nil {
			return ID{}, nil, err
		}
		out[b.Name] = got
		if got != want {
			return ID{}, out, ErrIDMismatch
		}
	}
	return want, out, nil
}

func (r ReplicatingStore) Put(bytes []byte) (ID, error) {
	id, _, err := r.PutAll(bytes)
	return id, err
}

func (r ReplicatingStore) Get(id ID) ([]byte, error) {
	for _, b := range r.Backends {
		if b.Store == nil || !b.Store.Has(id) {
			continue
		}
		out, err := b.Store.Get(id)
		if err == nil {
			return out, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (r ReplicatingStore) Has(id ID) bool {
	for _, b := range r.Backends {
		if b.Store != nil && b.Store.Has(id) {
			return true
		}
	}
	return false
}
