package objstore

import "errors"

// MultiStore provides deterministic, ordered fallback across multiple stores.
//
// Read order is the slice order in Stores; callers MUST supply a fixed order.
// This avoids map-iteration nondeterminism and makes the fetch strategy
// explicit, which matters when one remote is a slow mirror and another is
// the local cache — casconfig's default topology (a local fsstore first,
// an ipfsstore mirror second) relies on that ordering to keep the common
// case (object already local) from ever touching the mirror.
//
// This is what replicate.Engine.Local and identity.Verifier's Loader both
// sit on top of whenever casconfig opens more than one backend: a fetched
// object's ancestor walk (replicate.isAncestor, identity.IsAncestor) calls
// Get exactly as it would against a single store, transparently gaining
// every configured backend's reach without either walker knowing a
// MultiStore is there.
//
// Put is defined to write only to the first store.
type MultiStore struct {
	Stores []Store
}

func (m MultiStore) Put(bytes []byte) (ID, error) {
	if len(m.Stores) == 0 {
		return ID{}, errors.New("objstore: MultiStore has no stores")
	}
	return m.Stores[0].Put(bytes)
}

func (m MultiStore) Get(id ID) ([]byte, error) {
	for _, s := range m.Stores {
		// Has is typically far cheaper than a failed Get for a remote
		// mirror backend (ipfsstore shells out, a grpc backend round
		// trips), so a backend that already knows it doesn't have id
		// never pays for a Get attempt that would just return NotFound.
		if !s.Has(id) {
			continue
		}
		b, err := s.Get(id)
		if err == nil {
			return b, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (m MultiStore) Has(id ID) bool {
	for _, s := range m.Stores {
		if s.Has(id) {
			return true
		}
	}
	return false
}
