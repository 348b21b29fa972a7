// Package fsstore implements objstore.Store on the local filesystem.
package fsstore

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/octofork/radlink/objstore"
)

// Store is a local filesystem-backed content-addressable store.
//
// Objects are stored immutably and keyed strictly by id. This implementation
// is offline and deterministic: it never uses the network and never depends
// on wall-clock time, which makes it the default backend for both the
// reference object store and test fixtures.
type Store struct {
	root string
}

// New constructs a filesystem store rooted at root. The directory will be
// created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("fsstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Put(bytes []byte) (objstore.ID, error) {
	id, err := objstore.ComputeID(bytes)
	if err != nil {
		return objstore.ID{}, err
	}
	if !id.Defined() {
		return objstore.ID{}, objstore.ErrInvalidID
	}

	path := s.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return objstore.ID{}, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := s.Get(id)
			if rerr != nil {
				return objstore.ID{}, objstore.ErrImmutable
			}
			if string(existing) != string(bytes) {
				return objstore.ID{}, objstore.ErrImmutable
			}
			return id, nil
		}
		return objstore.ID{}, err
	}
	defer f.Close()

	if _, err := f.Write(bytes); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return objstore.ID{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return objstore.ID{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return objstore.ID{}, err
	}

	return id, nil
}

// foreignScheme reports whether id was not built from the raw+sha2-256
// CIDv1 scheme objstore.ID requires. Unlike Put (which always computes
// a same-scheme id itself), Get and Has receive ids supplied by a
// remote peer over the wire — rejecting a foreign scheme up front
// avoids a filesystem lookup that ComputeID's later equality check
// would reject anyway, and keeps the rejection reason legible in logs.
func foreignScheme(id objstore.ID) bool {
	prefix := id.Prefix()
	return prefix.Codec != cid.Raw || prefix.MhType != multihash.SHA2_256
}

func (s *Store) Get(id objstore.ID) ([]byte, error) {
	if !id.Defined() || foreignScheme(id) {
		return nil, objstore.ErrInvalidID
	}
	path := s.pathFor(id)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, objstore.ErrNotFound
		}
		return nil, err
	}
	got, err := objstore.ComputeID(b)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, objstore.ErrIDMismatch
	}
	return b, nil
}

func (s *Store) Has(id objstore.ID) bool {
	if !id.Defined() || foreignScheme(id) {
		return false
	}
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

func (s *Store) pathFor(id objstore.ID) string {
	str := id.String()
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[:2], str)
}
