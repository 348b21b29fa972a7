// Package objstore defines the content-addressed object store abstraction
// that every replication operation reads from and writes into.
package objstore

import "github.com/ipfs/go-cid"

// ID is an opaque content address. It is always a CIDv1 built from the
// "raw" multicodec over a sha2-256 multihash of the object's canonical bytes.
type ID = cid.Cid

// Store is the minimal content-addressable storage interface every
// object-store backend (filesystem, IPFS-backed, remote gRPC) implements.
//
// Contract:
//   - Put MUST be idempotent: putting the same bytes twice returns the same ID
//     and does not error.
//   - Stored objects MUST be immutable once written.
//   - IDs MUST be derived from the bytes written; callers are responsible for
//     supplying canonical bytes (see package canon).
//   - Get MUST return ErrNotFound when the ID is absent.
type Store interface {
	Put(bytes []byte) (ID, error)
	Get(id ID) ([]byte, error)
	Has(id ID) bool
}
