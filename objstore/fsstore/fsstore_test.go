package fsstore

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/testkit"
)

func TestStoreConformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) objstore.Store {
		dir := t.TempDir()
		s, err := New(dir)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		return s
	})
}

func TestStore_RejectsForeignCIDScheme(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sum, err := multihash.Sum([]byte("x"), multihash.SHA2_256, -1)
	if err != nil {
		t.Fatal(err)
	}
	dagCBOR := cid.NewCidV1(cid.DagCBOR, sum)

	if _, err := s.Get(dagCBOR); err != objstore.ErrInvalidID {
		t.Fatalf("Get(dag-cbor id) = %v, want ErrInvalidID", err)
	}
	if s.Has(dagCBOR) {
		t.Fatal("Has(dag-cbor id) = true, want false")
	}
}

func TestRefsConformance(t *testing.T) {
	var store *Store
	testkit.RunRefStoreConformance(t,
		func(t *testing.T) objstore.RefStore {
			dir := t.TempDir()
			var err error
			store, err = New(dir + "/objects")
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			refs, err := NewRefs(dir + "/refs")
			if err != nil {
				t.Fatalf("NewRefs failed: %v", err)
			}
			return refs
		},
		func(b []byte) objstore.ID {
			id, err := store.Put(b)
			if err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			return id
		},
	)
}
