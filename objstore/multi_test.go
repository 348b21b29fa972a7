package objstore_test

import (
	"testing"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/fsstore"
	"github.com/octofork/radlink/objstore/testkit"
)

func newFsStore(t *testing.T) *fsstore.Store {
	t.Helper()
	s, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("fsstore.New failed: %v", err)
	}
	return s
}

func TestMultiStore_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) objstore.Store {
		return objstore.MultiStore{Stores: []objstore.Store{newFsStore(t), newFsStore(t)}}
	})
}

func TestMultiStore_PutOnlyWritesFirstStore(t *testing.T) {
	first, second := newFsStore(t), newFsStore(t)
	m := objstore.MultiStore{Stores: []objstore.Store{first, second}}

	id, err := m.Put([]byte("x"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !first.Has(id) {
		t.Fatal("expected the first store to hold the written object")
	}
	if second.Has(id) {
		t.Fatal("expected the second store to remain untouched by Put")
	}
}

func TestMultiStore_GetFallsBackToLaterStore(t *testing.T) {
	first, second := newFsStore(t), newFsStore(t)
	m := objstore.MultiStore{Stores: []objstore.Store{first, second}}

	id, err := second.Put([]byte("only in second"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "only in second" {
		t.Fatalf("Get returned %q", got)
	}
}

func TestMultiStore_PutEmptyStoresErrors(t *testing.T) {
	m := objstore.MultiStore{}
	if _, err := m.Put([]byte("x")); err == nil {
		t.Fatal("expected error putting to an empty MultiStore")
	}
}
