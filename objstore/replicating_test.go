package objstore_test

import (
	"testing"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/testkit"
)

func TestReplicatingStore_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) objstore.Store {
		return objstore.ReplicatingStore{Backends: []objstore.NamedStore{
			{Name: "primary", Store: newFsStore(t)},
			{Name: "mirror", Store: newFsStore(t)},
		}}
	})
}

func TestReplicatingStore_PutWritesAllBackends(t *testing.T) {
	primary, mirror := newFsStore(t), newFsStore(t)
	r := objstore.ReplicatingStore{Backends: []objstore.NamedStore{
		{Name: "primary", Store: primary},
		{Name: "mirror", Store: mirror},
	}}

	id, byBackend, err := r.PutAll([]byte("mirrored"))
	if err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	if !primary.Has(id) || !mirror.Has(id) {
		t.Fatal("expected both backends to hold the written object")
	}
	if byBackend["primary"] != id || byBackend["mirror"] != id {
		t.Fatalf("PutAll per-backend ids = %v, want both %v", byBackend, id)
	}
}

func TestReplicatingStore_NoBackendsErrors(t *testing.T) {
	r := objstore.ReplicatingStore{}
	if _, _, err := r.PutAll([]byte("x")); err == nil {
		t.Fatal("expected error putting with no backends configured")
	}
}

func TestReplicatingStore_NilBackendStoreErrors(t *testing.T) {
	r := objstore.ReplicatingStore{Backends: []objstore.NamedStore{{Name: "broken", Store: nil}}}
	if _, _, err := r.PutAll([]byte("x")); err == nil {
		t.Fatal("expected error putting through a nil backend store")
	}
}
