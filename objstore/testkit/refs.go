package testkit

import (
	"testing"

	"github.com/octofork/radlink/objstore"
)

// NewRefStore constructs a fresh, empty RefStore instance for a test.
type NewRefStore func(t *testing.T) objstore.RefStore

func RunRefStoreConformance(t *testing.T, newRefs NewRefStore, put func([]byte) objstore.ID) {
	t.Helper()

	t.Run("CreateRequiresZeroOld", func(t *testing.T) {
		refs := newRefs(t)
		id := put([]byte("one"))

		if err := refs.CompareAndSwap("rad/heads/main", id, id); err == nil {
			t.Fatalf("expected mismatch creating over a nonzero old id")
		}
		if err := refs.CompareAndSwap("rad/heads/main", objstore.ID{}, id); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		got, ok, err := refs.Get("rad/heads/main")
		if err != nil || !ok || got != id {
			t.Fatalf("Get after create: got=%v ok=%v err=%v", got, ok, err)
		}
	})

	t.Run("CompareAndSwapRejectsStale", func(t *testing.T) {
		refs := newRefs(t)
		a := put([]byte("a"))
		b := put([]byte("b"))

		if err := refs.CompareAndSwap("rad/heads/main", objstore.ID{}, a); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if err := refs.CompareAndSwap("rad/heads/main", b, b); err == nil {
			t.Fatalf("expected stale compare-and-swap to fail")
		}
		if err := refs.CompareAndSwap("rad/heads/main", a, b); err != nil {
			t.Fatalf("fast-forward swap failed: %v", err)
		}
	})

	t.Run("ListPrefix", func(t *testing.T) {
		refs := newRefs(t)
		id := put([]byte("x"))
		if err := refs.CompareAndSwap("rad/heads/main", objstore.ID{}, id); err != nil {
			t.Fatalf("create main failed: %v", err)
		}
		if err := refs.CompareAndSwap("rad/tags/v1", objstore.ID{}, id); err != nil {
			t.Fatalf("create tag failed: %v", err)
		}
		names, err := refs.List("rad/heads/")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(names) != 1 || names[0] != "rad/heads/main" {
			t.Fatalf("List(rad/heads/) = %v", names)
		}
	})
}
