package urn

import (
	"testing"

	"github.com/octofork/radlink/objstore"
)

func TestFromRootID_RoundTrip(t *testing.T) {
	id, err := objstore.ComputeID([]byte("initial identity document"))
	if err != nil {
		t.Fatal(err)
	}

	u, err := FromRootID(id)
	if err != nil {
		t.Fatal(err)
	}
	if !u.Valid() {
		t.Fatalf("expected valid urn, got %q", u)
	}

	got, err := u.RootID()
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != id.String() {
		t.Fatalf("root id mismatch: %s vs %s", got, id)
	}
}

func TestRootID_RejectsMissingScheme(t *testing.T) {
	u := URN("not-a-urn")
	if _, err := u.RootID(); err == nil {
		t.Fatal("expected error for urn without rad: scheme")
	}
}
