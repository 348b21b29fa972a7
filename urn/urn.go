// Package urn derives and parses the stable, content-derived identifier
// of an identity chain: "rad:<multibase(objstore.ID)>", i.e. "rad:"
// followed by the root id's base32 CIDv1 string (which starts with "b").
//
// Grounded on the teacher's cidutil-style id-to-string rendering
// (objstore.ID.String already produces a multibase CIDv1 string); urn
// adds the "rad:" scheme prefix the spec requires on top of that.
package urn

import (
	"fmt"
	"strings"

	"github.com/octofork/radlink/objstore"
)

const scheme = "rad:"

// URN is the stable identifier of an identity chain, derived from the
// id of its initial document revision.
type URN string

// FromRootID derives the URN of the identity chain whose initial
// document revision has the given object id.
func FromRootID(root objstore.ID) (URN, error) {
	if !root.Defined() {
		return "", objstore.ErrInvalidID
	}
	return URN(scheme + root.String()), nil
}

// RootID parses u back into the object id of the chain's initial
// document revision.
func (u URN) RootID() (objstore.ID, error) {
	s := string(u)
	if !strings.HasPrefix(s, scheme) {
		return objstore.ID{}, fmt.Errorf("urn: missing %q scheme: %q", scheme, s)
	}
	return objstore.ParseID(strings.TrimPrefix(s, scheme))
}

// String returns u as a plain string.
func (u URN) String() string {
	return string(u)
}

// Valid reports whether u round-trips through RootID.
func (u URN) Valid() bool {
	_, err := u.RootID()
	return err == nil
}
