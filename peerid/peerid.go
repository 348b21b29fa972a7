// Package peerid wraps Ed25519 public keys as stable, displayable peer
// identities.
//
// This generalizes the teacher's keys.IssuerKeyFromPublicKey (which
// renders "ed25519:" + base64(pubkey) for the CATF Issuer-Key field) to
// the spec's multibase-encoded peer id, using
// github.com/multiformats/go-multibase's base32 form (RFC 4648 lowercase
// alphabet, multibase prefix "b", raw 32-byte key with no version byte)
// instead of a
// fixed "alg:base64" string, since the spec's peer ids travel over the
// wire and in URNs rather than inside a CATF key-value line.
package peerid

import (
	"crypto/ed25519"
	"fmt"

	"github.com/multiformats/go-multibase"

	"github.com/octofork/radlink/errtax"
)

// ID is a peer's long-term public key identity.
type ID struct {
	pub ed25519.PublicKey
}

// FromPublicKey wraps an Ed25519 public key as a peer ID.
func FromPublicKey(pub ed25519.PublicKey) (ID, error) {
	if len(pub) != ed25519.PublicKeySize {
		return ID{}, fmt.Errorf("peerid: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	cp := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(cp, pub)
	return ID{pub: cp}, nil
}

// PublicKey returns the wrapped Ed25519 public key.
func (id ID) PublicKey() ed25519.PublicKey {
	return id.pub
}

// IsZero reports whether id has no public key set.
func (id ID) IsZero() bool {
	return len(id.pub) == 0
}

// String renders id as a multibase base32 string (RFC 4648 lowercase
// alphabet, leading "b") of the raw public key. It is not z-base32 and
// carries no version byte.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	s, err := multibase.Encode(multibase.Base32, id.pub)
	if err != nil {
		// Encode only fails for unknown encodings; Base32 is always valid.
		panic(err)
	}
	return s
}

// Parse decodes a peer id previously produced by String.
func Parse(s string) (ID, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return ID{}, errtax.Wrap(errtax.Malformed, "PEERID-DECODE", "invalid peer id", err)
	}
	if len(data) != ed25519.PublicKeySize {
		return ID{}, errtax.New(errtax.Malformed, "PEERID-LENGTH",
			fmt.Sprintf("peer id decodes to %d bytes, want %d", len(data), ed25519.PublicKeySize))
	}
	return FromPublicKey(data)
}

// Equal reports whether a and b wrap the same public key.
func Equal(a, b ID) bool {
	return a.pub.Equal(b.pub)
}
