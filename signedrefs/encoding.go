package signedrefs

import (
	"crypto/ed25519"

	"github.com/octofork/radlink/peerid"
)

// multibaseOfKey renders pub in the same multibase base32 form used
// for delegation keys throughout identity.Document, so a signer key
// recovered from a trailer can be looked up directly against a
// delegation set.
func multibaseOfKey(pub ed25519.PublicKey) (string, error) {
	id, err := peerid.FromPublicKey(pub)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
