package identity

import (
	"crypto/ed25519"
	"fmt"

	"github.com/multiformats/go-multibase"

	"github.com/octofork/radlink/peerid"
)

// sigEncode/sigDecode carry a bare Ed25519 signature (not concatenated
// with a public key, unlike sigkit's trailer encoding) since an
// Attestation.Sig already names its public key in a separate field.
func sigEncode(sig []byte) (string, error) {
	return multibase.Encode(multibase.Base32, sig)
}

func sigDecode(s string) ([]byte, error) {
	_, b, err := multibase.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.SignatureSize {
		return nil, fmt.Errorf("identity: signature decodes to %d bytes, want %d", len(b), ed25519.SignatureSize)
	}
	return b, nil
}

func keyFromMultibase(s string) (ed25519.PublicKey, error) {
	id, err := peerid.Parse(s)
	if err != nil {
		return nil, err
	}
	return id.PublicKey(), nil
}
