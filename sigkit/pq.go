package sigkit

import (
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Scheme identifies a signature algorithm. The wire protocol is
// Ed25519-only (spec.md §4.2); Dilithium3 is carried as an optional,
// locally-selectable scheme for identity documents that opt into
// post-quantum delegation keys ahead of a protocol-wide migration,
// mirroring how the teacher's CATF CRYPTO section already allows either
// "ed25519" or "dilithium3" as Signature-Alg.
type Scheme string

const (
	SchemeEd25519    Scheme = "ed25519"
	SchemeDilithium3 Scheme = "dilithium3"
)

// GenerateDilithium3Keypair returns a new Dilithium3 keypair, grounded
// on the teacher's keys.GenerateDilithium3Keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}

// SignDilithium3 signs sha256(message) with a Dilithium3 private key.
func SignDilithium3(privateKey *mode3.PrivateKey, message []byte) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("sigkit: missing dilithium3 private key")
	}
	digest := sha256Sum(message)
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(privateKey, digest, sig)
	return sig, nil
}

// VerifyDilithium3 reports whether signature is a valid Dilithium3
// signature by publicKey over sha256(message).
func VerifyDilithium3(publicKey *mode3.PublicKey, message, signature []byte) bool {
	if publicKey == nil {
		return false
	}
	digest := sha256Sum(message)
	return mode3.Verify(publicKey, digest, signature)
}
