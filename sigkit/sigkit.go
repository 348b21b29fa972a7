// Package sigkit implements the signature engine: Ed25519 signing and
// verification, and parsing of the commit-trailer lines that carry
// signatures and author-parent links on the wire.
//
// It generalizes the teacher's digest-then-sign discipline
// (catf.Verify, keys.SignEd25519SHA256 — sign over sha256(message), base64
// encode the result) to the multibase encoding the wire format requires:
// where the teacher concatenates "alg:base64(bytes)", sigkit concatenates
// the raw public key and signature and multibase-encodes the pair as one
// value, since a trailer carries no separate alg field.
package sigkit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/multiformats/go-multibase"

	"github.com/octofork/radlink/errtax"
)

func sha256Sum(message []byte) []byte {
	sum := sha256.Sum256(message)
	return sum[:]
}

// Sign returns an Ed25519 signature over sha256(message).
//
// Mirrors the teacher's keys.SignEd25519SHA256 digest-then-sign shape;
// the difference is the return type (raw bytes here, the caller encodes
// for wire or storage) rather than a pre-encoded string.
func Sign(privateKey ed25519.PrivateKey, message []byte) []byte {
	digest := sha256.Sum256(message)
	return ed25519.Sign(privateKey, digest[:])
}

// Verify reports whether signature is a valid Ed25519 signature by
// publicKey over sha256(message).
func Verify(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	digest := sha256.Sum256(message)
	return ed25519.Verify(publicKey, digest[:], signature)
}

// EncodeTrailerValue concatenates publicKey||signature and multibase
// base32-encodes the result, producing the value half of an
// X-Rad-Signature trailer line.
func EncodeTrailerValue(publicKey ed25519.PublicKey, signature []byte) (string, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("sigkit: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	if len(signature) != ed25519.SignatureSize {
		return "", fmt.Errorf("sigkit: signature must be %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}
	buf := make([]byte, 0, len(publicKey)+len(signature))
	buf = append(buf, publicKey...)
	buf = append(buf, signature...)
	return multibase.Encode(multibase.Base32, buf)
}

// DecodeTrailerValue is the inverse of EncodeTrailerValue: it splits the
// multibase-decoded bytes back into the signing public key and signature.
func DecodeTrailerValue(value string) (publicKey ed25519.PublicKey, signature []byte, err error) {
	_, data, err := multibase.Decode(value)
	if err != nil {
		return nil, nil, errtax.Wrap(errtax.Malformed, "SIGKIT-TRAILER-DECODE", "invalid multibase signature trailer", err)
	}
	want := ed25519.PublicKeySize + ed25519.SignatureSize
	if len(data) != want {
		return nil, nil, errtax.New(errtax.Malformed, "SIGKIT-TRAILER-LENGTH",
			fmt.Sprintf("signature trailer decodes to %d bytes, want %d", len(data), want))
	}
	publicKey = ed25519.PublicKey(data[:ed25519.PublicKeySize])
	signature = data[ed25519.PublicKeySize:]
	return publicKey, signature, nil
}

// SignTrailer signs message and returns the ready-to-append trailer
// value for an X-Rad-Signature line.
func SignTrailer(privateKey ed25519.PrivateKey, message []byte) (string, error) {
	pub, ok := privateKey.Public().(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("sigkit: private key has no ed25519 public half")
	}
	sig := Sign(privateKey, message)
	return EncodeTrailerValue(pub, sig)
}

// VerifyTrailer decodes value as produced by SignTrailer/EncodeTrailerValue
// and reports whether it is a valid signature over message by the
// embedded public key, returning that key for the caller to cross-check
// against a delegation set.
func VerifyTrailer(value string, message []byte) (publicKey ed25519.PublicKey, ok bool, err error) {
	pub, sig, err := DecodeTrailerValue(value)
	if err != nil {
		return nil, false, err
	}
	return pub, Verify(pub, message, sig), nil
}
