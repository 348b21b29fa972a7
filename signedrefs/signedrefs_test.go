package signedrefs

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/peerid"
	"github.com/octofork/radlink/sigkit"
)

func newKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	id, err := peerid.FromPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return pub, priv, id.String()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := Manifest{Refs: map[string]string{"heads/main": objstore.ComputeIDString([]byte("commit-1"))}}
	b, id, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Refs["heads/main"] != m.Refs["heads/main"] {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if _, id2, _ := Encode(got); id2 != id {
		t.Fatalf("re-encoding decoded manifest changed its id")
	}
}

func TestVerify_AcceptsSignatureFromDelegate(t *testing.T) {
	pub, priv, key := newKey(t)
	_ = pub
	m := Manifest{Refs: map[string]string{"heads/main": objstore.ComputeIDString([]byte("x"))}}
	b, _, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	trailer, err := sigkit.SignTrailer(priv, b)
	if err != nil {
		t.Fatal(err)
	}

	got, signer, err := Verify(b, trailer, map[string]bool{key: true})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if signer != key {
		t.Fatalf("signer = %q, want %q", signer, key)
	}
	if got.Refs["heads/main"] != m.Refs["heads/main"] {
		t.Fatalf("manifest mismatch after Verify")
	}
}

func TestVerify_RejectsStaleSigner(t *testing.T) {
	_, priv, _ := newKey(t)
	m := Manifest{Refs: map[string]string{}}
	b, _, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	trailer, err := sigkit.SignTrailer(priv, b)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = Verify(b, trailer, map[string]bool{"some-other-key": true})
	if err == nil {
		t.Fatal("expected StaleRefs error for signer not in delegations")
	}
}

func TestVerify_RejectsBadTrailer(t *testing.T) {
	m := Manifest{Refs: map[string]string{}}
	b, _, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Verify(b, "not-a-trailer", map[string]bool{}); err == nil {
		t.Fatal("expected error for malformed trailer")
	}
}

func TestDecode_RejectsBadObjectID(t *testing.T) {
	m := Manifest{Refs: map[string]string{"heads/main": "not-a-cid"}}
	b, _, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(b); err == nil {
		t.Fatal("expected error decoding manifest with invalid object id")
	}
}

// TestDecode_RejectsDuplicateRefName hand-constructs a manifest whose
// Refs map is CBOR-encoded with the key "heads/main" twice, something
// Encode itself can never produce (Go maps cannot hold a duplicate
// key), to exercise the Malformed boundary a hostile or corrupted peer
// could still attempt on the wire.
func TestDecode_RejectsDuplicateRefName(t *testing.T) {
	raw := []byte{
		0xA2, // map(2): {1: ..., 2: ...}
		0x01, // key 1 (Refs)
		0xA2, // map(2): two entries under the same key
		0x6A, 0x68, 0x65, 0x61, 0x64, 0x73, 0x2F, 0x6D, 0x61, 0x69, 0x6E, // "heads/main"
		0x61, 0x78, // "x"
		0x6A, 0x68, 0x65, 0x61, 0x64, 0x73, 0x2F, 0x6D, 0x61, 0x69, 0x6E, // "heads/main" again
		0x61, 0x79, // "y"
		0x02, // key 2 (Remotes)
		0xA0, // map(0)
	}
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected Decode to reject a manifest with a duplicate ref name")
	}
}
