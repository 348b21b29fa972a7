package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore/fsstore"
	"github.com/octofork/radlink/peerid"
	"github.com/octofork/radlink/sigkit"
)

type keypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return keypair{pub: pub, priv: priv}
}

func (k keypair) multibase(t *testing.T) string {
	t.Helper()
	id, err := peerid.FromPublicKey(k.pub)
	if err != nil {
		t.Fatal(err)
	}
	return id.String()
}

func TestVerify_InitialRevisionNoQuorum(t *testing.T) {
	dir := t.TempDir()
	store, err := fsstore.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	k1 := newKeypair(t)
	k2 := newKeypair(t)

	payload, err := ProjectPayload(map[string]any{"name": "example"})
	if err != nil {
		t.Fatal(err)
	}
	doc := Document{
		Payload: payload,
		Delegations: []Delegate{
			{PublicKey: k1.multibase(t)},
			{PublicKey: k2.multibase(t)},
		},
	}
	docBytes, docID, err := EncodeDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(docBytes); err != nil {
		t.Fatal(err)
	}

	att := Attestation{Root: docID, Revision: docID}
	rawSig := sigkit.Sign(k1.priv, signedScope(att))
	encSig, err := sigEncode(rawSig)
	if err != nil {
		t.Fatal(err)
	}
	att.Signatures = []Sig{{PublicKey: k1.multibase(t), Signature: encSig}}

	attBytes, attID, err := EncodeAttestation(att)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(attBytes); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(store)
	_, err = v.Verify(attID)
	if err == nil {
		t.Fatal("expected NoQuorum with only one of two delegations signing")
	}
}

func TestVerify_InitialRevisionVerified(t *testing.T) {
	dir := t.TempDir()
	store, err := fsstore.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	k1 := newKeypair(t)

	payload, err := ProjectPayload(map[string]any{"name": "example"})
	if err != nil {
		t.Fatal(err)
	}
	doc := Document{
		Payload:     payload,
		Delegations: []Delegate{{PublicKey: k1.multibase(t)}},
	}
	docBytes, docID, err := EncodeDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(docBytes); err != nil {
		t.Fatal(err)
	}

	att := Attestation{Root: docID, Revision: docID}
	rawSig := sigkit.Sign(k1.priv, signedScope(att))
	encSig, err := sigEncode(rawSig)
	if err != nil {
		t.Fatal(err)
	}
	att.Signatures = []Sig{{PublicKey: k1.multibase(t), Signature: encSig}}

	attBytes, attID, err := EncodeAttestation(att)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(attBytes); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(store)
	res, err := v.Verify(attID)
	if err != nil {
		t.Fatalf("expected Verified, got error: %v", err)
	}
	if res.State != Verified {
		t.Fatalf("expected Verified, got %s", res.State)
	}
}

func TestDocument_RejectsEmptyDelegations(t *testing.T) {
	payload, err := ProjectPayload(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	doc := Document{Payload: payload}
	if _, _, err := EncodeDocument(doc); err == nil {
		t.Fatal("expected error for empty delegations")
	}
}

func TestDocument_RejectsDuplicateKeys(t *testing.T) {
	k1 := newKeypair(t)
	payload, err := ProjectPayload(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	doc := Document{
		Payload: payload,
		Delegations: []Delegate{
			{PublicKey: k1.multibase(t)},
			{PublicKey: k1.multibase(t)},
		},
	}
	if _, _, err := EncodeDocument(doc); err == nil {
		t.Fatal("expected error for duplicate delegation keys")
	}
}

func TestDocument_RejectsUnrecognizedKind(t *testing.T) {
	k1 := newKeypair(t)
	doc := Document{
		Payload:     map[string]json.RawMessage{"https://example.com/not-a-kind": []byte(`{}`)},
		Delegations: []Delegate{{PublicKey: k1.multibase(t)}},
	}
	if _, _, err := EncodeDocument(doc); !errtax.Is(err, errtax.Malformed) {
		t.Fatalf("expected Malformed for unrecognized kind, got %v", err)
	}
}

func TestDocument_RejectsNonCanonicalPayloadValue(t *testing.T) {
	k1 := newKeypair(t)
	doc := Document{
		Payload:     map[string]json.RawMessage{ProjectPayloadURL: []byte(`{"b":1,"a":2}`)},
		Delegations: []Delegate{{PublicKey: k1.multibase(t)}},
	}
	if _, _, err := EncodeDocument(doc); !errtax.Is(err, errtax.Malformed) {
		t.Fatalf("expected Malformed for a payload value with unsorted members, got %v", err)
	}
}
