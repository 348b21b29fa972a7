package sigkit

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("revision||parent")
	sig := Sign(priv, msg)
	if !Verify(pub, msg, sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(pub, []byte("tampered"), sig) {
		t.Fatal("expected signature over different message to fail")
	}
}

func TestTrailer_RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("attestation bytes")
	value, err := SignTrailer(priv, msg)
	if err != nil {
		t.Fatal(err)
	}

	gotPub, ok, err := VerifyTrailer(value, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected trailer signature to verify")
	}
	if string(gotPub) != string(pub) {
		t.Fatal("decoded public key does not match signer")
	}
}

func TestDecodeTrailerValue_RejectsBadLength(t *testing.T) {
	_, _, err := DecodeTrailerValue("zshort")
	if err == nil {
		t.Fatal("expected error for undersized trailer value")
	}
}

func TestParseTrailers(t *testing.T) {
	msg := "Update refs\n\nbody text here\n\n" +
		TrailerSignature + ": zabc123\n" +
		TrailerAuthorParent + ": bafy456\n"

	trailers := ParseTrailers(msg)
	if len(trailers) != 2 {
		t.Fatalf("expected 2 trailers, got %d: %+v", len(trailers), trailers)
	}
	if v, ok := Get(trailers, TrailerSignature); !ok || v != "zabc123" {
		t.Fatalf("unexpected signature trailer: %q ok=%v", v, ok)
	}
	if v, ok := Get(trailers, TrailerAuthorParent); !ok || v != "bafy456" {
		t.Fatalf("unexpected author-parent trailer: %q ok=%v", v, ok)
	}
}

func TestParseTrailers_NoBlankLineSeparator(t *testing.T) {
	msg := "Update refs\n" + TrailerSignature + ": zabc123\n"
	if trailers := ParseTrailers(msg); trailers != nil {
		t.Fatalf("expected nil trailers without a blank-line separator, got %+v", trailers)
	}
}

func TestParseTrailers_MultipleValuesSameKey(t *testing.T) {
	msg := "msg\n\n" +
		TrailerSignature + ": first\n" +
		TrailerSignature + ": second\n"
	trailers := ParseTrailers(msg)
	got := GetAll(trailers, TrailerSignature)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected values: %+v", got)
	}
}

func TestDilithium3_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateDilithium3Keypair(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("pq test message")
	sig, err := SignDilithium3(priv, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyDilithium3(pub, msg, sig) {
		t.Fatal("expected dilithium3 signature to verify")
	}
}
