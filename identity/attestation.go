package identity

import (
	"bytes"
	"sort"

	"github.com/octofork/radlink/canon"
	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/sigkit"
)

// Sig is one signature over an attestation, naming the delegation key it
// claims to be made by.
type Sig struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// Attestation is a commit-like record binding a document revision into
// its chain: (root, revision, parent attestation ids, signatures).
type Attestation struct {
	Root      objstore.ID `json:"root"`
	Revision  objstore.ID `json:"revision"`
	Parents   []objstore.ID `json:"parents,omitempty"`
	Signatures []Sig      `json:"signatures"`
}

// CanonicalizeAttestation parses and validates the structural shape of
// an attestation, returning it and its content address.
func CanonicalizeAttestation(data []byte) (Attestation, objstore.ID, error) {
	att, canonBytes, err := canon.Canonicalize[Attestation](data)
	if err != nil {
		return Attestation{}, objstore.ID{}, err
	}
	if !att.Root.Defined() || !att.Revision.Defined() {
		return Attestation{}, objstore.ID{}, errtax.New(errtax.Malformed, "IDENTITY-ATT-MISSING-IDS", "attestation missing root or revision")
	}
	id, err := objstore.ComputeID(canonBytes)
	if err != nil {
		return Attestation{}, objstore.ID{}, err
	}
	return att, id, nil
}

// EncodeAttestation renders att as canonical bytes and returns its content address.
func EncodeAttestation(att Attestation) ([]byte, objstore.ID, error) {
	b, err := canon.Marshal(att)
	if err != nil {
		return nil, objstore.ID{}, err
	}
	id, err := objstore.ComputeID(b)
	if err != nil {
		return nil, objstore.ID{}, err
	}
	return b, id, nil
}

// signedScope renders the bytes that signatures over att are computed
// from: revision || parent_1 || parent_2 || … in ancestor (declared)
// order.
func signedScope(att Attestation) []byte {
	var buf bytes.Buffer
	buf.Write(att.Revision.Bytes())
	for _, p := range att.Parents {
		buf.Write(p.Bytes())
	}
	return buf.Bytes()
}

// SignAttestation signs att's signed scope with sign and returns the
// resulting Sig for publicKey; it does not modify att.Signatures.
func SignAttestation(att Attestation, publicKey string, sign func(message []byte) []byte) Sig {
	sig := sign(signedScope(att))
	return Sig{PublicKey: publicKey, Signature: encodeSig(publicKey, sig)}
}

func encodeSig(publicKeyMultibase string, sig []byte) string {
	// The signature alone is multibase-encoded; the accompanying public
	// key travels as Sig.PublicKey rather than being concatenated into
	// the value, since an attestation lists signatures against a known
	// delegation set rather than a bare trailer line.
	s, err := sigEncode(sig)
	if err != nil {
		panic(err)
	}
	return s
}

// validSignerKeys returns the set of delegation public keys under which
// att carries a valid signature, ignoring signatures that don't match
// any delegation key (they are not fatal, per spec).
func validSignerKeys(att Attestation, delegationKeys map[string]bool) map[string]bool {
	scope := signedScope(att)
	valid := make(map[string]bool)
	for _, s := range att.Signatures {
		if !delegationKeys[s.PublicKey] {
			continue
		}
		pub, err := keyFromMultibase(s.PublicKey)
		if err != nil {
			continue
		}
		sigBytes, err := sigDecode(s.Signature)
		if err != nil {
			continue
		}
		if sigkit.Verify(pub, scope, sigBytes) {
			valid[s.PublicKey] = true
		}
	}
	return valid
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
