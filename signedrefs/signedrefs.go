// Package signedrefs implements the signed-refs manifest: a per-peer,
// per-URN record mapping ref names to object ids, authenticated by the
// owning peer's device key and cross-checked against that peer's current
// identity document.
//
// The manifest is rendered as canonical CBOR (see package canon) and
// content-addressed exactly as the teacher content-addresses CATF/CROF
// bytes. Signature verification reuses sigkit.VerifyTrailer and an
// identity.Result's delegation set, mirroring how the teacher's
// crof.VerifySignature requires canonical bytes before verifying and how
// resolver cross-checks an issuer key against a trust index.
package signedrefs

import (
	"sort"

	"github.com/octofork/radlink/canon"
	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/sigkit"
)

// Manifest is the per-peer, per-URN signed-refs record: an ordered map
// from ref name to object id, plus per-remote-peer sub-maps recording
// what this peer itself tracks from other peers (used by the
// replication engine's transitive-tracking expansion).
type Manifest struct {
	Refs    map[string]string            `cbor:"1,keyasint"`
	Remotes map[string]map[string]string `cbor:"2,keyasint"`
}

// RefIDs decodes Refs into objstore.IDs. Duplicate ref names never
// reach here: Refs is a Go map, and Decode's canon.DecodeCBOR call
// already rejects a duplicate key on the wire before a Manifest exists.
func (m Manifest) RefIDs() (map[string]objstore.ID, error) {
	out := make(map[string]objstore.ID, len(m.Refs))
	for name, s := range m.Refs {
		id, err := objstore.ParseID(s)
		if err != nil {
			return nil, errtax.Wrap(errtax.Malformed, "SIGNEDREFS-BAD-OID", "ref "+name+" has an invalid object id", err)
		}
		out[name] = id
	}
	return out, nil
}

// SortedRefNames returns the ref names in m, sorted.
func (m Manifest) SortedRefNames() []string {
	names := make([]string, 0, len(m.Refs))
	for name := range m.Refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemotePeerIDs returns the remote peer ids that m records tracked refs
// for, sorted.
func (m Manifest) RemotePeerIDs() []string {
	peers := make([]string, 0, len(m.Remotes))
	for p := range m.Remotes {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// Encode renders m as canonical CBOR and returns its content address.
func Encode(m Manifest) ([]byte, objstore.ID, error) {
	if m.Refs == nil {
		m.Refs = map[string]string{}
	}
	b, err := canon.EncodeCBOR(m)
	if err != nil {
		return nil, objstore.ID{}, err
	}
	id, err := objstore.ComputeID(b)
	if err != nil {
		return nil, objstore.ID{}, err
	}
	return b, id, nil
}

// Decode parses raw manifest bytes. A manifest whose Refs or Remotes map
// contains a duplicate ref name is rejected as Malformed by
// canon.DecodeCBOR itself (its decode mode enforces unique CBOR map
// keys) before Manifest ever exists to validate.
func Decode(data []byte) (Manifest, error) {
	m, err := canon.DecodeCBOR[Manifest](data)
	if err != nil {
		return Manifest{}, err
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks structural invariants: every ref and remote-tracked
// value parses as an object id.
func (m Manifest) Validate() error {
	if _, err := m.RefIDs(); err != nil {
		return err
	}
	for peer, refs := range m.Remotes {
		for name, s := range refs {
			if _, err := objstore.ParseID(s); err != nil {
				return errtax.Wrap(errtax.Malformed, "SIGNEDREFS-BAD-REMOTE-OID",
					"remote "+peer+" ref "+name+" has an invalid object id", err)
			}
		}
	}
	return nil
}

// Signed is a manifest together with the signature trailer asserting
// who signed it. Replication stores the manifest bytes under the owning
// peer's rad/signed_refs ref and the trailer under rad/signed_refs.sig.
type Signed struct {
	Manifest  Manifest
	Bytes     []byte
	ID        objstore.ID
	SignerKey string // multibase-encoded public key that produced Trailer
	Trailer   string // sigkit-encoded X-Rad-Signature trailer value
}

// Sign renders m to canonical bytes, signs them, and returns the
// Signed record ready to be committed under rad/signed_refs.
func Sign(m Manifest, privateKeyMultibase string, sign func(message []byte) (trailer string, err error)) (Signed, error) {
	b, id, err := Encode(m)
	if err != nil {
		return Signed{}, err
	}
	trailer, err := sign(b)
	if err != nil {
		return Signed{}, errtax.Wrap(errtax.Unsigned, "SIGNEDREFS-SIGN", "failed to sign manifest", err)
	}
	return Signed{Manifest: m, Bytes: b, ID: id, SignerKey: privateKeyMultibase, Trailer: trailer}, nil
}

// Verify decodes data as a Manifest, verifies trailer is a valid
// signature over data by a key in currentDelegations, and returns the
// decoded Manifest plus the signing key.
//
// Fails errtax.UnsignedRefs if no valid signature is found at all, and
// errtax.StaleRefs if the signature is valid but the signing key is not
// a member of currentDelegations (the peer's key was rotated out).
func Verify(data []byte, trailer string, currentDelegations map[string]bool) (Manifest, string, error) {
	m, err := Decode(data)
	if err != nil {
		return Manifest{}, "", err
	}

	pub, ok, err := sigkit.VerifyTrailer(trailer, data)
	if err != nil {
		return Manifest{}, "", errtax.Wrap(errtax.UnsignedRefs, "SIGNEDREFS-TRAILER", "invalid signature trailer", err)
	}
	if !ok {
		return Manifest{}, "", errtax.New(errtax.UnsignedRefs, "SIGNEDREFS-BAD-SIG", "signature does not verify over manifest bytes")
	}

	signerKey, err := multibaseOfKey(pub)
	if err != nil {
		return Manifest{}, "", err
	}
	if !currentDelegations[signerKey] {
		return Manifest{}, "", errtax.New(errtax.StaleRefs, "SIGNEDREFS-STALE-SIGNER", "signing key is not in the current delegation set")
	}
	return m, signerKey, nil
}
