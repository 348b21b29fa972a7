// Package identity implements the identity verifier: the hash-linked,
// multi-signature document chain whose acceptance rules determine which
// keys may speak for a repository.
//
// Grounded on the teacher's resolver package (resolver.Resolve's
// trust-index + quorum accumulation generalizes to delegation-quorum
// counting here) and crof.ValidateSupersession (CID-linked chain
// validation generalizes to attestation parent-ancestry checks).
package identity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/octofork/radlink/canon"
	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/peerid"
	"github.com/octofork/radlink/urn"
)

// Kind identifies the recognized document payload kinds.
type Kind string

const (
	KindPerson  Kind = "person"
	KindProject Kind = "project"
)

// payloadKindPrefixes maps a recognized document kind to the URL prefix
// a payload key must match to tag a document with that kind. The version
// suffix (a run of decimal digits after the trailing "v") is not pinned
// to "1": a document tagged ".../project/v2" is still recognized as a
// project document, which is the forward-compatible-versioning-via-URL-
// suffix property this prefix scheme exists to carry.
var payloadKindPrefixes = map[Kind]string{
	KindPerson:  "https://radicle.xyz/link/identities/person/v",
	KindProject: "https://radicle.xyz/link/identities/project/v",
}

// PersonPayloadURL and ProjectPayloadURL are the payload keys the current
// version of each recognized document kind is tagged with.
const (
	PersonPayloadURL  = "https://radicle.xyz/link/identities/person/v1"
	ProjectPayloadURL = "https://radicle.xyz/link/identities/project/v1"
)

// PersonPayload and ProjectPayload build a one-key payload map tagging
// data with the current person/project payload URL, for callers
// constructing a new Document.
func PersonPayload(data any) (map[string]json.RawMessage, error) {
	return payloadFor(PersonPayloadURL, data)
}

func ProjectPayload(data any) (map[string]json.RawMessage, error) {
	return payloadFor(ProjectPayloadURL, data)
}

func payloadFor(key string, data any) (map[string]json.RawMessage, error) {
	b, err := canon.Marshal(data)
	if err != nil {
		return nil, err
	}
	return map[string]json.RawMessage{key: json.RawMessage(b)}, nil
}

// Delegate is one member of a document's delegation set: either a direct
// public key, or a reference to a person document at a fixed revision.
//
// Exactly one of PublicKey / PersonURN must be set; PersonRevision is
// required alongside PersonURN.
type Delegate struct {
	PublicKey      string  `json:"publicKey,omitempty"`
	PersonURN      urn.URN `json:"personUrn,omitempty"`
	PersonRevision string  `json:"personRevision,omitempty"`
}

// IsPerson reports whether this delegate is a reference to a person
// document rather than a direct key.
func (d Delegate) IsPerson() bool {
	return d.PersonURN != ""
}

// Key parses the delegate's direct public key. It is only meaningful
// when !IsPerson().
func (d Delegate) Key() (peerid.ID, error) {
	return peerid.Parse(d.PublicKey)
}

// Document is an identity document: a record describing who may speak
// for a project or person, and on what revision it replaces.
//
// Payload is the schema-tagged map of URL keys to arbitrary structured
// data spec.md §3 describes; the document's kind is derived from whichever
// recognized key the map contains (see Kind), rather than stored as its
// own field, so a document can carry unrelated payload keys without the
// kind tag and the data disagreeing.
type Document struct {
	Replaces    *objstore.ID               `json:"replaces,omitempty"`
	Payload     map[string]json.RawMessage `json:"payload"`
	Delegations []Delegate                 `json:"delegations"`
}

// Kind derives the document's kind from the one recognized payload URL
// key it must contain, per spec.md §3 and §6.
func (d Document) Kind() (Kind, error) {
	var found Kind
	matches := 0
	for key := range d.Payload {
		for kind, prefix := range payloadKindPrefixes {
			suffix, ok := strings.CutPrefix(key, prefix)
			if !ok || !isDecimalDigits(suffix) {
				continue
			}
			found = kind
			matches++
		}
	}
	switch matches {
	case 1:
		return found, nil
	case 0:
		return "", errtax.New(errtax.Malformed, "IDENTITY-DOC-KIND", "payload does not contain a recognized document-kind key")
	default:
		return "", errtax.New(errtax.Malformed, "IDENTITY-DOC-KIND-AMBIGUOUS", "payload contains more than one recognized document-kind key")
	}
}

func isDecimalDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Canonicalize checks that data is a canonical-JSON encoding of a
// Document and that its invariants hold (delegation keys unique,
// delegations non-empty, recognized kind, canonical payload values),
// returning the parsed Document and its revision id (the content address
// of the canonical bytes).
//
// This mirrors catf.CanonicalizeCATF: parse, then re-derive canonical
// bytes and reject anything that doesn't round-trip, before trusting
// any field of the parsed value.
func Canonicalize(data []byte) (Document, objstore.ID, error) {
	doc, canonBytes, err := canon.Canonicalize[Document](data)
	if err != nil {
		return Document{}, objstore.ID{}, err
	}
	if err := doc.validate(); err != nil {
		return Document{}, objstore.ID{}, err
	}
	rev, err := objstore.ComputeID(canonBytes)
	if err != nil {
		return Document{}, objstore.ID{}, errtax.Wrap(errtax.Storage, "IDENTITY-DOC-ID", "failed to derive revision id", err)
	}
	return doc, rev, nil
}

// EncodeDocument renders doc as the canonical bytes that address its revision.
func EncodeDocument(doc Document) ([]byte, objstore.ID, error) {
	if err := doc.validate(); err != nil {
		return nil, objstore.ID{}, err
	}
	b, err := canon.Marshal(doc)
	if err != nil {
		return nil, objstore.ID{}, err
	}
	id, err := objstore.ComputeID(b)
	if err != nil {
		return nil, objstore.ID{}, err
	}
	return b, id, nil
}

func (d Document) validate() error {
	kind, err := d.Kind()
	if err != nil {
		return err
	}
	for key, value := range d.Payload {
		if _, err := canon.CanonicalValue(value); err != nil {
			return errtax.Wrap(errtax.Malformed, "IDENTITY-DOC-PAYLOAD-NONCANONICAL", fmt.Sprintf("payload key %q is not canonical JSON", key), err)
		}
	}
	if len(d.Delegations) == 0 {
		return errtax.New(errtax.Malformed, "IDENTITY-DOC-EMPTY-DELEGATIONS", "delegations must not be empty")
	}

	seen := make(map[string]bool, len(d.Delegations))
	for i, del := range d.Delegations {
		if del.IsPerson() {
			if del.PersonRevision == "" {
				return errtax.New(errtax.Malformed, "IDENTITY-DOC-PERSON-REF", fmt.Sprintf("delegation %d: person reference missing revision", i))
			}
			continue
		}
		if _, err := del.Key(); err != nil {
			return errtax.Wrap(errtax.Malformed, "IDENTITY-DOC-KEY", fmt.Sprintf("delegation %d: invalid public key", i), err)
		}
		if seen[del.PublicKey] {
			return errtax.New(errtax.Malformed, "IDENTITY-DOC-DUP-KEY", fmt.Sprintf("duplicate delegation key %q", del.PublicKey))
		}
		seen[del.PublicKey] = true
	}
	if kind == KindPerson {
		for _, del := range d.Delegations {
			if del.IsPerson() {
				return errtax.New(errtax.Malformed, "IDENTITY-DOC-PERSON-NESTED", "a person document's delegations must be direct keys")
			}
		}
	}
	return nil
}

// directKeys returns the direct public keys delegated by doc, sorted.
func (d Document) directKeys() []string {
	var out []string
	for _, del := range d.Delegations {
		if !del.IsPerson() {
			out = append(out, del.PublicKey)
		}
	}
	sort.Strings(out)
	return out
}
