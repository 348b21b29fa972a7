package identity

import (
	"fmt"
	"sync"

	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
)

// State is a verification state for an attestation, per spec.md §3.
type State int

const (
	Untrusted State = iota
	Signed
	Quorum
	Verified
)

func (s State) String() string {
	switch s {
	case Untrusted:
		return "Untrusted"
	case Signed:
		return "Signed"
	case Quorum:
		return "Quorum"
	case Verified:
		return "Verified"
	default:
		return "Unknown"
	}
}

// Result is the outcome of verifying a single attestation.
type Result struct {
	State      State
	Revision   objstore.ID
	Delegations []string
}

// Loader resolves the bytes behind an attestation or document id. It is
// satisfied directly by objstore.Store.
type Loader interface {
	Get(id objstore.ID) ([]byte, error)
}

// cacheEntry is the persisted outcome of verifying one attestation
// revision, grounded on the teacher's storage.CAS idempotent-put
// contract: once written, an entry for a given revision never changes.
// Every lookup still takes the Verifier's read lock.
type cacheEntry struct {
	result Result
	err    error
}

// Verifier walks identity attestation chains and caches verified
// revisions, mirroring resolver.Resolve's trust-index and quorum
// accumulation generalized to a hash-linked, multi-revision chain
// rather than a flat attestation set.
type Verifier struct {
	store Loader

	mu     sync.RWMutex
	cache  map[string]cacheEntry
	forked map[string]bool // attestation id -> permanently forked
}

// NewVerifier returns a Verifier backed by store.
func NewVerifier(store Loader) *Verifier {
	return &Verifier{
		store:  store,
		cache:  make(map[string]cacheEntry),
		forked: make(map[string]bool),
	}
}

// Verify runs the five-step unfolded walk against the attestation at
// tipAttestationID, returning *Verified or a tagged error
// (*Malformed/*Unsigned/*NoQuorum/*BrokenChain/*Forked).
func (v *Verifier) Verify(tipAttestationID objstore.ID) (Result, error) {
	return v.verify(tipAttestationID, make(map[string]bool))
}

func (v *Verifier) verify(attID objstore.ID, visiting map[string]bool) (Result, error) {
	key := attID.String()
	if v.forked[key] {
		return Result{}, errtax.New(errtax.Forked, "IDENTITY-FORKED", "revision permanently marked forked")
	}
	if visiting[key] {
		return Result{}, errtax.New(errtax.BrokenChain, "IDENTITY-CYCLE", "cyclic attestation parent chain")
	}

	v.mu.RLock()
	if e, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return e.result, e.err
	}
	v.mu.RUnlock()

	visiting[key] = true
	res, err := v.verifyUncached(attID, visiting)
	delete(visiting, key)

	v.mu.Lock()
	v.cache[key] = cacheEntry{result: res, err: err}
	v.mu.Unlock()
	return res, err
}

func (v *Verifier) verifyUncached(attID objstore.ID, visiting map[string]bool) (Result, error) {
	// Step 1: load and validate the attestation and its document.
	attBytes, err := v.store.Get(attID)
	if err != nil {
		return Result{}, errtax.Wrap(errtax.Malformed, "IDENTITY-ATT-LOAD", "failed to load attestation", err)
	}
	att, gotAttID, err := CanonicalizeAttestation(attBytes)
	if err != nil {
		return Result{}, err
	}
	if gotAttID.String() != attID.String() {
		return Result{}, errtax.New(errtax.Malformed, "IDENTITY-ATT-ID-MISMATCH", "attestation id does not match content address")
	}

	docBytes, err := v.store.Get(att.Revision)
	if err != nil {
		return Result{}, errtax.Wrap(errtax.Malformed, "IDENTITY-DOC-LOAD", "failed to load document", err)
	}
	doc, gotDocID, err := Canonicalize(docBytes)
	if err != nil {
		return Result{}, err
	}
	if gotDocID.String() != att.Revision.String() {
		return Result{}, errtax.New(errtax.Malformed, "IDENTITY-DOC-ID-MISMATCH", "document id does not match attestation revision")
	}

	// Step 2: require >=1 valid signature under a current delegation key.
	// delegationKeys is built with an explicit duplicate check across the
	// whole merged set (a document's own direct keys plus every
	// referenced person's member keys), per spec.md §3's "delegation
	// public keys are unique across the set (including keys inside
	// referenced person documents)" invariant. Document.validate already
	// rejects a duplicate among a document's own direct keys before this
	// point, so in practice this only ever fires once a person document
	// is loaded and its keys collide with another delegate's.
	delegationKeys := make(map[string]bool, len(doc.Delegations))
	addDelegationKey := func(k string) error {
		if delegationKeys[k] {
			return errtax.New(errtax.Malformed, "IDENTITY-DOC-DUP-DELEGATION-KEY", fmt.Sprintf("delegation key %q is not unique across the delegation set", k))
		}
		delegationKeys[k] = true
		return nil
	}
	for _, k := range doc.directKeys() {
		if err := addDelegationKey(k); err != nil {
			return Result{}, err
		}
	}
	// Person delegates contribute their own direct keys to the signer
	// acceptance set (though not to the vote-weight computed below,
	// which counts a person's keys collectively as one vote).
	personVoters := make(map[int][]string) // delegation index -> member keys
	for i, del := range doc.Delegations {
		if !del.IsPerson() {
			continue
		}
		keys, err := v.personMemberKeys(del)
		if err != nil {
			return Result{}, err
		}
		personVoters[i] = keys
		for _, k := range keys {
			if err := addDelegationKey(k); err != nil {
				return Result{}, err
			}
		}
	}

	signers := validSignerKeys(att, delegationKeys)
	if len(signers) == 0 {
		return Result{}, errtax.New(errtax.Unsigned, "IDENTITY-UNSIGNED", "no valid signature under a current delegation key")
	}

	// Step 3: count votes; direct keys count individually, person
	// delegates count once if any member key signed.
	votes := 0
	for _, del := range doc.Delegations {
		if !del.IsPerson() {
			if signers[del.PublicKey] {
				votes++
			}
			continue
		}
	}
	for i := range doc.Delegations {
		members, ok := personVoters[i]
		if !ok {
			continue
		}
		for _, k := range members {
			if signers[k] {
				votes++
				break
			}
		}
	}
	if votes*2 <= len(doc.Delegations) {
		return Result{}, errtax.New(errtax.NoQuorum, "IDENTITY-NOQUORUM", "signing delegations do not form a strict majority")
	}

	// Step 4/5: chain continuity and transitional quorum.
	hasParent := len(att.Parents) > 0
	hasReplaces := doc.Replaces != nil

	if !hasReplaces && !hasParent {
		return Result{State: Verified, Revision: att.Revision, Delegations: doc.directKeys()}, nil
	}
	if hasReplaces != hasParent {
		return Result{}, errtax.New(errtax.BrokenChain, "IDENTITY-BROKENCHAIN", "replaces/parent presence mismatch")
	}

	for _, parentID := range att.Parents {
		if _, err := v.verify(parentID, visiting); err != nil {
			return Result{}, err
		}
	}

	prevDocBytes, err := v.store.Get(*doc.Replaces)
	if err != nil {
		return Result{}, errtax.Wrap(errtax.Malformed, "IDENTITY-PREVDOC-LOAD", "failed to load previous document", err)
	}
	prevDoc, gotPrevID, err := Canonicalize(prevDocBytes)
	if err != nil {
		return Result{}, err
	}
	if gotPrevID.String() != doc.Replaces.String() {
		return Result{}, errtax.New(errtax.Malformed, "IDENTITY-PREVDOC-ID-MISMATCH", "previous document id mismatch")
	}

	prevKeys := make(map[string]bool, len(prevDoc.Delegations))
	for _, k := range prevDoc.directKeys() {
		prevKeys[k] = true
	}
	prevSigners := validSignerKeys(att, prevKeys)
	prevVotes := 0
	for _, del := range prevDoc.Delegations {
		if !del.IsPerson() && prevSigners[del.PublicKey] {
			prevVotes++
		}
	}
	if prevVotes*2 <= len(prevDoc.Delegations) {
		return Result{}, errtax.New(errtax.NoQuorum, "IDENTITY-TRANSITIONAL-NOQUORUM", "transitional quorum under previous delegations not met")
	}

	return Result{State: Verified, Revision: att.Revision, Delegations: doc.directKeys()}, nil
}

// personMemberKeys resolves a person-delegate reference to the set of
// signing keys that collectively make up one vote, per spec.md §4.3's
// person-delegate resolution rule.
//
// Full transitive fork propagation for the referenced person's own
// history (the spec's "if the person's history diverges after R, keys
// stop counting from the divergence point forward") is out of scope for
// this walk: we load the person document at the pinned revision
// directly rather than re-verifying the person's own chain from its
// root, since that chain is independently tracked wherever the person's
// own URN is replicated. See DESIGN.md.
func (v *Verifier) personMemberKeys(del Delegate) ([]string, error) {
	rev, err := objstore.ParseID(del.PersonRevision)
	if err != nil {
		return nil, errtax.Wrap(errtax.Malformed, "IDENTITY-PERSON-REVISION", "invalid person revision id", err)
	}
	docBytes, err := v.store.Get(rev)
	if err != nil {
		return nil, errtax.Wrap(errtax.Malformed, "IDENTITY-PERSON-LOAD", "failed to load person document", err)
	}
	personDoc, gotID, err := Canonicalize(docBytes)
	if err != nil {
		return nil, err
	}
	if gotID.String() != rev.String() {
		return nil, errtax.New(errtax.Malformed, "IDENTITY-PERSON-ID-MISMATCH", "person document id mismatch")
	}
	kind, err := personDoc.Kind()
	if err != nil {
		return nil, err
	}
	if kind != KindPerson {
		return nil, errtax.New(errtax.Malformed, "IDENTITY-PERSON-KIND", "referenced document is not a person")
	}
	return personDoc.directKeys(), nil
}

// MarkForked permanently marks revision as forked, refusing further
// updates to its chain (spec.md §4.3 "Caching" and "Ordering" rules).
func (v *Verifier) MarkForked(revision objstore.ID) {
	v.mu.Lock()
	v.forked[revision.String()] = true
	v.mu.Unlock()
}

// IsForked reports whether revision has been marked forked.
func (v *Verifier) IsForked(revision objstore.ID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.forked[revision.String()]
}
