package identity

import (
	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
)

// ResolveTip applies the sibling tie-break rule: given two independently
// verified tips for the same URN, the descendant of an ancestor-descendant
// pair wins; otherwise both are rejected as Forked.
//
// isAncestor(candidate, of) must report whether candidate's attestation
// chain contains of as an ancestor (including of itself); callers
// typically implement it by walking Attestation.Parents via the same
// Loader the Verifier was constructed with.
func ResolveTip(a, b objstore.ID, isAncestor func(candidate, of objstore.ID) (bool, error)) (objstore.ID, error) {
	if a.String() == b.String() {
		return a, nil
	}
	bDescendsA, err := isAncestor(b, a)
	if err != nil {
		return objstore.ID{}, err
	}
	if bDescendsA {
		return b, nil
	}
	aDescendsB, err := isAncestor(a, b)
	if err != nil {
		return objstore.ID{}, err
	}
	if aDescendsB {
		return a, nil
	}
	return objstore.ID{}, errtax.New(errtax.Forked, "IDENTITY-SIBLING-FORK", "sibling verified tips neither is an ancestor of the other")
}

// IsAncestor walks the attestation chain rooted at candidate looking for
// of, following Attestation.Parents, using loader to fetch attestation
// bytes. It bounds the walk with a visited set to tolerate (but not
// trust) cyclic input.
func IsAncestor(loader Loader, candidate, of objstore.ID) (bool, error) {
	visited := make(map[string]bool)
	queue := []objstore.ID{candidate}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		key := cur.String()
		if visited[key] {
			continue
		}
		visited[key] = true
		if key == of.String() {
			return true, nil
		}
		b, err := loader.Get(cur)
		if err != nil {
			return false, errtax.Wrap(errtax.Malformed, "IDENTITY-ANCESTOR-LOAD", "failed to load attestation", err)
		}
		att, _, err := CanonicalizeAttestation(b)
		if err != nil {
			return false, err
		}
		queue = append(queue, att.Parents...)
	}
	return false, nil
}
