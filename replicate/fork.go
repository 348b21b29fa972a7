package replicate

import (
	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/identity"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/urn"
)

// checkIdentityFork compares a newly advertised identity tip for (u, peer)
// against the tip this engine last committed to refName(u, peer, "rad/id"),
// per spec.md §4.3's sibling tie-break rule and §8's fork-stickiness
// invariant: if neither tip descends from the other, both are permanently
// marked forked on e.Verifier so no later Verify call for either one can
// ever succeed again, and the advertised update is rejected.
//
// A missing or identical previous tip is not a fork; an ancestor/descendant
// pair (the ordinary case of a peer simply advancing) is not a fork either.
func (e *Engine) checkIdentityFork(u urn.URN, peer string, newTip objstore.ID) error {
	if !newTip.Defined() {
		return nil
	}
	prevTip, ok, err := e.LocalRefs.Get(refName(u, peer, "rad/id"))
	if err != nil {
		return errtax.Wrap(errtax.Storage, "REPLICATE-FORK-CHECK", "failed to read cached identity tip", err)
	}
	if !ok || prevTip == newTip {
		return nil
	}

	_, err = identity.ResolveTip(prevTip, newTip, func(candidate, of objstore.ID) (bool, error) {
		return identity.IsAncestor(e.Local, candidate, of)
	})
	if err != nil {
		e.Verifier.MarkForked(prevTip)
		e.Verifier.MarkForked(newTip)
		return err
	}
	return nil
}
