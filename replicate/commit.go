package replicate

import (
	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/urn"
)

// refName is the local storage layout for replicated content, per
// spec.md §6's "refs/namespaces/<urn>/refs/remotes/<peer>/..." layout,
// flattened the way tracking.refName flattens "refs/rad/remotes/..." to
// "rad/remotes/...": one RefStore namespace, no "refs/" segments.
func refName(u urn.URN, peer, ref string) string {
	return "namespaces/" + string(u) + "/remotes/" + peer + "/" + ref
}

// planned is one ref update this Commit will attempt.
type planned struct {
	name string
	old  objstore.ID
	new  objstore.ID
}

// commit runs the Commit phase of spec.md §4.6: for every accepted peer,
// point its rad/id and rad/signed_refs pointers at the latest verified
// values, then apply each permitted data/cob ref update subject to the
// non-fast-forward rule. A non-fast-forward ref from a delegate aborts
// the entire commit (no ref update anywhere in the batch is applied); a
// non-fast-forward ref from a non-delegate drops every update for that
// peer, pointers included (the offending refs are listed in Dropped),
// while every other peer's updates still proceed.
//
// All planned ref writes across all peers are applied as one batch: if
// any individual compare-and-swap loses a race to a concurrent writer,
// already-applied writes in this batch are rolled back with a
// compensating compare-and-swap, so the batch is atomic from an external
// observer's point of view, per spec.md §4.6's atomic-commit requirement.
func (e *Engine) commit(u urn.URN, peeks map[string]PeerAd, accepted []validated, permitted map[string]map[string]objstore.ID, outcomes map[string]*PeerOutcome) error {
	var plan []planned

	for _, v := range accepted {
		out := outcomes[v.peer]
		out.RefUpdates = make(map[string]objstore.ID)
		var peerPlan []planned

		if ad, ok := peeks[v.peer]; ok {
			if ad.IdentityTip.Defined() {
				peerPlan = append(peerPlan, e.pointerUpdate(refName(u, v.peer, "rad/id"), ad.IdentityTip))
			}
			manifestID, err := e.Local.Put(ad.RefsManifest)
			if err != nil {
				return errtax.Wrap(errtax.Storage, "REPLICATE-COMMIT-MANIFEST", "failed to store signed-refs manifest", err)
			}
			peerPlan = append(peerPlan, e.pointerUpdate(refName(u, v.peer, "rad/signed_refs"), manifestID))

			// Persist the trailer alongside the manifest bytes so this
			// node can re-serve ad verbatim if another peer later peeks
			// it from here (a relay hop), not just validate it once on
			// the way in.
			if ad.RefsTrailer != "" {
				trailerID, err := e.Local.Put([]byte(ad.RefsTrailer))
				if err != nil {
					return errtax.Wrap(errtax.Storage, "REPLICATE-COMMIT-TRAILER", "failed to store signed-refs trailer", err)
				}
				peerPlan = append(peerPlan, e.pointerUpdate(refName(u, v.peer, "rad/signed_refs.sig"), trailerID))
			}
		}

		for ref, newID := range permitted[v.peer] {
			name := refName(u, v.peer, ref)
			oldID, _, err := e.LocalRefs.Get(name)
			if err != nil {
				return errtax.Wrap(errtax.Storage, "REPLICATE-COMMIT-REF-GET", "failed to read local ref", err)
			}
			if oldID == newID {
				continue
			}

			ff, err := isFastForward(e.Local, e.ParentsOf, oldID, newID)
			if err != nil {
				return err
			}
			if !ff {
				if v.delegate {
					return errtax.New(errtax.NonFastForward, "REPLICATE-DELEGATE-NFF",
						"delegate "+v.peer+" advertised a non-fast-forward update for "+ref)
				}
				out.Dropped = append(out.Dropped, ref)
				continue
			}

			out.RefUpdates[ref] = newID
			peerPlan = append(peerPlan, planned{name: name, old: oldID, new: newID})
		}
		if len(out.Dropped) > 0 {
			out.RefUpdates = map[string]objstore.ID{}
			continue
		}
		plan = append(plan, peerPlan...)
	}

	return e.applyPlan(plan)
}

func (e *Engine) pointerUpdate(name string, newID objstore.ID) planned {
	oldID, _, _ := e.LocalRefs.Get(name)
	return planned{name: name, old: oldID, new: newID}
}

// repointTo reads name's current value and compare-and-swaps it to
// newID in one step, for callers (push.go's Receive) that apply a
// single pointer update outside of a larger batch plan.
func (e *Engine) repointTo(name string, newID objstore.ID) error {
	oldID, _, err := e.LocalRefs.Get(name)
	if err != nil {
		return errtax.Wrap(errtax.Storage, "REPLICATE-REPOINT-GET", "failed to read ref before repointing", err)
	}
	if oldID == newID {
		return nil
	}
	if err := e.LocalRefs.CompareAndSwap(name, oldID, newID); err != nil {
		return errtax.Wrap(errtax.Storage, "REPLICATE-REPOINT-CAS", "ref changed concurrently while repointing", err)
	}
	return nil
}

// applyPlan applies every update in plan via compare-and-swap, rolling
// back already-applied updates if a later one loses its race.
func (e *Engine) applyPlan(plan []planned) error {
	applied := make([]planned, 0, len(plan))
	for _, p := range plan {
		if err := e.LocalRefs.CompareAndSwap(p.name, p.old, p.new); err != nil {
			e.rollback(applied)
			return errtax.Wrap(errtax.Storage, "REPLICATE-COMMIT-RACE", "ref changed concurrently during commit, batch rolled back", err)
		}
		applied = append(applied, p)
	}
	return nil
}

func (e *Engine) rollback(applied []planned) {
	for i := len(applied) - 1; i >= 0; i-- {
		p := applied[i]
		_ = e.LocalRefs.CompareAndSwap(p.name, p.new, p.old)
	}
}
