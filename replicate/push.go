package replicate

import (
	"context"

	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/signedrefs"
	"github.com/octofork/radlink/urn"
)

// PushSession drives the mutual-sync (push) variant of spec.md §4.6: the
// local peer computes its ahead-set against a remote's advertised tips
// and sends its own signed-refs manifest plus the objects the remote is
// missing.
type PushSession struct {
	Engine *Engine

	// LocalPeer is the pushing peer's own multibase peer id; its
	// replicated subtree (refName(urn, LocalPeer, ref)) is what gets
	// compared against the remote's advertisement and, where ahead,
	// sent.
	LocalPeer string

	// Sign produces the trailer value for the local peer's outgoing
	// signed-refs manifest, mirroring signedrefs.Sign's callback shape.
	Sign func(message []byte) (trailer string, err error)
}

// PushReport summarizes one mutual-sync attempt.
type PushReport struct {
	Target  Target
	Pushed  map[string]bool // ref name -> accepted
	Reasons map[string]string
	Err     error
}

// Run computes the ahead-set for u under s.LocalPeer, sends it to target
// over transport, and returns the remote's per-ref verdict.
func (s *PushSession) Run(ctx context.Context, u urn.URN, target Target, transport Transport) (*PushReport, error) {
	e := s.Engine
	report := &PushReport{Target: target}

	peek, err := e.peek(ctx, transport, target)
	if err != nil {
		report.Err = err
		return report, err
	}

	remoteRefs := map[string]objstore.ID{}
	if ad, ok := peek.Peers[s.LocalPeer]; ok && len(ad.RefsManifest) > 0 {
		if m, err := signedrefs.Decode(ad.RefsManifest); err == nil {
			if ids, err := m.RefIDs(); err == nil {
				remoteRefs = ids
			}
		}
	}

	prefix := refName(u, s.LocalPeer, "")
	names, err := e.LocalRefs.List(prefix)
	if err != nil {
		report.Err = errtax.Wrap(errtax.Storage, "REPLICATE-PUSH-LIST", "failed to list local refs", err)
		return report, report.Err
	}

	ahead := make(map[string]objstore.ID)
	manifestRefs := make(map[string]string)
	for _, name := range names {
		ref := name[len(prefix):]
		localID, ok, err := e.LocalRefs.Get(name)
		if err != nil || !ok {
			continue
		}
		manifestRefs[ref] = localID.String()

		remoteID, hasRemote := remoteRefs[ref]
		if !hasRemote {
			ahead[ref] = localID
			continue
		}
		if remoteID.String() == localID.String() {
			continue
		}
		isAhead, err := isAncestor(e.Local, e.ParentsOf, localID, remoteID)
		if err != nil {
			report.Err = err
			return report, err
		}
		if isAhead {
			ahead[ref] = localID
		}
	}

	if len(ahead) == 0 {
		report.Pushed = map[string]bool{}
		return report, nil
	}

	manifest := signedrefs.Manifest{Refs: manifestRefs}
	signed, err := signedrefs.Sign(manifest, s.LocalPeer, s.Sign)
	if err != nil {
		report.Err = err
		return report, err
	}

	objects := make(map[objstore.ID][]byte, len(ahead))
	for _, id := range ahead {
		b, err := e.Local.Get(id)
		if err != nil {
			report.Err = errtax.Wrap(errtax.Storage, "REPLICATE-PUSH-LOAD", "failed to load object for push", err)
			return report, report.Err
		}
		objects[id] = b
	}

	identityTip, _, err := e.LocalRefs.Get(refName(u, s.LocalPeer, "rad/id"))
	if err != nil {
		report.Err = errtax.Wrap(errtax.Storage, "REPLICATE-PUSH-ID-GET", "failed to read cached identity tip", err)
		return report, report.Err
	}

	ctx, cancel := e.Timeouts.withDeadline(ctx, e.Timeouts.Commit)
	defer cancel()
	result, err := transport.Push(ctx, target, PushUpdate{
		IdentityTip:  identityTip,
		RefsManifest: signed.Bytes,
		RefsTrailer:  signed.Trailer,
		Objects:      objects,
	})
	if err := phaseErr(ctx, err); err != nil {
		report.Err = err
		return report, err
	}

	report.Pushed = result.Accepted
	report.Reasons = result.Reasons
	return report, nil
}

// Receive runs the receiver-role Validate/Commit logic against an
// incoming PushUpdate, per spec.md §4.6's mutual-sync constraint that
// any identity-fork detection aborts the entire request: update.IdentityTip
// is checked against the cached rad/id tip for (u, peer) via
// checkIdentityFork before anything else, and a detected fork rejects
// the whole call. A delegate pushing a non-fast-forward ref update is
// likewise rejected outright rather than force-applied, matching
// commit()'s "delegate non-fast-forward aborts the entire commit" rule
// — a non-delegate peer, in contrast, just has that one ref dropped
// while the rest of the push proceeds.
func (e *Engine) Receive(u urn.URN, peer string, update PushUpdate, delegate bool) (PushResult, error) {
	result := PushResult{Accepted: map[string]bool{}, Reasons: map[string]string{}}

	if err := e.checkIdentityFork(u, peer, update.IdentityTip); err != nil {
		return PushResult{}, err
	}

	manifest, _, err := signedrefs.Verify(update.RefsManifest, update.RefsTrailer, map[string]bool{peer: true})
	if err != nil {
		return PushResult{}, err
	}

	refIDs, err := manifest.RefIDs()
	if err != nil {
		return PushResult{}, err
	}

	for _, b := range update.Objects {
		if _, err := e.Local.Put(b); err != nil {
			return PushResult{}, errtax.Wrap(errtax.Storage, "REPLICATE-RECEIVE-PUT", "failed to store pushed object", err)
		}
	}

	for ref, newID := range refIDs {
		oldID, ok, err := e.LocalRefs.Get(refName(u, peer, ref))
		if err != nil || !ok || oldID == newID {
			continue
		}
		ff, err := isFastForward(e.Local, e.ParentsOf, oldID, newID)
		if err != nil {
			continue
		}
		if !ff && delegate {
			return PushResult{}, errtax.New(errtax.NonFastForward, "REPLICATE-PUSH-DELEGATE-NFF",
				"delegate "+peer+" pushed a non-fast-forward update for "+ref)
		}
	}

	if update.IdentityTip.Defined() {
		if err := e.repointTo(refName(u, peer, "rad/id"), update.IdentityTip); err != nil {
			return PushResult{}, err
		}
	}

	manifestID, err := e.Local.Put(update.RefsManifest)
	if err != nil {
		return PushResult{}, errtax.Wrap(errtax.Storage, "REPLICATE-RECEIVE-MANIFEST", "failed to store pushed signed-refs manifest", err)
	}
	if err := e.repointTo(refName(u, peer, "rad/signed_refs"), manifestID); err != nil {
		return PushResult{}, err
	}
	if update.RefsTrailer != "" {
		trailerID, err := e.Local.Put([]byte(update.RefsTrailer))
		if err != nil {
			return PushResult{}, errtax.Wrap(errtax.Storage, "REPLICATE-RECEIVE-TRAILER", "failed to store pushed signed-refs trailer", err)
		}
		if err := e.repointTo(refName(u, peer, "rad/signed_refs.sig"), trailerID); err != nil {
			return PushResult{}, err
		}
	}

	for ref, newID := range refIDs {
		name := refName(u, peer, ref)
		oldID, _, err := e.LocalRefs.Get(name)
		if err != nil {
			result.Reasons[ref] = err.Error()
			continue
		}
		if oldID == newID {
			result.Accepted[ref] = true
			continue
		}

		ff, err := isFastForward(e.Local, e.ParentsOf, oldID, newID)
		if err != nil {
			result.Reasons[ref] = err.Error()
			continue
		}
		if !ff {
			result.Reasons[ref] = errtax.New(errtax.NonFastForward, "REPLICATE-PUSH-NFF", "push update is not a fast-forward").Error()
			continue
		}

		if err := e.LocalRefs.CompareAndSwap(name, oldID, newID); err != nil {
			result.Reasons[ref] = err.Error()
			continue
		}
		result.Accepted[ref] = true
	}

	return result, nil
}
