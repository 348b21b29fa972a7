package replicate

import (
	"context"
	"strings"

	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
)

// cobTypeOf extracts the collaborative-object type name from a ref
// path of the form ".../cobs/<type>/<rest>", per spec.md §6's ref
// layout. Refs outside the cobs/ namespace are plain data refs, gated
// by Config.Data rather than Config.Cobs.
func cobTypeOf(ref string) (string, bool) {
	const marker = "cobs/"
	idx := strings.Index(ref, marker)
	if idx < 0 {
		return "", false
	}
	rest := ref[idx+len(marker):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "", false
	}
	return rest[:slash], true
}

// filterRefs narrows v's advertised refs to the ones v.config permits
// replicating, per spec.md §4.5/§6: plain refs are gated by Config.Data,
// collaborative-object refs by Config.Cobs. Delegate peers are exempt
// from this filtering entirely (spec.md §3's tracking-entry invariant;
// see tracking.Config.Allows's doc comment) since their updates are
// already trust-anchored by the identity document itself.
func filterRefs(v validated) map[string]objstore.ID {
	if v.delegate {
		out := make(map[string]objstore.ID, len(v.refIDs))
		for ref, id := range v.refIDs {
			out[ref] = id
		}
		return out
	}
	out := make(map[string]objstore.ID)
	for ref, id := range v.refIDs {
		if typeName, ok := cobTypeOf(ref); ok {
			if v.config.Allows(typeName, id) {
				out[ref] = id
			}
			continue
		}
		if v.config.Data {
			out[ref] = id
		}
	}
	return out
}

// neededObjects returns, for each accepted peer, the subset of its
// permitted refs pointing at objects not already present locally.
func neededObjects(local objstore.Store, accepted []validated) (map[string]map[string]objstore.ID, []objstore.ID) {
	permitted := make(map[string]map[string]objstore.ID, len(accepted))
	seen := make(map[string]bool)
	var ids []objstore.ID

	for _, v := range accepted {
		refs := filterRefs(v)
		permitted[v.peer] = refs
		for _, id := range refs {
			key := id.String()
			if seen[key] || local.Has(id) {
				continue
			}
			seen[key] = true
			ids = append(ids, id)
		}
	}
	return permitted, ids
}

// fetch runs the Fetch phase of spec.md §4.6: retrieve every needed
// object from the remote in one batch, reject the whole transfer if any
// needed object is missing (NotFound) or if it would exceed e.MaxBytes,
// then store each object locally, verifying
// its content address as it lands (objstore.Store.Put recomputes the id
// from bytes, so a mismatching remote cannot poison the local store).
func (e *Engine) fetch(ctx context.Context, transport Transport, target Target, needed []objstore.ID) (int, error) {
	if len(needed) == 0 {
		return 0, nil
	}
	ctx, cancel := e.Timeouts.withDeadline(ctx, e.Timeouts.Fetch)
	defer cancel()

	blobs, err := transport.Fetch(ctx, target, needed)
	if err = phaseErr(ctx, err); err != nil {
		return 0, errtax.Wrap(errtax.Transport, "REPLICATE-FETCH", "fetch request failed", err)
	}
	for _, id := range needed {
		if _, ok := blobs[id]; !ok {
			return 0, errtax.New(errtax.NotFound, "REPLICATE-FETCH-MISSING", "remote did not return requested object "+id.String())
		}
	}

	if e.MaxBytes > 0 {
		var total int64
		for _, b := range blobs {
			total += int64(len(b))
		}
		if total > e.MaxBytes {
			return 0, errtax.New(errtax.TransferTooLarge, "REPLICATE-TOO-LARGE", "fetch exceeds configured byte cap")
		}
	}

	count := 0
	for id, b := range blobs {
		got, err := e.Local.Put(b)
		if err != nil {
			return count, errtax.Wrap(errtax.Storage, "REPLICATE-FETCH-PUT", "failed to store fetched object", err)
		}
		if got != id {
			return count, errtax.New(errtax.Malformed, "REPLICATE-FETCH-ID-MISMATCH", "fetched object id does not match its content address")
		}
		count++
	}
	return count, nil
}
