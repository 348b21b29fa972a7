package replicate

import (
	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
)

// ParentsOfFunc extracts the parent object ids of an object's bytes.
// The replication engine treats objects opaquely (it never parses
// commit/tree/blob structure) and asks the caller for parentage only
// when a non-fast-forward check needs it.
type ParentsOfFunc func(objectBytes []byte) ([]objstore.ID, error)

// isAncestor walks the object graph rooted at candidate, following
// ParentsOf, looking for of, fetching bytes from loader as it goes.
//
// Grounded directly on identity.IsAncestor's parent-chain walk,
// generalized from Attestation.Parents to a caller-supplied
// ParentsOfFunc, since the replication engine has no a-priori
// knowledge of what "parent" means for an arbitrary tracked object.
func isAncestor(loader objstore.Store, parentsOf ParentsOfFunc, candidate, of objstore.ID) (bool, error) {
	if parentsOf == nil {
		return false, nil
	}
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
			if objstore.IsNotFound(err) {
				continue // object not local: cannot walk further through it
			}
			return false, errtax.Wrap(errtax.Storage, "REPLICATE-ANCESTOR-LOAD", "failed to load object for ancestry walk", err)
		}
		parents, err := parentsOf(b)
		if err != nil {
			return false, errtax.Wrap(errtax.Malformed, "REPLICATE-ANCESTOR-PARSE", "failed to extract parent ids", err)
		}
		queue = append(queue, parents...)
	}
	return false, nil
}

// isFastForward reports whether newID's object (already fetched into
// loader) descends from oldID, per spec.md §4.6's fast-forward rule. A
// zero oldID (the ref did not exist locally) is always a fast-forward.
func isFastForward(loader objstore.Store, parentsOf ParentsOfFunc, oldID, newID objstore.ID) (bool, error) {
	if !oldID.Defined() {
		return true, nil
	}
	if oldID == newID {
		return true, nil
	}
	return isAncestor(loader, parentsOf, newID, oldID)
}
