package wire

import (
	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/urn"
)

// SelfIdentityLookup implements IdentityLookup by reading the serving
// node's own rad/id pointer for a urn, under the same
// "namespaces/<urn>/remotes/<peer>/..." layout PeekServer reads from.
// SelfPeer is the multibase peer id this node publishes its own
// identity chain under.
type SelfIdentityLookup struct {
	Refs     objstore.RefStore
	SelfPeer string
}

func (l SelfIdentityLookup) ProjectIdentityTip(u urn.URN) (objstore.ID, error) {
	id, ok, err := l.Refs.Get(refName(u, l.SelfPeer, "rad/id"))
	if err != nil {
		return objstore.ID{}, errtax.Wrap(errtax.Storage, "WIRE-SELF-IDENTITY", "failed to read local identity tip", err)
	}
	if !ok {
		return objstore.ID{}, errtax.New(errtax.NotFound, "WIRE-SELF-IDENTITY-MISSING", "no local identity tip for urn")
	}
	return id, nil
}
