// Package wire is the network-facing half of replication: PeekService
// and PushService, hand-rolled gRPC services in the same
// no-protoc-step style as transport/objrpc (a literal grpc.ServiceDesc
// plus wrapperspb request/response types), carrying canon.CBOR-encoded
// payloads inside the wrapper's bytes field instead of git pkt-lines.
// FetchService is transport/objrpc itself (see that package's doc
// comment); wire.Client composes all three into a replicate.Transport.
package wire

import (
	"strings"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/urn"
)

// refPrefix returns the RefStore prefix under which a urn's replicated
// peer data lives, per replicate.refName's "namespaces/<urn>/remotes/"
// layout (spec.md §6's refs/namespaces/<urn>/refs/remotes/<peer>/...,
// flattened the same way replicate and tracking flatten their own ref
// namespaces).
func refPrefix(u urn.URN) string {
	return "namespaces/" + string(u) + "/remotes/"
}

// splitPeerLeaf splits a ref name under refPrefix(u) into its peer id
// and the leaf path following it.
func splitPeerLeaf(prefix, name string) (peer, leaf string, ok bool) {
	if !strings.HasPrefix(name, prefix) {
		return "", "", false
	}
	rest := name[len(prefix):]
	idx := strings.Index(rest, "/")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// refName mirrors replicate.refName for the leaves wire itself
// reads and writes (rad/id, rad/signed_refs, rad/signed_refs.sig).
func refName(u urn.URN, peer, leaf string) string {
	return refPrefix(u) + peer + "/" + leaf
}

// idOrZero renders id as a multibase string, or "" for a zero id (the
// "no identity update advertised" sentinel PeerAd documents).
func idOrZero(id objstore.ID) string {
	if !id.Defined() {
		return ""
	}
	return id.String()
}

func parseIDOrZero(s string) (objstore.ID, error) {
	if s == "" {
		return objstore.ID{}, nil
	}
	return objstore.ParseID(s)
}
