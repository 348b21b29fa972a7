package replicate

import (
	"context"

	"github.com/octofork/radlink/objstore"
)

// PeerAd is what one remote advertises about one peer it holds
// signed-refs for: that peer's identity attestation tip (for chain
// verification) and its signed-refs manifest (for ref-set
// authentication), per spec.md §4.6's Peek step.
type PeerAd struct {
	IdentityTip  objstore.ID // zero value: no identity update advertised, verify against the caller's cached delegations
	RefsManifest []byte
	RefsTrailer  string
}

// PeekResult is the full Peek response: one PeerAd per peer id the
// remote is willing to advertise under the requested urn.
type PeekResult struct {
	Peers map[string]PeerAd
}

// PushUpdate is what PushSession sends to a remote during mutual sync:
// the local signed-refs manifest plus the raw objects the remote is
// missing, pre-computed from the remote's own Peek response.
type PushUpdate struct {
	// IdentityTip is the pushing peer's own cached identity attestation
	// tip, zero value if it has none cached yet. Mirrors PeerAd.IdentityTip
	// so the receiver can run the same fork check Validate runs against a
	// Peek advertisement.
	IdentityTip  objstore.ID
	RefsManifest []byte
	RefsTrailer  string
	Objects      map[objstore.ID][]byte
}

// PushResult is the remote's verdict on a PushUpdate, per ref.
type PushResult struct {
	Accepted map[string]bool
	Reasons  map[string]string // set for refs where Accepted[ref] == false
}

// Transport is the network-facing half of replication: everything the
// engine needs from a remote peer, independent of wire format. The
// wire package implements this over gRPC; tests implement it in
// memory.
type Transport interface {
	// Peek asks the remote what it is advertising for urn.
	Peek(ctx context.Context, t Target) (PeekResult, error)

	// Fetch retrieves the raw bytes of the requested object ids from
	// the remote. The returned map need not include every requested
	// id; the caller treats a missing id as NotFound.
	Fetch(ctx context.Context, t Target, ids []objstore.ID) (map[objstore.ID][]byte, error)

	// Push sends a PushUpdate to the remote for mutual sync and
	// returns its verdict.
	Push(ctx context.Context, t Target, update PushUpdate) (PushResult, error)
}
