package replicate

import (
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/signedrefs"
	"github.com/octofork/radlink/tracking"
	"github.com/octofork/radlink/urn"
)

// validated is an accepted peer's decoded, authenticated state, carried
// from Validate into Fetch/Commit.
type validated struct {
	peer     string
	delegate bool
	depth    int // 1: explicitly tracked; 2: reached transitively through a depth-1 peer
	manifest signedrefs.Manifest
	refIDs   map[string]objstore.ID
	config   tracking.Config
}

// validate runs the Validate phase of spec.md §4.6: for each peer the
// Peek response advertised, verify its identity chain (when advertised)
// and its signed-refs manifest, decide tracking membership up to depth
// 2, and separate accepted from rejected peers.
//
// projectDelegations is the current delegation set of the urn's own
// identity document (computed by the caller via identity.Verifier), used
// to decide which accepted peers are delegates — in Commit a delegate's
// non-fast-forward update aborts the whole commit instead of being
// dropped.
func (e *Engine) validate(u urn.URN, peek PeekResult, projectDelegations map[string]bool) ([]validated, []PeerOutcome) {
	var accepted []validated
	var outcomes []PeerOutcome

	// Step 3 of spec.md §4.6's Validate: a peer survives at depth 1 if it
	// is either a delegate of the urn or explicitly tracked for it.
	// Delegates without an explicit tracking entry default to full
	// replication, since their updates are already trust-anchored by
	// the identity document itself.
	directCfg := make(map[string]tracking.Config)
	for peer := range peek.Peers {
		if cfg, ok, err := e.Tracking.Get(tracking.Key{URN: u, Peer: peer}); err == nil && ok {
			directCfg[peer] = cfg
			continue
		}
		if projectDelegations[peer] {
			directCfg[peer] = tracking.Config{Data: true}
		}
	}

	for peer := range directCfg {
		ad, ok := peek.Peers[peer]
		if !ok {
			continue
		}
		v, outcome := e.validateOne(u, peer, ad, projectDelegations, 1, directCfg[peer])
		outcomes = append(outcomes, outcome)
		if v != nil {
			accepted = append(accepted, *v)
		}
	}

	// Depth 2: peers named in an accepted depth-1 peer's own Remotes,
	// advertised directly in the same Peek response, not already
	// handled at depth 1.
	seen := make(map[string]bool)
	for _, v := range accepted {
		seen[v.peer] = true
	}
	for _, v := range accepted {
		for remotePeer := range v.manifest.Remotes {
			if seen[remotePeer] {
				continue
			}
			seen[remotePeer] = true
			ad, ok := peek.Peers[remotePeer]
			if !ok {
				continue
			}
			v2, outcome := e.validateOne(u, remotePeer, ad, projectDelegations, 2, v.config)
			outcomes = append(outcomes, outcome)
			if v2 != nil {
				accepted = append(accepted, *v2)
			}
		}
	}

	return accepted, outcomes
}

func (e *Engine) validateOne(u urn.URN, peer string, ad PeerAd, projectDelegations map[string]bool, depth int, cfg tracking.Config) (*validated, PeerOutcome) {
	outcome := PeerOutcome{Peer: peer, Delegate: projectDelegations[peer]}

	delegations := projectDelegations
	if ad.IdentityTip.Defined() {
		if err := e.checkIdentityFork(u, peer, ad.IdentityTip); err != nil {
			outcome.Reason = err.Error()
			return nil, outcome
		}
		res, err := e.Verifier.Verify(ad.IdentityTip)
		if err != nil {
			outcome.Reason = err.Error()
			return nil, outcome
		}
		delegations = toSet(res.Delegations)
	}

	manifest, signerKey, err := signedrefs.Verify(ad.RefsManifest, ad.RefsTrailer, toSet([]string{peer}))
	if err != nil {
		// peer's own signing key need not equal its identity key
		// one-for-one in every deployment, but in this substrate a
		// peer id *is* its device public key's multibase encoding
		// (see package peerid), so the signer must be the peer itself
		// or one of its identity's current delegations.
		manifest, signerKey, err = signedrefs.Verify(ad.RefsManifest, ad.RefsTrailer, delegations)
	}
	if err != nil {
		outcome.Reason = err.Error()
		return nil, outcome
	}
	_ = signerKey

	refIDs, err := manifest.RefIDs()
	if err != nil {
		outcome.Reason = err.Error()
		return nil, outcome
	}

	outcome.Accepted = true
	return &validated{
		peer:     peer,
		delegate: outcome.Delegate,
		depth:    depth,
		manifest: manifest,
		refIDs:   refIDs,
		config:   cfg,
	}, outcome
}

func toSet(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}
