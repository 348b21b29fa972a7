// Package tracking implements the per-(urn, peer) tracking-configuration
// store: CRUD with compare-and-swap existence preconditions, plus the
// batch-fusion composition algebra spec.md §4.5 requires.
//
// Grounded on the teacher's storage.CAS/casregistry CAS-with-backends
// pattern, generalized from content-addressed immutable blobs to a
// ref-pointer store: each config is put once as an immutable blob
// (objstore.Store.Put's idempotent-put contract, like
// fsstore.Store.Put's O_EXCL-then-compare-existing check), addressed by
// a mutable ref "rad/remotes/<urn>/<peer-or-default>" that
// objstore.RefStore.CompareAndSwap repoints — the same
// idempotent-put-plus-pointer-swap split the teacher uses between
// storage.CAS (immutable blobs) and a pointer ref.
package tracking

import (
	"fmt"

	"github.com/octofork/radlink/canon"
	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/urn"
)

// DefaultPeer is the sentinel standing for "any peer" for a given URN.
const DefaultPeer = "default"

// CobPolicy is the accept/reject verdict for a collaborative-object type.
type CobPolicy string

const (
	Allow CobPolicy = "allow"
	Deny  CobPolicy = "deny"
)

// CobRule is the policy for one collaborative-object type-name (or the
// "*" wildcard), per spec.md §4.5/§6.
type CobRule struct {
	Policy  CobPolicy `json:"policy"`
	Pattern []string  `json:"pattern,omitempty"` // nil/absent means "*" (all object ids)
}

// Wildcard reports whether r's pattern is the "*" wildcard (as opposed
// to an explicit object-id allowlist).
func (r CobRule) Wildcard() bool { return r.Pattern == nil }

// Config is the canonical-JSON tracking-configuration blob for one
// (urn, peer) pair, per spec.md §4.5/§6.
type Config struct {
	Data bool               `json:"data"`
	Cobs map[string]CobRule `json:"cobs,omitempty"`
}

// Allows reports whether an object of the given collaborative-object
// type-name and id should be replicated under this config. isDelegate
// callers must short-circuit this for delegate peers, which are exempt
// from filtering per spec.md §3's tracking-entry invariant; Allows
// itself only implements the cobs/"*" lookup rule.
func (c Config) Allows(typeName string, id objstore.ID) bool {
	rule, ok := c.Cobs[typeName]
	if !ok {
		rule, ok = c.Cobs["*"]
		if !ok {
			return false
		}
	}
	switch rule.Policy {
	case Allow:
		if rule.Wildcard() {
			return true
		}
		return containsID(rule.Pattern, id)
	case Deny:
		if rule.Wildcard() {
			return false
		}
		return !containsID(rule.Pattern, id)
	default:
		return false
	}
}

func containsID(pattern []string, id objstore.ID) bool {
	s := id.String()
	for _, p := range pattern {
		if p == s {
			return true
		}
	}
	return false
}

// Encode renders c as canonical JSON.
func Encode(c Config) ([]byte, error) {
	if c.Cobs == nil {
		c.Cobs = map[string]CobRule{}
	}
	return canon.Marshal(c)
}

// Decode parses canonical-JSON tracking-config bytes, validating the
// schema in spec.md §6.
func Decode(data []byte) (Config, error) {
	c, _, err := canon.Canonicalize[Config](data)
	if err != nil {
		return Config{}, err
	}
	for name, rule := range c.Cobs {
		switch rule.Policy {
		case Allow, Deny:
		default:
			return Config{}, errtax.New(errtax.Malformed, "TRACKING-BAD-POLICY",
				fmt.Sprintf("cobs[%q]: unrecognized policy %q", name, rule.Policy))
		}
	}
	return c, nil
}

// refName returns the ref-store name for (u, peer), per spec.md §6's
// "refs/rad/remotes/<urn>/<peer|default>" layout.
func refName(u urn.URN, peer string) string {
	if peer == "" {
		peer = DefaultPeer
	}
	return "rad/remotes/" + string(u) + "/" + peer
}

// Key identifies one tracking entry.
type Key struct {
	URN  urn.URN
	Peer string // peer multibase string, or "" / DefaultPeer for the default entry
}

func (k Key) normalized() Key {
	if k.Peer == "" {
		k.Peer = DefaultPeer
	}
	return k
}
