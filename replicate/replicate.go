// Package replicate implements the replication engine: the Idle → Peek →
// Validate → Fetch → Commit state machine that transfers refs and objects
// between peers, validates them against identities and signed-refs
// manifests, applies tracking policy, and atomically commits the result.
// It also implements the mutual-synchronization (push) variant.
//
// Grounded on the teacher's resolver.ResolveWithCAS/hydrateOne pattern
// (resolve a blob that is either already local or must be fetched)
// generalized from a single policy document to a whole advertised ref
// set, and on storage.MultiCAS/ReplicatingCAS's deterministic, ordered
// multi-backend handling generalized to multi-peer fetch and commit.
package replicate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/identity"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/tracking"
	"github.com/octofork/radlink/urn"
)

// State names the replication engine's position in the Idle → Peek →
// Validate → Fetch → Commit state machine of spec.md §4.6.
type State string

const (
	Idle      State = "Idle"
	Peek      State = "Peek"
	Validate  State = "Validate"
	Fetch     State = "Fetch"
	Commit    State = "Commit"
	Done      State = "Done"
	Aborted   State = "Aborted"
	Rejected  State = "Rejected"
	Failed    State = "Failed"
)

// Target names the (urn, remote peer) pair an external scheduler asks
// the engine to replicate.
type Target struct {
	URN        urn.URN
	RemotePeer string // the multibase peer id the scheduler is seeding from; "" for "ask transport for whoever is there"
	Address    string // transport-specific dial address
}

// Advert is one (peer-id, ref-name, object-id) triple received during
// Peek, restricted to the rad/* namespace under each peer per spec.md
// §4.6.
type Advert struct {
	Peer string
	Ref  string
	ID   objstore.ID
}

// PeerOutcome records what Validate decided for one advertised peer.
type PeerOutcome struct {
	Peer       string
	Accepted   bool
	Delegate   bool
	Reason     string // set when !Accepted
	RefUpdates map[string]objstore.ID // ref name -> new id, surviving Commit's non-fast-forward filter
	Dropped    []string                // ref names dropped for non-fast-forward against a non-delegate
}

// Report summarizes one Run, for the external scheduler and for tests.
type Report struct {
	Target  Target
	State   State
	Peers   []PeerOutcome
	Fetched int // object count fetched in the Fetch phase
	Err     error
}

// Engine drives the replication state machine against a local object
// store, identity verifier, and tracking store.
type Engine struct {
	Local    objstore.Store
	LocalRefs objstore.RefStore
	Verifier *identity.Verifier
	Tracking *tracking.Store

	// MaxBytes bounds the Fetch phase's total transfer size; exceeding
	// it aborts with errtax.TransferTooLarge and leaves local state
	// unchanged, per spec.md §4.6/§8.
	MaxBytes int64

	// ParentsOf extracts the parent object ids of an object's bytes, for
	// the fast-forward ancestry check Commit performs. The engine is
	// agnostic to the underlying object format (spec.md treats the
	// object store as an external collaborator); callers supply this
	// for their store's commit encoding. A nil ParentsOf makes every
	// changed ref look non-fast-forward (the conservative default).
	ParentsOf ParentsOfFunc

	// Timeouts applies per-phase deadlines, per spec.md §5. Zero values
	// mean "no deadline".
	Timeouts PhaseTimeouts

	// Logger records phase transitions and per-peer outcomes. A nil
	// Logger disables logging entirely.
	Logger *zap.Logger
}

// log returns e.Logger, or a no-op logger if none was configured, so
// call sites never need a nil check.
func (e *Engine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// PhaseTimeouts names the per-phase timeouts of spec.md §5.
type PhaseTimeouts struct {
	Peek, Validate, Fetch, Commit time.Duration
}

func (p PhaseTimeouts) withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// phaseErr wraps err (if non-nil) so ctx.Err() from a timed-out or
// cancelled phase surfaces as the right errtax.Kind.
func phaseErr(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errtax.New(errtax.Timeout, "REPLICATE-PHASE-TIMEOUT", "replication phase exceeded its deadline")
	case context.Canceled:
		return errtax.New(errtax.Cancelled, "REPLICATE-PHASE-CANCELLED", "replication phase was cancelled")
	default:
		return nil
	}
}
