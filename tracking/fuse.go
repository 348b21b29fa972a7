package tracking

import "github.com/octofork/radlink/errtax"

// action distinguishes the two tracking mutations a batch op can perform.
type action int

const (
	actionTrack action = iota
	actionUntrack
)

// Op is one step of a tracking-store batch against a single (urn, peer)
// key, per spec.md §4.5.
type Op struct {
	action action
	config Config
	policy Policy
}

// TrackOp builds a batch step equivalent to Store.Track(key, cfg, policy).
func TrackOp(cfg Config, policy Policy) Op {
	return Op{action: actionTrack, config: cfg, policy: policy}
}

// UntrackOp builds a batch step equivalent to Store.Untrack(key, policy).
func UntrackOp(policy Policy) Op {
	return Op{action: actionUntrack, policy: policy}
}

// reduced is the outcome of folding a prefix of a batch into one
// effective operation (or a provably-always-rejecting sentinel).
type reduced struct {
	alwaysFail bool
	kind       errtax.Kind
	op         Op
}

// resultExistence reports the deterministic post-state of op, if op's
// own policy is Any (its precondition is trivially satisfied so its
// result does not depend on the state it started from).
func resultExistence(op Op) (exists bool, determined bool) {
	if op.policy != Any {
		return false, false
	}
	return op.action == actionTrack, true
}

// compose folds "first, then second" (both against the same key) into a
// single effective op, per spec.md §4.5's composition algebra.
//
// The rule that falls out of the worked example in spec.md §8 scenario 5
// is: whenever second.policy is Any, second's own precondition is
// trivially satisfied no matter what came before, and second's effect
// is fully determined — so first (its effect AND any precondition
// violation it might have hit) is discarded entirely. This is what lets
// `track(MustNotExist, X); untrack(Any); track(Any, Y)` collapse to
// exactly `track(Any, Y)` regardless of whether the entry pre-existed,
// as the scenario specifies.
//
// When second is conditional (MustExist/MustNotExist), first's
// guaranteed post-state (if determinable, i.e. first.policy == Any, or
// — when first itself is conditional — first's post-state *assuming
// first succeeds*) decides second's fate: if the two are compatible,
// the pair collapses to an Any-policy version of second gated by
// first's own precondition (or Any, if first was already Any); if they
// are provably incompatible, the pair always rejects regardless of
// runtime state.
func compose(first, second Op) reduced {
	if second.policy == Any {
		return reduced{op: second}
	}
	needExists := second.policy == MustExist
	failKind := errtax.NotFound
	if !needExists {
		failKind = errtax.Exists
	}

	if exists, ok := resultExistence(first); ok {
		if exists == needExists {
			return reduced{op: Op{action: second.action, config: second.config, policy: Any}}
		}
		return reduced{alwaysFail: true, kind: failKind}
	}

	// first is itself conditional: its effect, when it succeeds, is
	// deterministic (trackAction -> exists, untrackAction -> absent).
	firstSucceedsExists := first.action == actionTrack
	if firstSucceedsExists != needExists {
		return reduced{alwaysFail: true, kind: failKind}
	}
	return reduced{op: Op{action: second.action, config: second.config, policy: first.policy}}
}

// Fuse folds an ordered batch of operations against the same key into a
// single effective Op, per spec.md §4.5's batch-fusion contract: running
// Fuse's result atomically against the store produces the same final
// state and the same accept/reject outcome as running ops sequentially
// would under a consistent observer.
//
// Fuse panics on an empty batch; callers should not construct one.
func Fuse(ops []Op) (Op, error) {
	if len(ops) == 0 {
		panic("tracking: Fuse called with empty batch")
	}
	accOp := ops[0]
	var accFail bool
	var accKind errtax.Kind

	for _, next := range ops[1:] {
		if next.policy == Any {
			accOp, accFail = next, false
			continue
		}
		if accFail {
			// A provably-always-rejecting prefix stays rejecting
			// through any non-Any step; only a trailing Any op (handled
			// above) can reset it.
			continue
		}
		r := compose(accOp, next)
		if r.alwaysFail {
			accFail, accKind = true, r.kind
			continue
		}
		accOp = r.op
	}

	if accFail {
		return Op{}, errtax.New(accKind, "TRACKING-BATCH-UNSATISFIABLE", "batch preconditions can never be satisfied")
	}
	return accOp, nil
}
