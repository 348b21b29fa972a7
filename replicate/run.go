package replicate

import (
	"context"

	"go.uber.org/zap"

	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
)

// failState maps an error's taxonomy kind onto the state diagram of
// spec.md §4.6: a timeout/cancellation is Aborted, a verification
// failure is Rejected, anything else (storage, transport, internal) is
// Failed.
func failState(err error) State {
	switch {
	case errtax.Is(err, errtax.Timeout), errtax.Is(err, errtax.Cancelled):
		return Aborted
	case errtax.Is(err, errtax.Malformed), errtax.Is(err, errtax.Unsigned), errtax.Is(err, errtax.NoQuorum),
		errtax.Is(err, errtax.BrokenChain), errtax.Is(err, errtax.Forked), errtax.Is(err, errtax.UnsignedRefs),
		errtax.Is(err, errtax.StaleRefs), errtax.Is(err, errtax.NonFastForward):
		return Rejected
	default:
		return Failed
	}
}

// Run drives one full Idle→Peek→Validate→Fetch→Commit pass against
// target, per spec.md §4.6. projectIdentityTip is the target urn's own
// identity attestation tip, used to compute the current delegation set
// that decides which accepted peers are delegates (a delegate's
// non-fast-forward update aborts the whole Commit).
func (e *Engine) Run(ctx context.Context, target Target, transport Transport, projectIdentityTip objstore.ID) (*Report, error) {
	report := &Report{Target: target, State: Idle}
	log := e.log().With(zap.String("urn", string(target.URN)), zap.String("remotePeer", target.RemotePeer))
	log.Debug("run starting")

	result, err := e.Verifier.Verify(projectIdentityTip)
	if err != nil {
		report.State, report.Err = Failed, err
		log.Debug("identity verification failed", zap.Error(err))
		return report, err
	}
	projectDelegations := toSet(result.Delegations)

	report.State = Peek
	peek, err := e.peek(ctx, transport, target)
	if err != nil {
		report.State = Failed
		report.Err = err
		log.Debug("peek failed", zap.Error(err))
		return report, err
	}
	log.Debug("peek complete", zap.Int("peers", len(peek.Peers)))

	report.State = Validate
	accepted, outcomes := e.validate(target.URN, peek, projectDelegations)

	report.State = Fetch
	permitted, needed := neededObjects(e.Local, accepted)
	fetched, err := e.fetch(ctx, transport, target, needed)
	report.Fetched = fetched
	if err != nil {
		report.State = Failed
		report.Err = err
		report.Peers = outcomes
		log.Debug("fetch failed", zap.Error(err), zap.Int("fetched", fetched))
		return report, err
	}
	log.Debug("fetch complete", zap.Int("fetched", fetched))

	report.State = Commit
	outcomeByPeer := make(map[string]*PeerOutcome, len(outcomes))
	for i := range outcomes {
		outcomeByPeer[outcomes[i].Peer] = &outcomes[i]
	}
	if err := e.commit(target.URN, peek.Peers, accepted, permitted, outcomeByPeer); err != nil {
		report.State = Failed
		report.Err = err
		report.Peers = outcomes
		log.Debug("commit failed", zap.Error(err))
		return report, err
	}

	report.State = Done
	report.Peers = outcomes
	log.Debug("run done", zap.Int("peers", len(outcomes)))
	return report, nil
}

// peek runs the Peek phase of spec.md §4.6 under its configured
// timeout.
func (e *Engine) peek(ctx context.Context, transport Transport, target Target) (PeekResult, error) {
	ctx, cancel := e.Timeouts.withDeadline(ctx, e.Timeouts.Peek)
	defer cancel()
	res, err := transport.Peek(ctx, target)
	if err := phaseErr(ctx, err); err != nil {
		return PeekResult{}, err
	}
	return res, nil
}
