package policy

import (
	"context"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/types"
)

// SyncPolicy stores the copy of a policy sent by the peer cluster. The
// policy keeps the id and execution type it was given on the peer, and a
// copy already stored under the same id is left untouched.
func (o *Orchestrator) SyncPolicy(ctx context.Context, p *types.ReplicationPolicy) (err error) {
	defer observe("sync", &err)

	release, err := o.acquire(p.Name, "sync")
	if err != nil {
		return err
	}
	defer release()

	_, err = o.submitLocked(ctx, p, false, true)
	return err
}

// SyncPolicyStatus sets the status of the local copy of a policy. Unless
// isInternal, the new status is also sent to the peer cluster.
func (o *Orchestrator) SyncPolicyStatus(ctx context.Context, name string, status types.PolicyStatus, isInternal bool) (err error) {
	defer observe("sync_status", &err)

	st, ok := types.ParsePolicyStatus(string(status))
	if !ok || st == types.PolicyStatusDeleted {
		return errdefs.Invalidf("invalid status %q for policy %s", status, name)
	}

	release, err := o.acquire(name, "syncStatus")
	if err != nil {
		return err
	}
	defer release()

	p, err := o.store.GetPolicy(name)
	if err != nil {
		return err
	}
	if p.Status == st {
		return nil
	}

	prev := p.Status
	p.Status = st
	o.touch(p)

	tx := o.store.Begin()
	defer tx.Rollback()

	tx.PutPolicy(p)
	o.recorder.Record(tx, events.PolicyEvent(types.EventPolicyStatusSynced, p, isInternal, "policy %s status changed from %s to %s", p.Name, prev, st))
	if !isInternal {
		o.propagate(ctx, tx, p, types.OpSyncStatus)
	}

	if err := tx.Commit(); err != nil {
		return errdefs.Wrap(err, errdefs.Internal, "failed to sync status of policy %s", p.Name)
	}

	logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
	logger.Info().
		Str("from", string(prev)).
		Str("to", string(st)).
		Bool("internal", isInternal).
		Msg("Policy status synced")
	return nil
}

// CompletePolicy records the completion status of a policy whose end time
// has passed and sends it to the peer cluster
func (o *Orchestrator) CompletePolicy(ctx context.Context, policyID string, status types.PolicyStatus) (err error) {
	defer observe("complete", &err)

	if !status.IsTerminal() {
		return errdefs.Invalidf("%s is not a completion status", status)
	}

	p, err := o.store.GetPolicyByID(policyID)
	if err != nil {
		return err
	}

	release, err := o.acquire(p.Name, "complete")
	if err != nil {
		return err
	}
	defer release()

	// reload under the lock; the policy may have been deleted meanwhile
	p, err = o.store.GetPolicyByID(policyID)
	if err != nil {
		return err
	}
	if !p.RetirementTime.IsZero() || p.Status.IsTerminal() {
		return nil
	}

	p.Status = status
	o.touch(p)

	tx := o.store.Begin()
	defer tx.Rollback()

	tx.PutPolicy(p)
	o.recorder.Record(tx, events.PolicyEvent(types.EventPolicyCompleted, p, false, "policy %s completed with status %s", p.Name, status))
	o.propagate(ctx, tx, p, types.OpSyncStatus)

	if err := tx.Commit(); err != nil {
		return errdefs.Wrap(err, errdefs.Internal, "failed to complete policy %s", p.Name)
	}

	logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
	logger.Info().Str("status", string(status)).Msg("Policy completed")
	return nil
}
