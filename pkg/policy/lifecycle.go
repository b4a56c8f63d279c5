package policy

import (
	"context"
	"time"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/types"
)

// Submit validates and stores a new policy in SUBMITTED status and sends
// its definition to the peer cluster. A peer failure undoes the submit.
func (o *Orchestrator) Submit(ctx context.Context, p *types.ReplicationPolicy) (_ *types.ReplicationPolicy, err error) {
	defer observe("submit", &err)

	release, err := o.acquire(p.Name, "submit")
	if err != nil {
		return nil, err
	}
	defer release()

	return o.submitLocked(ctx, p, true, false)
}

// Schedule hands a SUBMITTED policy to the scheduler
func (o *Orchestrator) Schedule(ctx context.Context, name string) (_ *types.ReplicationPolicy, err error) {
	defer observe("schedule", &err)

	release, err := o.acquire(name, "schedule")
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := o.store.GetPolicy(name)
	if err != nil {
		return nil, err
	}
	return o.scheduleLocked(ctx, p)
}

// SubmitAndSchedule submits a policy and schedules it under one lock
func (o *Orchestrator) SubmitAndSchedule(ctx context.Context, p *types.ReplicationPolicy) (_ *types.ReplicationPolicy, err error) {
	defer observe("submit_and_schedule", &err)

	release, err := o.acquire(p.Name, "submitAndSchedule")
	if err != nil {
		return nil, err
	}
	defer release()

	submitted, err := o.submitLocked(ctx, p, true, false)
	if err != nil {
		return nil, err
	}
	return o.scheduleLocked(ctx, submitted)
}

func (o *Orchestrator) submitLocked(ctx context.Context, in *types.ReplicationPolicy, sync, fromPeer bool) (*types.ReplicationPolicy, error) {
	p := *in
	if !fromPeer {
		if err := o.authorize(ctx, ActionSubmit, &p); err != nil {
			return nil, err
		}
	}
	if err := o.validate(&p, fromPeer); err != nil {
		return nil, err
	}

	existing, err := o.store.GetPolicy(p.Name)
	switch {
	case errdefs.Is(err, errdefs.NotFound):
		existing = nil
	case err != nil:
		return nil, err
	case fromPeer && existing.PolicyID == p.PolicyID:
		return existing, nil
	case existing.Status.IsActive():
		return nil, errdefs.Conflictf("policy %s already exists in status %s", p.Name, existing.Status)
	}

	local, err := o.store.GetCluster(o.localName)
	if err != nil {
		return nil, err
	}
	source, err := o.store.GetCluster(p.SourceCluster)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	if !fromPeer {
		p.PolicyID = newPolicyID(local, p.Name)
		p.ExecutionType = ""
		if p.User == "" {
			p.User = UserFrom(ctx)
		}
	}
	if p.ExecutionType == "" {
		p.ExecutionType = executionType(&p, source)
	}
	p.Status = types.PolicyStatusSubmitted
	p.Jobs = nil
	p.CreatedAt = now
	p.LastModifiedAt = now
	p.RetirementTime = time.Time{}
	p.Version = 1

	tx := o.store.Begin()
	defer tx.Rollback()

	if existing != nil {
		existing.RetirementTime = now
		tx.PutPolicy(existing)
		tx.RetireInstances(existing.PolicyID, now)
	}
	tx.PutPolicy(&p)
	o.recorder.Record(tx, events.PolicyEvent(types.EventPolicySubmitted, &p, fromPeer, "policy %s submitted", p.Name))

	if remote := p.RemoteCluster(o.localName); sync && remote != "" {
		rc, err := o.store.GetCluster(remote)
		if err != nil {
			return nil, err
		}
		if err := o.peers(rc.BeaconEndpoint).SyncPolicy(ctx, &p); err != nil {
			return nil, peerError(err, p.Name, remote)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errdefs.Wrap(err, errdefs.Internal, "failed to submit policy %s", p.Name)
	}

	logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
	logger.Info().
		Str("type", string(p.ExecutionType)).
		Bool("sync", fromPeer).
		Msg("Policy submitted")
	return &p, nil
}

func (o *Orchestrator) scheduleLocked(ctx context.Context, p *types.ReplicationPolicy) (*types.ReplicationPolicy, error) {
	if err := o.authorize(ctx, ActionSchedule, p); err != nil {
		return nil, err
	}
	if p.Status != types.PolicyStatusSubmitted {
		return nil, errdefs.Invalidf("policy %s is %s, only SUBMITTED policies can be scheduled", p.Name, p.Status)
	}
	if err := o.requireExecution(p); err != nil {
		return nil, err
	}

	jobs := o.buildJobs(p)
	if len(jobs) == 0 {
		return nil, errdefs.Invalidf("no jobs for execution type %s of policy %s", p.ExecutionType, p.Name)
	}
	if err := o.scheduler.SchedulePolicy(jobs, false, p.PolicyID, p.StartTime, p.EndTime, p.FrequencyInSec); err != nil {
		return nil, err
	}

	p.Jobs = jobs
	p.Status = types.PolicyStatusRunning
	o.touch(p)

	tx := o.store.Begin()
	defer tx.Rollback()

	tx.PutPolicy(p)
	o.recorder.Record(tx, events.PolicyEvent(types.EventPolicyScheduled, p, false, "policy %s scheduled with jobs %v", p.Name, jobs))
	o.propagate(ctx, tx, p, types.OpSyncStatus)

	if err := tx.Commit(); err != nil {
		o.scheduler.DeletePolicy(p.PolicyID)
		return nil, errdefs.Wrap(err, errdefs.Internal, "failed to schedule policy %s", p.Name)
	}

	logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
	logger.Info().Strs("jobs", jobs).Msg("Policy scheduled")
	return p, nil
}

// Suspend stops a RUNNING policy from firing new instances
func (o *Orchestrator) Suspend(ctx context.Context, name string) (err error) {
	defer observe("suspend", &err)
	return o.transition(ctx, name, ActionSuspend, types.PolicyStatusRunning, types.PolicyStatusSuspended, types.EventPolicySuspended)
}

// Resume lets a SUSPENDED policy fire again
func (o *Orchestrator) Resume(ctx context.Context, name string) (err error) {
	defer observe("resume", &err)
	return o.transition(ctx, name, ActionResume, types.PolicyStatusSuspended, types.PolicyStatusRunning, types.EventPolicyResumed)
}

func (o *Orchestrator) transition(ctx context.Context, name string, action Action, from, to types.PolicyStatus, eventType types.EventType) error {
	release, err := o.acquire(name, string(action))
	if err != nil {
		return err
	}
	defer release()

	p, err := o.store.GetPolicy(name)
	if err != nil {
		return err
	}
	if err := o.authorize(ctx, action, p); err != nil {
		return err
	}
	if p.Status != from {
		return errdefs.Invalidf("policy %s is %s, only %s policies can be %s", p.Name, p.Status, from, pastTense(action))
	}
	if err := o.requireExecution(p); err != nil {
		return err
	}

	apply, undo := o.scheduler.SuspendPolicy, o.scheduler.ResumePolicy
	if action == ActionResume {
		apply, undo = undo, apply
	}
	if err := apply(p.PolicyID); err != nil {
		return err
	}

	p.Status = to
	o.touch(p)

	tx := o.store.Begin()
	defer tx.Rollback()

	tx.PutPolicy(p)
	o.recorder.Record(tx, events.PolicyEvent(eventType, p, false, "policy %s %s", p.Name, pastTense(action)))
	o.propagate(ctx, tx, p, types.OpSyncStatus)

	if err := tx.Commit(); err != nil {
		if uerr := undo(p.PolicyID); uerr != nil {
			logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
			logger.Error().Err(uerr).Msg("Failed to undo scheduler change")
		}
		return errdefs.Wrap(err, errdefs.Internal, "failed to %s policy %s", action, p.Name)
	}

	logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
	logger.Info().Str("status", string(to)).Msg("Policy " + pastTense(action))
	return nil
}

func pastTense(action Action) string {
	switch action {
	case ActionSuspend:
		return "suspended"
	case ActionResume:
		return "resumed"
	}
	return string(action)
}

// Delete retires a policy. A policy that was scheduled has its instances
// retired and is removed from the scheduler first. Unless the request comes
// from the peer, the delete is propagated to it.
func (o *Orchestrator) Delete(ctx context.Context, name string, isInternalSyncDelete bool) error {
	return o.delete(ctx, name, "", isInternalSyncDelete)
}

// SyncDelete retires the local copy of a policy deleted on the peer. A
// delete aimed at another generation of the name is ignored.
func (o *Orchestrator) SyncDelete(ctx context.Context, name, policyID string) error {
	return o.delete(ctx, name, policyID, true)
}

func (o *Orchestrator) delete(ctx context.Context, name, policyID string, isInternalSyncDelete bool) (err error) {
	defer observe("delete", &err)

	release, err := o.acquire(name, "delete")
	if err != nil {
		return err
	}
	defer release()

	p, err := o.store.GetPolicy(name)
	if err != nil {
		return err
	}
	if policyID != "" && p.PolicyID != policyID {
		logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
		logger.Info().Str("requested_policy_id", policyID).Msg("Ignoring delete of another policy generation")
		return nil
	}
	if !isInternalSyncDelete {
		if err := o.authorize(ctx, ActionDelete, p); err != nil {
			return err
		}
	}

	now := o.now().UTC()
	tx := o.store.Begin()
	defer tx.Rollback()

	unscheduled := false
	if p.Status != types.PolicyStatusSubmitted {
		tx.RetireInstances(p.PolicyID, now)
		if p.ExecutionCluster() == o.localName &&
			(p.Status == types.PolicyStatusRunning || p.Status == types.PolicyStatusSuspended) {
			if !o.scheduler.DeletePolicy(p.PolicyID) {
				return errdefs.Upstreamf(nil, "scheduler could not remove policy %s", p.Name)
			}
			unscheduled = true
		}
	}

	prev := *p
	p.Status = types.PolicyStatusDeleted
	p.RetirementTime = now
	o.touch(p)

	tx.PutPolicy(p)
	o.recorder.Record(tx, events.PolicyEvent(types.EventPolicyDeleted, p, isInternalSyncDelete, "policy %s deleted", p.Name))
	if isInternalSyncDelete {
		o.housekeeping.CancelPolicy(tx, p.Name)
	} else {
		o.propagate(ctx, tx, p, types.OpDeletePolicy)
	}

	if err := tx.Commit(); err != nil {
		if unscheduled {
			if rerr := o.rearm(&prev); rerr != nil {
				logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
				logger.Error().Err(rerr).Msg("Failed to re-arm policy after aborted delete")
			}
		}
		return errdefs.Wrap(err, errdefs.Internal, "failed to delete policy %s", p.Name)
	}

	logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
	logger.Info().Bool("sync", isInternalSyncDelete).Msg("Policy deleted")
	return nil
}

// AbortInstance asks the scheduler to kill the running instance of a policy
// and returns without waiting for it
func (o *Orchestrator) AbortInstance(ctx context.Context, name string) (err error) {
	defer observe("abort", &err)

	release, err := o.acquire(name, "abort")
	if err != nil {
		return err
	}
	defer release()

	p, err := o.store.GetPolicy(name)
	if err != nil {
		return err
	}
	if err := o.authorize(ctx, ActionAbort, p); err != nil {
		return err
	}
	if p.Status == types.PolicyStatusSubmitted || p.Status.IsTerminal() {
		return errdefs.Invalidf("policy %s is %s and has no instance to abort", p.Name, p.Status)
	}
	if err := o.requireExecution(p); err != nil {
		return err
	}
	if !o.scheduler.AbortInstance(p.PolicyID) {
		return errdefs.Invalidf("policy %s has no running instance", p.Name)
	}

	if err := o.recorder.RecordNow(events.PolicyEvent(types.EventInstanceAborted, p, false, "abort requested for policy %s", p.Name)); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to record abort event")
	}
	logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
	logger.Info().Msg("Instance abort requested")
	return nil
}

// RerunInstance restarts the latest failed or killed instance of a RUNNING
// policy from the job where it stopped. It returns the instance id.
func (o *Orchestrator) RerunInstance(ctx context.Context, name string) (_ string, err error) {
	defer observe("rerun", &err)

	release, err := o.acquire(name, "rerun")
	if err != nil {
		return "", err
	}
	defer release()

	p, err := o.store.GetPolicy(name)
	if err != nil {
		return "", err
	}
	if err := o.authorize(ctx, ActionRerun, p); err != nil {
		return "", err
	}
	if p.Status != types.PolicyStatusRunning {
		return "", errdefs.Invalidf("policy %s is %s, only RUNNING policies can be rerun", p.Name, p.Status)
	}
	if err := o.requireExecution(p); err != nil {
		return "", err
	}

	latest, err := o.store.LatestInstance(p.PolicyID)
	if errdefs.Is(err, errdefs.NotFound) {
		return "", errdefs.Invalidf("policy %s has no instance to rerun", p.Name)
	}
	if err != nil {
		return "", err
	}
	if latest.Status != types.InstanceStatusFailed && latest.Status != types.InstanceStatusKilled {
		return "", errdefs.Invalidf("latest instance %s is %s, only FAILED or KILLED instances can be rerun", latest.InstanceID, latest.Status)
	}
	if !o.scheduler.RerunPolicyInstance(p.PolicyID, latest.CurrentOffset, latest.InstanceID) {
		return "", errdefs.Conflictf("instance %s of policy %s could not be rerun", latest.InstanceID, p.Name)
	}

	event := events.PolicyEvent(types.EventInstanceRerun, p, false, "instance %s rerun from job %d", latest.InstanceID, latest.CurrentOffset)
	event.InstanceID = latest.InstanceID
	if err := o.recorder.RecordNow(event); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to record rerun event")
	}
	logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
	logger.Info().
		Str("instance_id", latest.InstanceID).
		Int("offset", latest.CurrentOffset).
		Msg("Instance rerun")
	return latest.InstanceID, nil
}
