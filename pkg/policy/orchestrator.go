package policy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/housekeeping"
	"github.com/cuemby/beacon/pkg/lock"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/plugin"
	"github.com/cuemby/beacon/pkg/scheduler"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// Peer is the part of the remote Beacon API used to replicate a policy
// definition
type Peer interface {
	SyncPolicy(ctx context.Context, policy *types.ReplicationPolicy) error
}

// PeerResolver returns the client of the Beacon server at endpoint
type PeerResolver func(endpoint string) Peer

// Config wires an Orchestrator
type Config struct {
	Store        storage.Store
	Locks        *lock.Table
	Recorder     *events.Recorder
	Scheduler    scheduler.Scheduler
	Plugins      *plugin.Registry
	Housekeeping *housekeeping.Service
	Peers        PeerResolver
	Authorizer   Authorizer

	// LocalCluster is the name of the cluster this server belongs to
	LocalCluster string

	MinFrequency  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Orchestrator drives the policy lifecycle on this server and keeps the
// peer's copy of each policy in step
type Orchestrator struct {
	store        storage.Store
	locks        *lock.Table
	recorder     *events.Recorder
	scheduler    scheduler.Scheduler
	plugins      *plugin.Registry
	housekeeping *housekeeping.Service
	peers        PeerResolver
	auth         Authorizer
	localName    string
	config       Config
	logger       zerolog.Logger
	now          func() time.Time
}

// NewOrchestrator creates a policy orchestrator
func NewOrchestrator(cfg Config) *Orchestrator {
	auth := cfg.Authorizer
	if auth == nil {
		auth = AllowAll{}
	}
	plugins := cfg.Plugins
	if plugins == nil {
		plugins = plugin.NewRegistry()
	}
	return &Orchestrator{
		store:        cfg.Store,
		locks:        cfg.Locks,
		recorder:     cfg.Recorder,
		scheduler:    cfg.Scheduler,
		plugins:      plugins,
		housekeeping: cfg.Housekeeping,
		peers:        cfg.Peers,
		auth:         auth,
		localName:    cfg.LocalCluster,
		config:       cfg,
		logger:       log.WithComponent("policy"),
		now:          time.Now,
	}
}

func observe(op string, err *error) {
	metrics.PolicyOperationsTotal.WithLabelValues(op, metrics.ResultLabel(*err)).Inc()
}

func (o *Orchestrator) acquire(name, command string) (func(), error) {
	key := lock.PolicyKey(name)
	if err := o.locks.TryAcquire(key, command); err != nil {
		return nil, err
	}
	return func() { o.locks.Release(key) }, nil
}

func (o *Orchestrator) touch(p *types.ReplicationPolicy) {
	p.LastModifiedAt = o.now().UTC()
	p.Version++
}

// requireExecution rejects operations that only the scheduler of the
// executing cluster can perform
func (o *Orchestrator) requireExecution(p *types.ReplicationPolicy) error {
	if exec := p.ExecutionCluster(); exec != o.localName {
		return errdefs.Invalidf("policy %s is executed by cluster %s, not %s", p.Name, exec, o.localName)
	}
	return nil
}

// buildJobs returns one job per active plugin followed by the replication
// jobs of the execution type
func (o *Orchestrator) buildJobs(p *types.ReplicationPolicy) []string {
	var jobs []string
	for _, pl := range o.plugins.Active() {
		jobs = append(jobs, plugin.JobType(pl.Name()))
	}
	return append(jobs, scheduler.ReplicationJobs(p.ExecutionType)...)
}

// propagate dispatches op for p to the peer cluster through housekeeping.
// Failures are retried in the background and never fail the caller.
func (o *Orchestrator) propagate(ctx context.Context, tx *storage.Tx, p *types.ReplicationPolicy, op types.HousekeepingOp) {
	remote := p.RemoteCluster(o.localName)
	if remote == "" {
		return
	}
	rc, err := o.store.GetCluster(remote)
	if err != nil {
		logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
		logger.Warn().Err(err).
			Str("remote", remote).
			Msg("Cannot propagate policy change, remote cluster unknown")
		return
	}
	o.housekeeping.Dispatch(ctx, tx, o.housekeeping.NewPolicyJob(op, rc, p))
}

func peerError(err error, name, remote string) error {
	if client.IsRejected(err) {
		return errdefs.Wrap(err, errdefs.Invalid, "remote cluster %s rejected policy %s", remote, name)
	}
	return errdefs.Upstreamf(err, "failed to sync policy %s to remote cluster %s", name, remote)
}

// Get returns the live policy called name
func (o *Orchestrator) Get(name string) (*types.ReplicationPolicy, error) {
	return o.store.GetPolicy(name)
}

// Status returns the status of the live policy called name
func (o *Orchestrator) Status(name string) (types.PolicyStatus, error) {
	p, err := o.store.GetPolicy(name)
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

// List returns the policies selected by opts and the number of matches
func (o *Orchestrator) List(opts storage.ListOptions) ([]*types.ReplicationPolicy, int, error) {
	return o.store.QueryPolicies(opts)
}

// ListInstances returns the instances of the live policy called name
func (o *Orchestrator) ListInstances(name string, opts storage.ListOptions) ([]*types.PolicyInstance, int, error) {
	p, err := o.store.GetPolicy(name)
	if err != nil {
		return nil, 0, err
	}
	return o.store.QueryInstances(p.PolicyID, opts)
}

// Recover re-arms the scheduler with every RUNNING and SUSPENDED policy this
// cluster executes. It returns the number of policies re-armed.
func (o *Orchestrator) Recover() (int, error) {
	policies, err := o.store.ListPolicies()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, p := range policies {
		if !p.RetirementTime.IsZero() || p.ExecutionCluster() != o.localName {
			continue
		}
		if p.Status != types.PolicyStatusRunning && p.Status != types.PolicyStatusSuspended {
			continue
		}
		if err := o.rearm(p); err != nil {
			logger := log.WithPolicy(o.logger, p.Name, p.PolicyID)
			logger.Error().Err(err).Msg("Failed to recover policy")
			continue
		}
		recovered++
	}
	return recovered, nil
}

func (o *Orchestrator) rearm(p *types.ReplicationPolicy) error {
	jobs := p.Jobs
	if len(jobs) == 0 {
		jobs = o.buildJobs(p)
	}
	if err := o.scheduler.SchedulePolicy(jobs, true, p.PolicyID, p.StartTime, p.EndTime, p.FrequencyInSec); err != nil {
		return err
	}
	if p.Status == types.PolicyStatusSuspended {
		return o.scheduler.SuspendPolicy(p.PolicyID)
	}
	return nil
}

// InstanceCompleted records the outcome of a finished instance
func (o *Orchestrator) InstanceCompleted(inst *types.PolicyInstance) {
	var event *types.Event
	switch inst.Status {
	case types.InstanceStatusSucceeded:
		event = events.InstanceEvent(types.EventInstanceSucceeded, inst, types.SeverityInfo, "instance %s succeeded", inst.InstanceID)
	case types.InstanceStatusFailed:
		event = events.InstanceEvent(types.EventInstanceFailed, inst, types.SeverityError, "instance %s failed: %s", inst.InstanceID, inst.Message)
	case types.InstanceStatusKilled:
		event = events.InstanceEvent(types.EventInstanceKilled, inst, types.SeverityWarn, "instance %s killed: %s", inst.InstanceID, inst.Message)
	default:
		return
	}
	if err := o.recorder.RecordNow(event); err != nil {
		o.logger.Error().Err(err).Str("instance_id", inst.InstanceID).Msg("Failed to record instance event")
	}
}

// PolicyCompleted is called by the scheduler once the policy's end time has
// passed
func (o *Orchestrator) PolicyCompleted(policyID string, status types.PolicyStatus) error {
	return o.CompletePolicy(context.Background(), policyID, status)
}
