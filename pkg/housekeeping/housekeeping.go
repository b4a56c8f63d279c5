package housekeeping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/lock"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// Peer is the subset of the peer client replayed by housekeeping
type Peer interface {
	SyncPolicyStatus(ctx context.Context, name string, status types.PolicyStatus, isInternal bool) error
	SyncDeletePolicy(ctx context.Context, name, policyID string) error
}

// PeerResolver returns the peer client for a Beacon endpoint
type PeerResolver func(endpoint string) Peer

// Config controls retry pacing
type Config struct {
	// Interval between drain cycles
	Interval time.Duration

	// Frequency is the delay before a failed job is attempted again
	Frequency time.Duration

	// MaxAttempts after which a job is abandoned
	MaxAttempts int
}

// Service retries failed peer synchronizations until they succeed, are
// rejected by the peer, or run out of attempts
type Service struct {
	store    storage.Store
	recorder *events.Recorder
	locks    *lock.Table
	peers    PeerResolver
	config   Config
	logger   zerolog.Logger
	now      func() time.Time

	drainMu  sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewService creates a housekeeping service. Replays take the policy keys
// of locks, which is shared with the policy orchestrator.
func NewService(store storage.Store, recorder *events.Recorder, locks *lock.Table, peers PeerResolver, config Config) *Service {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Frequency <= 0 {
		config.Frequency = 5 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}
	return &Service{
		store:    store,
		recorder: recorder,
		locks:    locks,
		peers:    peers,
		config:   config,
		logger:   log.WithComponent("housekeeping"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// NewJob builds a retry job targeting remote
func (s *Service) NewJob(op types.HousekeepingOp, remote *types.Cluster, name string, status types.PolicyStatus) *types.HousekeepingJob {
	now := s.now().UTC()
	job := &types.HousekeepingJob{
		Op:            op,
		RemoteCluster: remote.Name,
		Endpoint:      remote.BeaconEndpoint,
		Name:          name,
		Status:        status,
		Frequency:     s.config.Frequency,
		MaxAttempts:   s.config.MaxAttempts,
		NextAttemptAt: now.Add(s.config.Frequency),
		CreatedAt:     now,
	}
	job.Key = job.JobKey()
	return job
}

// NewPolicyJob builds a retry job for the current status of one generation
// of a policy
func (s *Service) NewPolicyJob(op types.HousekeepingOp, remote *types.Cluster, p *types.ReplicationPolicy) *types.HousekeepingJob {
	job := s.NewJob(op, remote, p.Name, p.Status)
	job.PolicyID = p.PolicyID
	job.Key = job.JobKey()
	return job
}

// Dispatch attempts the remote call now. On success pending retries for the
// same target are cancelled within tx; on failure a retry is scheduled
// within tx. Peer failures are never returned to the caller.
func (s *Service) Dispatch(ctx context.Context, tx *storage.Tx, job *types.HousekeepingJob) {
	err := s.invoke(ctx, job)
	if err == nil {
		s.Cancel(tx, job)
		return
	}

	logger := s.jobLogger(job)
	if client.IsRejected(err) {
		logger.Warn().Err(err).Msg("Peer rejected sync, not retrying")
		return
	}

	logger.Warn().Err(err).Msg("Peer sync failed, scheduling retry")
	job.LastError = err.Error()
	s.ScheduleIfAbsent(tx, job)
}

// ScheduleIfAbsent stages job unless an identical job is pending. A status
// sync supersedes older status syncs for the same policy and peer; a delete
// supersedes every pending job for the policy and peer.
func (s *Service) ScheduleIfAbsent(tx *storage.Tx, job *types.HousekeepingJob) {
	if job.Key == "" {
		job.Key = job.JobKey()
	}

	tx.ScheduleHousekeeping(job, func(existing *types.HousekeepingJob) bool {
		if existing.RemoteCluster != job.RemoteCluster || existing.Name != job.Name {
			return false
		}
		if job.Op == types.OpDeletePolicy {
			return true
		}
		return existing.Op == job.Op
	})
	tx.AfterCommit(s.refreshPending)
}

func (s *Service) refreshPending() {
	if jobs, err := s.store.ListHousekeepingJobs(); err == nil {
		metrics.HousekeepingPending.Set(float64(len(jobs)))
	}
}

// Cancel stages removal of pending jobs for the same operation and target.
// Cancelling a delete also drops pending status syncs for the policy.
func (s *Service) Cancel(tx *storage.Tx, job *types.HousekeepingJob) {
	tx.CancelHousekeeping(func(existing *types.HousekeepingJob) bool {
		if existing.RemoteCluster != job.RemoteCluster || existing.Name != job.Name {
			return false
		}
		return existing.Op == job.Op || job.Op == types.OpDeletePolicy
	})
}

// CancelPolicy stages removal of every pending job for a policy
func (s *Service) CancelPolicy(tx *storage.Tx, name string) {
	tx.CancelHousekeeping(func(existing *types.HousekeepingJob) bool {
		return existing.Name == name
	})
}

func (s *Service) invoke(ctx context.Context, job *types.HousekeepingJob) error {
	endpoint := job.Endpoint
	if remote, err := s.store.GetCluster(job.RemoteCluster); err == nil && remote.BeaconEndpoint != "" {
		endpoint = remote.BeaconEndpoint
	}
	peer := s.peers(endpoint)

	switch job.Op {
	case types.OpSyncStatus:
		return peer.SyncPolicyStatus(ctx, job.Name, job.Status, true)
	case types.OpDeletePolicy:
		return peer.SyncDeletePolicy(ctx, job.Name, job.PolicyID)
	default:
		return fmt.Errorf("unknown housekeeping operation %q", job.Op)
	}
}

func (s *Service) jobLogger(job *types.HousekeepingJob) zerolog.Logger {
	return s.logger.With().
		Str("op", string(job.Op)).
		Str("peer", job.RemoteCluster).
		Str("policy", job.Name).
		Str("status", string(job.Status)).
		Logger()
}

// Start begins the drain loop
func (s *Service) Start() {
	metrics.UpdateComponent(metrics.ComponentHousekeeping, true, "")
	go s.run()
}

// Stop stops the drain loop
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		metrics.UpdateComponent(metrics.ComponentHousekeeping, false, "stopped")
	})
}

func (s *Service) run() {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Drain(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("Housekeeping drain failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Drain replays every due job once
func (s *Service) Drain(ctx context.Context) error {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HousekeepingDrainDuration)

	jobs, err := s.store.ListHousekeepingJobs()
	if err != nil {
		return fmt.Errorf("failed to list housekeeping jobs: %w", err)
	}

	now := s.now()
	for _, job := range jobs {
		if job.NextAttemptAt.After(now) {
			continue
		}
		if err := s.replay(ctx, job); err != nil {
			logger := s.jobLogger(job)
			logger.Error().Err(err).Msg("Failed to record housekeeping result")
		}
	}

	s.refreshPending()
	return nil
}

// replay retries one job under the policy lock, so it never interleaves
// with a lifecycle change of the same policy. A busy policy is retried on
// the next cycle.
func (s *Service) replay(ctx context.Context, job *types.HousekeepingJob) error {
	logger := s.jobLogger(job)
	if s.locks != nil {
		key := lock.PolicyKey(job.Name)
		if err := s.locks.TryAcquire(key, "housekeeping"); err != nil {
			logger.Debug().Err(err).Msg("Policy busy, retrying next cycle")
			return nil
		}
		defer s.locks.Release(key)
	}

	// the job may have been cancelled or superseded since it was listed
	current, err := s.store.GetHousekeepingJob(job.Key)
	if errdefs.Is(err, errdefs.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	job = current

	callErr := s.invoke(ctx, job)

	tx := s.store.Begin()
	defer tx.Rollback()

	switch {
	case callErr == nil:
		metrics.HousekeepingAttemptsTotal.WithLabelValues(string(job.Op), metrics.ResultSuccess).Inc()
		logger.Info().Int("attempts", job.Attempts+1).Msg("Peer sync succeeded on retry")
		tx.DeleteHousekeepingJob(job.Key)

	case client.IsRejected(callErr):
		metrics.HousekeepingAttemptsTotal.WithLabelValues(string(job.Op), metrics.ResultRejected).Inc()
		logger.Warn().Err(callErr).Msg("Peer rejected sync, dropping retry")
		tx.DeleteHousekeepingJob(job.Key)

	default:
		metrics.HousekeepingAttemptsTotal.WithLabelValues(string(job.Op), metrics.ResultFailure).Inc()
		job.Attempts++
		job.LastError = callErr.Error()

		if job.Attempts >= job.MaxAttempts {
			logger.Error().Err(callErr).Int("attempts", job.Attempts).Msg("Abandoning peer sync after max attempts")
			tx.DeleteHousekeepingJob(job.Key)
			if s.recorder != nil {
				s.recorder.Record(tx, events.SystemEvent(types.EventSyncAbandoned, types.SeverityError,
					"gave up %s of policy %s on cluster %s after %d attempts: %v",
					job.Op, job.Name, job.RemoteCluster, job.Attempts, callErr))
			}
		} else {
			job.NextAttemptAt = s.now().UTC().Add(job.Frequency)
			logger.Debug().Err(callErr).Int("attempts", job.Attempts).Time("next_attempt", job.NextAttemptAt).Msg("Peer sync retry failed")
			tx.UpdateHousekeepingJob(job)
		}
	}

	return tx.Commit()
}

// PendingJobs returns the jobs waiting for retry
func (s *Service) PendingJobs() ([]*types.HousekeepingJob, error) {
	return s.store.ListHousekeepingJobs()
}
