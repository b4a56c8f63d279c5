package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// Scheduler runs the jobs of scheduled policies
type Scheduler interface {
	SchedulePolicy(jobs []string, isInternalRun bool, policyID string, start, end time.Time, frequencySec int) error
	SuspendPolicy(policyID string) error
	ResumePolicy(policyID string) error
	// DeletePolicy reports whether the policy was scheduled and is now removed
	DeletePolicy(policyID string) bool
	// AbortInstance reports whether a running instance was asked to stop
	AbortInstance(policyID string) bool
	RerunPolicyInstance(policyID string, offset int, instanceID string) bool
}

// Listener is notified when instances and policies finish
type Listener interface {
	InstanceCompleted(instance *types.PolicyInstance)
	// PolicyCompleted is called once the end time has passed. An error keeps
	// the policy scheduled and the call is repeated on the next tick.
	PolicyCompleted(policyID string, status types.PolicyStatus) error
}

// Job is one unit of work of a policy instance
type Job struct {
	Type       string
	Offset     int
	InstanceID string
	Policy     *types.ReplicationPolicy
}

// Runner executes jobs
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// entry is a scheduled policy
type entry struct {
	policyID  string
	jobs      []string
	start     time.Time
	end       time.Time
	frequency time.Duration
	nextRun   time.Time
	seq       int
	suspended bool
	running   *execution
}

// execution is an instance in flight
type execution struct {
	instanceID string
	cancel     context.CancelFunc
	done       chan struct{}
}

// LocalScheduler is an in-process Scheduler driven by a ticker
type LocalScheduler struct {
	store    storage.Store
	runner   Runner
	listener Listener
	tick     time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	// AbortWait bounds how long DeletePolicy waits for a running instance
	AbortWait time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopped bool
}

// NewLocalScheduler creates a scheduler
func NewLocalScheduler(store storage.Store, runner Runner, tick time.Duration) *LocalScheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &LocalScheduler{
		store:     store,
		runner:    runner,
		tick:      tick,
		logger:    log.WithComponent("scheduler"),
		now:       time.Now,
		AbortWait: 30 * time.Second,
		entries:   make(map[string]*entry),
		stopCh:    make(chan struct{}),
	}
}

// SetListener sets the completion listener. It must be called before Start.
func (s *LocalScheduler) SetListener(l Listener) {
	s.listener = l
}

// Start begins the scheduler loop
func (s *LocalScheduler) Start() {
	metrics.UpdateComponent(metrics.ComponentScheduler, true, "")
	go s.run()
}

// Stop stops the loop and cancels running instances
func (s *LocalScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	for _, e := range s.entries {
		if e.running != nil {
			e.running.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	metrics.UpdateComponent(metrics.ComponentScheduler, false, "stopped")
}

func (s *LocalScheduler) run() {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.schedule()
		case <-s.stopCh:
			return
		}
	}
}

// SchedulePolicy arms a policy. isInternalRun marks a re-arm by the server
// itself (recovery): it replaces an existing entry and fails instances left
// RUNNING by a previous process.
func (s *LocalScheduler) SchedulePolicy(jobs []string, isInternalRun bool, policyID string, start, end time.Time, frequencySec int) error {
	if len(jobs) == 0 {
		return errdefs.Invalidf("policy %s has no jobs", policyID)
	}
	if frequencySec <= 0 {
		return errdefs.Invalidf("invalid frequency %d for policy %s", frequencySec, policyID)
	}
	if !end.IsZero() && !end.After(start) {
		return errdefs.Invalidf("end time %s is not after start time %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	seq := 0
	latest, err := s.store.LatestInstance(policyID)
	switch {
	case err == nil:
		seq = latest.Sequence
	case !errdefs.Is(err, errdefs.NotFound):
		return fmt.Errorf("failed to load latest instance: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[policyID]; ok {
		if !isInternalRun {
			return errdefs.Conflictf("policy %s is already scheduled", policyID)
		}
		if existing.running != nil {
			existing.running.cancel()
		}
	}

	if isInternalRun {
		s.failInterrupted(policyID)
	}

	e := &entry{
		policyID:  policyID,
		jobs:      append([]string(nil), jobs...),
		start:     start,
		end:       end,
		frequency: time.Duration(frequencySec) * time.Second,
		seq:       seq,
	}
	// A start time in the past fires right away
	e.nextRun = start
	if now := s.now(); now.After(start) {
		e.nextRun = now
	}
	s.entries[policyID] = e

	s.logger.Info().
		Str("policy_id", policyID).
		Strs("jobs", jobs).
		Time("next_run", e.nextRun).
		Bool("internal", isInternalRun).
		Msg("Policy scheduled")
	return nil
}

// nextAfter returns the first run time aligned to start that is not before t
func (e *entry) nextAfter(t time.Time) time.Time {
	if !t.After(e.start) {
		return e.start
	}
	elapsed := t.Sub(e.start)
	n := elapsed / e.frequency
	if elapsed%e.frequency != 0 {
		n++
	}
	return e.start.Add(n * e.frequency)
}

func (s *LocalScheduler) failInterrupted(policyID string) {
	instances, err := s.store.ListInstances(policyID)
	if err != nil {
		s.logger.Warn().Err(err).Str("policy_id", policyID).Msg("Failed to list instances")
		return
	}

	tx := s.store.Begin()
	defer tx.Rollback()
	for _, inst := range instances {
		if inst.Status != types.InstanceStatusRunning || !inst.RetirementTime.IsZero() {
			continue
		}
		inst.Status = types.InstanceStatusFailed
		inst.EndTime = s.now().UTC()
		inst.Message = "interrupted by server restart"
		for i := range inst.Jobs {
			if inst.Jobs[i].Status == types.InstanceStatusRunning {
				inst.Jobs[i].Status = types.InstanceStatusFailed
				inst.Jobs[i].EndTime = inst.EndTime
				inst.Jobs[i].Message = inst.Message
			}
		}
		tx.PutInstance(inst)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error().Err(err).Str("policy_id", policyID).Msg("Failed to mark interrupted instances")
	}
}

// SuspendPolicy stops new instances from starting. A running instance is
// left to finish.
func (s *LocalScheduler) SuspendPolicy(policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[policyID]
	if !ok {
		return errdefs.NotFoundf("policy %s is not scheduled", policyID)
	}
	e.suspended = true
	return nil
}

// ResumePolicy restarts a suspended policy at its next aligned run time
func (s *LocalScheduler) ResumePolicy(policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[policyID]
	if !ok {
		return errdefs.NotFoundf("policy %s is not scheduled", policyID)
	}
	e.suspended = false
	e.nextRun = e.nextAfter(s.now())
	return nil
}

// DeletePolicy removes the policy, aborting a running instance and waiting
// (up to AbortWait) for it to stop
func (s *LocalScheduler) DeletePolicy(policyID string) bool {
	s.mu.Lock()
	e, ok := s.entries[policyID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, policyID)
	running := e.running
	if running != nil {
		running.cancel()
	}
	s.mu.Unlock()

	if running != nil {
		select {
		case <-running.done:
		case <-time.After(s.AbortWait):
			s.logger.Warn().Str("policy_id", policyID).Msg("Instance did not stop before delete")
		}
	}
	return true
}

// AbortInstance cancels the running instance of the policy without waiting
func (s *LocalScheduler) AbortInstance(policyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[policyID]
	if !ok || e.running == nil {
		return false
	}
	e.running.cancel()
	s.logger.Info().Str("policy_id", policyID).Str("instance_id", e.running.instanceID).Msg("Instance abort requested")
	return true
}

// RerunPolicyInstance re-executes an instance from offset under the same
// instance id
func (s *LocalScheduler) RerunPolicyInstance(policyID string, offset int, instanceID string) bool {
	policy, err := s.store.GetPolicyByID(policyID)
	if err != nil {
		return false
	}
	instance, err := s.store.GetInstance(instanceID)
	if err != nil || instance.PolicyID != policyID {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[policyID]
	if !ok || e.running != nil || s.stopped {
		return false
	}
	if offset < 0 || offset > len(e.jobs) {
		return false
	}

	instance.Status = types.InstanceStatusRunning
	instance.EndTime = time.Time{}
	instance.Message = ""
	instance.CurrentOffset = offset
	instance.Jobs = resetJobs(instance.Jobs, e.jobs, offset)

	s.startLocked(e, policy, instance, offset)
	return true
}

// resetJobs rebuilds the job records for a run starting at offset, keeping
// the records of jobs before it
func resetJobs(existing []types.InstanceJob, jobs []string, offset int) []types.InstanceJob {
	out := make([]types.InstanceJob, len(jobs))
	for i, jobType := range jobs {
		if i < offset && i < len(existing) {
			out[i] = existing[i]
			continue
		}
		out[i] = types.InstanceJob{Offset: i, Type: jobType}
	}
	return out
}

// schedule performs one scheduling cycle
func (s *LocalScheduler) schedule() {
	now := s.now()

	s.mu.Lock()
	var completed []*entry
	for _, e := range s.entries {
		if !e.end.IsZero() && now.After(e.end) && e.nextRun.After(e.end) {
			if e.running == nil && !e.suspended {
				completed = append(completed, e)
			}
			continue
		}
		if e.nextRun.After(now) {
			continue
		}
		if e.suspended {
			e.nextRun = e.nextAfter(now.Add(time.Nanosecond))
			continue
		}
		if e.running != nil {
			s.skipLocked(e, now)
			continue
		}
		s.fireLocked(e, now)
	}
	s.mu.Unlock()

	for _, e := range completed {
		s.complete(e)
	}
}

// skipLocked records a SKIPPED instance for a run that came due while the
// previous instance was still running
func (s *LocalScheduler) skipLocked(e *entry, now time.Time) {
	policy, err := s.store.GetPolicyByID(e.policyID)
	if err != nil {
		return
	}

	e.seq++
	e.nextRun = e.nextAfter(now.Add(time.Nanosecond))

	t := now.UTC()
	s.persist(&types.PolicyInstance{
		InstanceID: storage.InstanceID(e.policyID, e.seq),
		PolicyID:   e.policyID,
		Name:       policy.Name,
		Sequence:   e.seq,
		Status:     types.InstanceStatusSkipped,
		StartTime:  t,
		EndTime:    t,
		Message:    "previous instance " + e.running.instanceID + " still running",
	})
	metrics.InstancesTotal.WithLabelValues(string(types.InstanceStatusSkipped)).Inc()
}

func (s *LocalScheduler) fireLocked(e *entry, now time.Time) {
	if s.stopped {
		return
	}
	policy, err := s.store.GetPolicyByID(e.policyID)
	if err != nil {
		s.logger.Error().Err(err).Str("policy_id", e.policyID).Msg("Scheduled policy not found, removing")
		delete(s.entries, e.policyID)
		return
	}

	e.seq++
	e.nextRun = e.nextAfter(now.Add(time.Nanosecond))

	instance := &types.PolicyInstance{
		InstanceID: storage.InstanceID(e.policyID, e.seq),
		PolicyID:   e.policyID,
		Name:       policy.Name,
		Sequence:   e.seq,
		Status:     types.InstanceStatusRunning,
		Jobs:       resetJobs(nil, e.jobs, 0),
		StartTime:  now.UTC(),
	}
	s.startLocked(e, policy, instance, 0)
}

func (s *LocalScheduler) startLocked(e *entry, policy *types.ReplicationPolicy, instance *types.PolicyInstance, offset int) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &execution{
		instanceID: instance.InstanceID,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	e.running = exec

	s.persist(instance)
	s.logger.Info().
		Str("policy", policy.Name).
		Str("instance_id", instance.InstanceID).
		Int("offset", offset).
		Msg("Starting policy instance")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(exec.done)
		defer cancel()

		s.execute(ctx, policy, instance, offset)

		s.mu.Lock()
		if cur, ok := s.entries[e.policyID]; ok && cur.running == exec {
			cur.running = nil
		}
		s.mu.Unlock()

		if s.listener != nil {
			s.listener.InstanceCompleted(instance)
		}
	}()
}

// execute runs the jobs of instance from offset in order
func (s *LocalScheduler) execute(ctx context.Context, policy *types.ReplicationPolicy, instance *types.PolicyInstance, offset int) {
	logger := log.WithPolicy(s.logger, policy.Name, policy.PolicyID).With().Str("instance_id", instance.InstanceID).Logger()

	status := types.InstanceStatusSucceeded
	for i := offset; i < len(instance.Jobs); i++ {
		rec := &instance.Jobs[i]
		instance.CurrentOffset = i
		rec.Status = types.InstanceStatusRunning
		rec.StartTime = s.now().UTC()
		rec.EndTime = time.Time{}
		rec.Message = ""
		s.persist(instance)

		timer := metrics.NewTimer()
		err := s.runWithRetry(ctx, policy, instance, rec)
		timer.ObserveDurationVec(metrics.JobDuration, rec.Type)
		rec.EndTime = s.now().UTC()

		switch {
		case ctx.Err() != nil:
			rec.Status = types.InstanceStatusKilled
			rec.Message = "aborted"
			status = types.InstanceStatusKilled
		case err != nil:
			rec.Status = types.InstanceStatusFailed
			rec.Message = err.Error()
			status = types.InstanceStatusFailed
			logger.Warn().Err(err).Str("job", rec.Type).Msg("Job failed")
		default:
			rec.Status = types.InstanceStatusSucceeded
			continue
		}
		instance.Message = rec.Message
		break
	}

	if status == types.InstanceStatusSucceeded {
		instance.CurrentOffset = len(instance.Jobs)
	}
	instance.Status = status
	instance.EndTime = s.now().UTC()
	s.persist(instance)

	metrics.InstancesTotal.WithLabelValues(string(status)).Inc()
	logger.Info().Str("status", string(status)).Msg("Policy instance finished")
}

func (s *LocalScheduler) runWithRetry(ctx context.Context, policy *types.ReplicationPolicy, instance *types.PolicyInstance, rec *types.InstanceJob) error {
	job := Job{
		Type:       rec.Type,
		Offset:     rec.Offset,
		InstanceID: instance.InstanceID,
		Policy:     policy,
	}
	delay := time.Duration(policy.Retry.DelaySec) * time.Second

	for {
		err := s.runner.Run(ctx, job)
		if err == nil || ctx.Err() != nil || rec.RetryAttempted >= policy.Retry.Attempts {
			return err
		}
		rec.RetryAttempted++
		s.persist(instance)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// persist writes instance unless the policy has been retired meanwhile
func (s *LocalScheduler) persist(instance *types.PolicyInstance) {
	if stored, err := s.store.GetInstance(instance.InstanceID); err == nil && !stored.RetirementTime.IsZero() {
		return
	}

	tx := s.store.Begin()
	defer tx.Rollback()
	tx.PutInstance(instance)
	if err := tx.Commit(); err != nil {
		s.logger.Error().Err(err).Str("instance_id", instance.InstanceID).Msg("Failed to persist instance")
	}
}

func (s *LocalScheduler) complete(e *entry) {
	status, err := s.completionStatus(e.policyID)
	if err != nil {
		s.logger.Error().Err(err).Str("policy_id", e.policyID).Msg("Failed to compute completion status")
		return
	}

	if s.listener != nil {
		if err := s.listener.PolicyCompleted(e.policyID, status); err != nil {
			s.logger.Warn().Err(err).Str("policy_id", e.policyID).Msg("Policy completion not accepted, retrying")
			return
		}
	}

	s.mu.Lock()
	if cur, ok := s.entries[e.policyID]; ok && cur == e {
		delete(s.entries, e.policyID)
	}
	s.mu.Unlock()

	s.logger.Info().Str("policy_id", e.policyID).Str("status", string(status)).Msg("Policy completed")
}

// completionStatus derives the final policy status from its instances
func (s *LocalScheduler) completionStatus(policyID string) (types.PolicyStatus, error) {
	instances, err := s.store.ListInstances(policyID)
	if err != nil {
		return "", err
	}
	return CompletionStatus(instances), nil
}

// CompletionStatus derives the final policy status from its instances
func CompletionStatus(instances []*types.PolicyInstance) types.PolicyStatus {
	if len(instances) == 0 {
		return types.PolicyStatusSucceeded
	}
	if instances[len(instances)-1].Status == types.InstanceStatusKilled {
		return types.PolicyStatusKilled
	}

	var failed, skipped bool
	for _, inst := range instances {
		switch inst.Status {
		case types.InstanceStatusFailed, types.InstanceStatusKilled:
			failed = true
		case types.InstanceStatusSkipped:
			skipped = true
		}
	}

	switch {
	case failed && skipped:
		return types.PolicyStatusFailedWithSkipped
	case failed:
		return types.PolicyStatusFailed
	case skipped:
		return types.PolicyStatusSucceededWithSkipped
	}
	return types.PolicyStatusSucceeded
}

// Scheduled reports whether the policy is armed
func (s *LocalScheduler) Scheduled(policyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[policyID]
	return ok
}

// ErrNotScheduled is returned by Trigger for unknown policies
var ErrNotScheduled = errors.New("policy not scheduled")

// Trigger makes the policy due immediately
func (s *LocalScheduler) Trigger(policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[policyID]
	if !ok {
		return ErrNotScheduled
	}
	e.nextRun = s.now()
	return nil
}
