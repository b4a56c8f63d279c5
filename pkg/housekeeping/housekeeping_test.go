package housekeeping

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/lock"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

type fakePeer struct {
	mu    sync.Mutex
	err   error
	calls []string

	// when set, calls signal entered and wait for release
	entered chan struct{}
	release chan struct{}
}

func (p *fakePeer) call(c string) error {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	err, entered, release := p.err, p.entered, p.release
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return err
}

func (p *fakePeer) SyncPolicyStatus(ctx context.Context, name string, status types.PolicyStatus, isInternal bool) error {
	return p.call("status:" + name + ":" + string(status))
}

func (p *fakePeer) SyncDeletePolicy(ctx context.Context, name, policyID string) error {
	c := "delete:" + name
	if policyID != "" {
		c += ":" + policyID
	}
	return p.call(c)
}

func (p *fakePeer) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePeer) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

var errUnreachable = &client.Error{Op: "sync_status", Err: errors.New("connection refused")}

var dc2 = &types.Cluster{Name: "dc2", BeaconEndpoint: "http://dc2:25968"}

func newTestService(t *testing.T, peer *fakePeer) (*Service, *storage.BoltStore) {
	t.Helper()
	svc, store, _ := newLockedService(t, peer)
	return svc, store
}

func newLockedService(t *testing.T, peer *fakePeer) (*Service, *storage.BoltStore, *lock.Table) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	locks := lock.NewTable()
	recorder := events.NewRecorder(store, nil)
	svc := NewService(store, recorder, locks, func(string) Peer { return peer }, Config{
		Interval:    time.Hour,
		Frequency:   time.Minute,
		MaxAttempts: 3,
	})
	return svc, store, locks
}

func dispatch(t *testing.T, svc *Service, store *storage.BoltStore, job *types.HousekeepingJob) {
	t.Helper()
	tx := store.Begin()
	svc.Dispatch(context.Background(), tx, job)
	require.NoError(t, tx.Commit())
}

func pending(t *testing.T, store *storage.BoltStore) []*types.HousekeepingJob {
	t.Helper()
	jobs, err := store.ListHousekeepingJobs()
	require.NoError(t, err)
	return jobs
}

// advance moves the service clock past the next attempt of every job
func advance(svc *Service, d time.Duration) {
	now := svc.now()
	svc.now = func() time.Time { return now.Add(d) }
}

func TestDispatchFailureSchedulesOnce(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))
	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))

	jobs := pending(t, store)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.OpSyncStatus, jobs[0].Op)
	assert.Equal(t, types.PolicyStatusRunning, jobs[0].Status)
	assert.Contains(t, jobs[0].LastError, "connection refused")
	assert.Len(t, peer.calls, 2)
}

func TestDispatchSuccessCancelsPending(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))
	require.Len(t, pending(t, store), 1)

	peer.fail(nil)
	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusSuspended))
	assert.Empty(t, pending(t, store))
}

func TestDispatchRejectedIsNotScheduled(t *testing.T) {
	peer := &fakePeer{err: &client.Error{Op: "sync_status", StatusCode: http.StatusBadRequest, Message: "invalid status"}}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))
	assert.Empty(t, pending(t, store))
}

func TestNewerStatusSupersedesOlder(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))
	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusSuspended))
	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "other", types.PolicyStatusRunning))

	jobs := pending(t, store)
	require.Len(t, jobs, 2)
	byName := map[string]*types.HousekeepingJob{}
	for _, j := range jobs {
		byName[j.Name] = j
	}
	assert.Equal(t, types.PolicyStatusSuspended, byName["fs"].Status)
	assert.Equal(t, types.PolicyStatusRunning, byName["other"].Status)
}

func TestDeleteSupersedesStatusSyncs(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusSuspended))
	dispatch(t, svc, store, svc.NewJob(types.OpDeletePolicy, dc2, "fs", ""))

	jobs := pending(t, store)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.OpDeletePolicy, jobs[0].Op)
}

func TestDrainSkipsJobsNotDue(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))
	peer.calls = nil

	require.NoError(t, svc.Drain(context.Background()))
	assert.Empty(t, peer.calls)
	assert.Len(t, pending(t, store), 1)
}

func TestDrainDeletesOnSuccess(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpDeletePolicy, dc2, "fs", ""))
	peer.fail(nil)
	advance(svc, 2*time.Minute)

	require.NoError(t, svc.Drain(context.Background()))
	assert.Empty(t, pending(t, store))
	assert.Equal(t, "delete:fs", peer.calls[len(peer.calls)-1])
}

func TestDrainDeletesOnRejection(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))
	peer.fail(&client.Error{Op: "sync_status", StatusCode: http.StatusNotFound, Message: "policy not found: fs"})
	advance(svc, 2*time.Minute)

	require.NoError(t, svc.Drain(context.Background()))
	assert.Empty(t, pending(t, store))
}

func TestDrainReschedulesThenAbandons(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))

	advance(svc, 2*time.Minute)
	require.NoError(t, svc.Drain(context.Background()))
	jobs := pending(t, store)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.WithinDuration(t, svc.now().Add(time.Minute), jobs[0].NextAttemptAt, time.Millisecond)

	advance(svc, 2*time.Minute)
	require.NoError(t, svc.Drain(context.Background()))
	require.Len(t, pending(t, store), 1)

	advance(svc, 2*time.Minute)
	require.NoError(t, svc.Drain(context.Background()))
	assert.Empty(t, pending(t, store))

	list, total, err := store.QueryEvents(storage.ListOptions{
		FilterBy: map[string][]string{"eventType": {string(types.EventSyncAbandoned)}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, types.SeverityError, list[0].Severity)
	assert.Contains(t, list[0].Message, "after 3 attempts")
}

func TestReplayUsesCurrentClusterEndpoint(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	var resolved []string
	svc := NewService(store, nil, nil, func(endpoint string) Peer {
		resolved = append(resolved, endpoint)
		return peer
	}, Config{Frequency: time.Minute, MaxAttempts: 3})

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))

	tx := store.Begin()
	tx.PutCluster(&types.Cluster{Name: "dc2", BeaconEndpoint: "http://dc2-new:25968"})
	require.NoError(t, tx.Commit())

	advance(svc, 2*time.Minute)
	require.NoError(t, svc.Drain(context.Background()))
	assert.Equal(t, []string{"http://dc2:25968", "http://dc2-new:25968"}, resolved)
}

func TestDispatchConflictSchedulesRetry(t *testing.T) {
	peer := &fakePeer{err: &client.Error{Op: "sync_status", StatusCode: http.StatusConflict, Message: "delete already in progress on policy:fs"}}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusSuspended))

	jobs := pending(t, store)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.PolicyStatusSuspended, jobs[0].Status)
	assert.Contains(t, jobs[0].LastError, "HTTP 409")
}

func TestDrainKeepsRetryingConflicts(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpDeletePolicy, dc2, "fs", ""))
	peer.fail(&client.Error{Op: "delete_policy", StatusCode: http.StatusConflict, Message: "busy"})
	advance(svc, 2*time.Minute)

	require.NoError(t, svc.Drain(context.Background()))
	jobs := pending(t, store)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempts)
}

func TestDrainSkipsBusyPolicy(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store, locks := newLockedService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusSuspended))
	peer.calls = nil
	peer.fail(nil)
	advance(svc, 2*time.Minute)

	require.NoError(t, locks.TryAcquire(lock.PolicyKey("fs"), "resume"))
	require.NoError(t, svc.Drain(context.Background()))
	assert.Empty(t, peer.recorded())
	jobs := pending(t, store)
	require.Len(t, jobs, 1)
	assert.Equal(t, 0, jobs[0].Attempts)

	// the resume reaches the peer and supersedes the stale status
	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))
	locks.Release(lock.PolicyKey("fs"))

	require.NoError(t, svc.Drain(context.Background()))
	assert.Equal(t, []string{"status:fs:RUNNING"}, peer.recorded())
	assert.Empty(t, pending(t, store))
}

func TestReplayHoldsPolicyLock(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store, locks := newLockedService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusSuspended))
	peer.mu.Lock()
	peer.err = nil
	peer.entered = make(chan struct{})
	peer.release = make(chan struct{})
	peer.mu.Unlock()
	advance(svc, 2*time.Minute)

	done := make(chan error, 1)
	go func() { done <- svc.Drain(context.Background()) }()

	<-peer.entered
	err := locks.TryAcquire(lock.PolicyKey("fs"), "resume")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "housekeeping already in progress")
	close(peer.release)

	require.NoError(t, <-done)
	assert.Empty(t, pending(t, store))
	require.NoError(t, locks.TryAcquire(lock.PolicyKey("fs"), "resume"))
}

func TestReplaySkipsCancelledJob(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusSuspended))
	listed := pending(t, store)
	require.Len(t, listed, 1)

	peer.fail(nil)
	dispatch(t, svc, store, svc.NewJob(types.OpSyncStatus, dc2, "fs", types.PolicyStatusRunning))
	peer.calls = nil

	require.NoError(t, svc.replay(context.Background(), listed[0]))
	assert.Empty(t, peer.recorded())
}

func TestDeleteJobsAreScopedToGeneration(t *testing.T) {
	peer := &fakePeer{err: errUnreachable}
	svc, store := newTestService(t, peer)

	old := &types.ReplicationPolicy{Name: "fs", PolicyID: "/east/dc1/fs/1", Status: types.PolicyStatusDeleted}
	dispatch(t, svc, store, svc.NewPolicyJob(types.OpDeletePolicy, dc2, old))

	current := &types.ReplicationPolicy{Name: "fs", PolicyID: "/east/dc1/fs/2", Status: types.PolicyStatusDeleted}
	dispatch(t, svc, store, svc.NewPolicyJob(types.OpDeletePolicy, dc2, current))

	jobs := pending(t, store)
	require.Len(t, jobs, 1)
	assert.Equal(t, "/east/dc1/fs/2", jobs[0].PolicyID)

	peer.fail(nil)
	advance(svc, 2*time.Minute)
	require.NoError(t, svc.Drain(context.Background()))
	assert.Equal(t, "delete:fs:/east/dc1/fs/2", peer.calls[len(peer.calls)-1])
}
