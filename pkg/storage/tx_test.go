package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/types"
)

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	store := newTestStore(t)

	tx := store.Begin()
	tx.PutCluster(&types.Cluster{Name: "dc1"})
	tx.AddEvent(&types.Event{Type: types.EventClusterSubmitted})
	assert.Equal(t, 2, tx.Len())
	tx.Rollback()

	_, err := store.GetCluster("dc1")
	assert.True(t, errdefs.Is(err, errdefs.NotFound))

	_, total, err := store.QueryEvents(ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestCommitIsAtomic(t *testing.T) {
	store := newTestStore(t)

	tx := store.Begin()
	tx.PutCluster(&types.Cluster{Name: "dc1"})
	tx.MutateCluster("missing", func(c *types.Cluster) error { return nil })

	err := tx.Commit()
	assert.True(t, errdefs.Is(err, errdefs.NotFound))

	_, err = store.GetCluster("dc1")
	assert.True(t, errdefs.Is(err, errdefs.NotFound), "first write must not survive a failed commit")
}

func TestCommitTwiceFails(t *testing.T) {
	store := newTestStore(t)

	tx := store.Begin()
	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), ErrTxClosed)

	// Rollback after commit is harmless
	tx.Rollback()
}

func TestAfterCommitRunsOnlyOnSuccess(t *testing.T) {
	store := newTestStore(t)

	ran := false
	tx := store.Begin()
	tx.AfterCommit(func() { ran = true })
	tx.Rollback()
	assert.False(t, ran)

	event := &types.Event{Type: types.EventPolicySubmitted}
	tx = store.Begin()
	tx.AddEvent(event)
	tx.AfterCommit(func() { ran = true })
	require.NoError(t, tx.Commit())
	assert.True(t, ran)
	assert.Equal(t, int64(1), event.ID)
}

func TestPutSnapshotsValue(t *testing.T) {
	store := newTestStore(t)

	cluster := &types.Cluster{Name: "dc1", Description: "before"}
	tx := store.Begin()
	tx.PutCluster(cluster)
	cluster.Description = "after"
	require.NoError(t, tx.Commit())

	got, err := store.GetCluster("dc1")
	require.NoError(t, err)
	assert.Equal(t, "before", got.Description)
}

func TestMutateClusterComposes(t *testing.T) {
	store := newTestStore(t)
	commit(t, store, func(tx *Tx) {
		tx.PutCluster(&types.Cluster{Name: "dc1", Peers: map[string]types.PairStatus{}})
	})

	// Two independent transactions staged from the same snapshot both apply
	tx1 := store.Begin()
	tx1.MutateCluster("dc1", func(c *types.Cluster) error {
		c.SetPeer("dc2", types.PairStatusPaired)
		return nil
	})
	tx2 := store.Begin()
	tx2.MutateCluster("dc1", func(c *types.Cluster) error {
		c.SetPeer("dc3", types.PairStatusPaired)
		return nil
	})
	require.NoError(t, tx1.Commit())
	require.NoError(t, tx2.Commit())

	got, err := store.GetCluster("dc1")
	require.NoError(t, err)
	assert.Len(t, got.Peers, 2)
}

func TestMutateClusterErrorAborts(t *testing.T) {
	store := newTestStore(t)
	commit(t, store, func(tx *Tx) { tx.PutCluster(&types.Cluster{Name: "dc1"}) })

	boom := errors.New("boom")
	tx := store.Begin()
	tx.MutateCluster("dc1", func(c *types.Cluster) error {
		c.Description = "changed"
		return boom
	})
	assert.ErrorIs(t, tx.Commit(), boom)

	got, err := store.GetCluster("dc1")
	require.NoError(t, err)
	assert.Empty(t, got.Description)
}

func TestRetireInstancesSharesTimestamp(t *testing.T) {
	store := newTestStore(t)
	policyID := "/dc1/fs/1"

	commit(t, store, func(tx *Tx) {
		tx.PutInstance(&types.PolicyInstance{
			InstanceID: InstanceID(policyID, 1), PolicyID: policyID, Sequence: 1,
			Status: types.InstanceStatusSucceeded,
			Jobs:   []types.InstanceJob{{Offset: 0, Type: "FS"}},
		})
		tx.PutInstance(&types.PolicyInstance{
			InstanceID: InstanceID(policyID, 2), PolicyID: policyID, Sequence: 2,
			Status: types.InstanceStatusRunning,
			Jobs:   []types.InstanceJob{{Offset: 0, Type: "FS"}},
		})
	})

	at := time.Now().UTC().Truncate(time.Millisecond)
	commit(t, store, func(tx *Tx) { tx.RetireInstances(policyID, at) })

	instances, err := store.ListInstances(policyID)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	for _, inst := range instances {
		assert.True(t, inst.RetirementTime.Equal(at))
		for _, job := range inst.Jobs {
			assert.True(t, job.RetirementTime.Equal(at))
		}
	}
	assert.Equal(t, types.InstanceStatusKilled, instances[1].Status)
	assert.Equal(t, types.InstanceStatusSucceeded, instances[0].Status)
}

func statusJob(name string, status types.PolicyStatus) *types.HousekeepingJob {
	job := &types.HousekeepingJob{Op: types.OpSyncStatus, RemoteCluster: "dc2", Name: name, Status: status}
	job.Key = job.JobKey()
	return job
}

func TestScheduleHousekeeping(t *testing.T) {
	store := newTestStore(t)
	sameTarget := func(job *types.HousekeepingJob) func(*types.HousekeepingJob) bool {
		return func(existing *types.HousekeepingJob) bool { return existing.TargetKey() == job.TargetKey() }
	}

	running := statusJob("fs", types.PolicyStatusRunning)
	commit(t, store, func(tx *Tx) { tx.ScheduleHousekeeping(running, sameTarget(running)) })

	// Same key is deduplicated
	dup := statusJob("fs", types.PolicyStatusRunning)
	dup.Attempts = 5
	commit(t, store, func(tx *Tx) { tx.ScheduleHousekeeping(dup, sameTarget(dup)) })

	jobs, err := store.ListHousekeepingJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 0, jobs[0].Attempts)

	// A newer status supersedes the older one
	suspended := statusJob("fs", types.PolicyStatusSuspended)
	commit(t, store, func(tx *Tx) { tx.ScheduleHousekeeping(suspended, sameTarget(suspended)) })

	jobs, err = store.ListHousekeepingJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.PolicyStatusSuspended, jobs[0].Status)

	commit(t, store, func(tx *Tx) {
		tx.CancelHousekeeping(func(j *types.HousekeepingJob) bool { return j.Name == "fs" })
	})
	jobs, err = store.ListHousekeepingJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestUpdateHousekeepingJobIsConditional(t *testing.T) {
	store := newTestStore(t)

	job := statusJob("fs", types.PolicyStatusRunning)
	commit(t, store, func(tx *Tx) { tx.UpdateHousekeepingJob(job) })

	_, err := store.GetHousekeepingJob(job.Key)
	assert.True(t, errdefs.Is(err, errdefs.NotFound), "update must not resurrect a cancelled job")

	commit(t, store, func(tx *Tx) { tx.PutHousekeepingJob(job) })
	job.Attempts = 2
	commit(t, store, func(tx *Tx) { tx.UpdateHousekeepingJob(job) })

	got, err := store.GetHousekeepingJob(job.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
}
