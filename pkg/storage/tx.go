package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/types"
)

// ErrTxClosed is returned when a committed or rolled back Tx is reused
var ErrTxClosed = errors.New("transaction already closed")

// Tx is a unit of work. Mutations are buffered and applied in a single bolt
// write transaction at Commit, so callers can perform remote calls between
// staging a change and committing it without holding the database writer.
// Rollback discards the buffer. A Tx is not safe for concurrent use.
type Tx struct {
	db          *bolt.DB
	ops         []func(*bolt.Tx) error
	afterCommit []func()
	err         error
	done        bool
}

func newTx(db *bolt.DB) *Tx {
	return &Tx{db: db}
}

func (t *Tx) stage(op func(*bolt.Tx) error) {
	if t.done {
		t.err = ErrTxClosed
		return
	}
	t.ops = append(t.ops, op)
}

// stagePut marshals v now so later changes by the caller are not persisted
func (t *Tx) stagePut(bucket, key []byte, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		if t.err == nil {
			t.err = err
		}
		return
	}
	t.stage(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

// Len returns the number of staged operations
func (t *Tx) Len() int {
	return len(t.ops)
}

// AfterCommit registers fn to run once the transaction has committed
func (t *Tx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// Commit applies every staged operation atomically
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true

	if t.err != nil {
		return t.err
	}

	if len(t.ops) > 0 {
		err := t.db.Update(func(tx *bolt.Tx) error {
			for _, op := range t.ops {
				if err := op(tx); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	for _, fn := range t.afterCommit {
		fn()
	}
	return nil
}

// Rollback discards staged operations. Calling it after Commit is a no-op.
func (t *Tx) Rollback() {
	t.done = true
	t.ops = nil
	t.afterCommit = nil
}

// Cluster mutations

func (t *Tx) PutCluster(cluster *types.Cluster) {
	t.stagePut(bucketClusters, []byte(cluster.Name), cluster)
}

func (t *Tx) DeleteCluster(name string) {
	t.stage(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClusters).Delete([]byte(name))
	})
}

// MutateCluster applies fn to the committed cluster inside the write
// transaction, so concurrent pairing changes to the same entity compose
func (t *Tx) MutateCluster(name string, fn func(*types.Cluster) error) {
	t.stage(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		var cluster types.Cluster
		found, err := getJSON(b, []byte(name), &cluster)
		if err != nil {
			return err
		}
		if !found {
			return errdefs.NotFoundf("cluster not found: %s", name)
		}
		if err := fn(&cluster); err != nil {
			return err
		}
		return putJSON(b, []byte(name), &cluster)
	})
}

// Policy mutations

func (t *Tx) PutPolicy(policy *types.ReplicationPolicy) {
	t.stagePut(bucketPolicies, []byte(policy.PolicyID), policy)
}

// Instance mutations

func (t *Tx) PutInstance(instance *types.PolicyInstance) {
	t.stagePut(bucketInstances, instanceKey(instance.PolicyID, instance.Sequence), instance)
}

// RetireInstances stamps every instance of a policy and its jobs with the
// same retirement time. Instances still running are marked killed.
func (t *Tx) RetireInstances(policyID string, at time.Time) {
	t.stage(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		var keys [][]byte
		var updated []*types.PolicyInstance

		err := forEachInstance(tx, policyID, func(k []byte, inst *types.PolicyInstance) error {
			if inst.Status == types.InstanceStatusRunning {
				inst.Status = types.InstanceStatusKilled
				inst.EndTime = at
				inst.Message = "policy deleted"
			}
			inst.RetirementTime = at
			for i := range inst.Jobs {
				inst.Jobs[i].RetirementTime = at
			}
			keys = append(keys, append([]byte(nil), k...))
			updated = append(updated, inst)
			return nil
		})
		if err != nil {
			return err
		}

		for i, k := range keys {
			if err := putJSON(b, k, updated[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Event mutations

// AddEvent appends an event; its ID is assigned when the transaction commits
func (t *Tx) AddEvent(event *types.Event) {
	t.stage(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		event.ID = int64(seq)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return putJSON(b, key, event)
	})
}

// Housekeeping mutations

func (t *Tx) PutHousekeepingJob(job *types.HousekeepingJob) {
	t.stagePut(bucketHousekeeping, []byte(job.Key), job)
}

func (t *Tx) DeleteHousekeepingJob(key string) {
	t.stage(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHousekeeping).Delete([]byte(key))
	})
}

// UpdateHousekeepingJob rewrites a job only if it is still pending
func (t *Tx) UpdateHousekeepingJob(job *types.HousekeepingJob) {
	data, err := json.Marshal(job)
	if err != nil {
		t.err = err
		return
	}
	t.stage(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHousekeeping)
		if b.Get([]byte(job.Key)) == nil {
			return nil
		}
		return b.Put([]byte(job.Key), data)
	})
}

// ScheduleHousekeeping inserts job unless a job with the same key is already
// pending. Pending jobs matched by supersedes are removed first.
func (t *Tx) ScheduleHousekeeping(job *types.HousekeepingJob, supersedes func(existing *types.HousekeepingJob) bool) {
	data, err := json.Marshal(job)
	if err != nil {
		t.err = err
		return
	}
	t.stage(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHousekeeping)
		if b.Get([]byte(job.Key)) != nil {
			return nil
		}
		if supersedes != nil {
			if err := deleteMatching(b, supersedes); err != nil {
				return err
			}
		}
		return b.Put([]byte(job.Key), data)
	})
}

// CancelHousekeeping removes every pending job matched by match
func (t *Tx) CancelHousekeeping(match func(*types.HousekeepingJob) bool) {
	t.stage(func(tx *bolt.Tx) error {
		return deleteMatching(tx.Bucket(bucketHousekeeping), match)
	})
}

func deleteMatching(b *bolt.Bucket, match func(*types.HousekeepingJob) bool) error {
	var keys [][]byte
	err := b.ForEach(func(k, v []byte) error {
		var job types.HousekeepingJob
		if err := json.Unmarshal(v, &job); err != nil {
			return err
		}
		if match(&job) {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
