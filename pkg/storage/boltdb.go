package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/types"
)

var (
	// Bucket names
	bucketClusters     = []byte("clusters")
	bucketPolicies     = []byte("policies")
	bucketInstances    = []byte("instances")
	bucketEvents       = []byte("events")
	bucketHousekeeping = []byte("housekeeping")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "beacon.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketClusters,
			bucketPolicies,
			bucketInstances,
			bucketEvents,
			bucketHousekeeping,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Begin starts a unit-of-work transaction
func (s *BoltStore) Begin() *Tx {
	return newTx(s.db)
}

// InstanceID formats the id of the seq-th instance of a policy
func InstanceID(policyID string, seq int) string {
	return policyID + "@" + strconv.Itoa(seq)
}

// ParseInstanceID splits an instance id into policy id and sequence
func ParseInstanceID(instanceID string) (string, int, error) {
	i := strings.LastIndex(instanceID, "@")
	if i <= 0 {
		return "", 0, errdefs.Invalidf("invalid instance id: %s", instanceID)
	}
	seq, err := strconv.Atoi(instanceID[i+1:])
	if err != nil {
		return "", 0, errdefs.Invalidf("invalid instance id: %s", instanceID)
	}
	return instanceID[:i], seq, nil
}

// instanceKey orders instances of a policy by sequence
func instanceKey(policyID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s@%010d", policyID, seq))
}

func instancePrefix(policyID string) []byte {
	return []byte(policyID + "@")
}

func getJSON(b *bolt.Bucket, key []byte, out interface{}) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// Cluster operations

func (s *BoltStore) GetCluster(name string) (*types.Cluster, error) {
	var cluster types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketClusters), []byte(name), &cluster)
		if err != nil {
			return err
		}
		if !found {
			return errdefs.NotFoundf("cluster not found: %s", name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cluster, nil
}

func (s *BoltStore) GetLocalCluster() (*types.Cluster, error) {
	clusters, err := s.ListClusters()
	if err != nil {
		return nil, err
	}
	for _, c := range clusters {
		if c.Local {
			return c, nil
		}
	}
	return nil, errdefs.NotFoundf("local cluster is not submitted")
}

func (s *BoltStore) ListClusters() ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClusters).ForEach(func(k, v []byte) error {
			var cluster types.Cluster
			if err := json.Unmarshal(v, &cluster); err != nil {
				return err
			}
			clusters = append(clusters, &cluster)
			return nil
		})
	})
	return clusters, err
}

// Policy operations

func findActivePolicy(tx *bolt.Tx, name string) (*types.ReplicationPolicy, error) {
	var found *types.ReplicationPolicy
	err := tx.Bucket(bucketPolicies).ForEach(func(k, v []byte) error {
		var p types.ReplicationPolicy
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		if p.Name == name && p.RetirementTime.IsZero() {
			found = &p
		}
		return nil
	})
	return found, err
}

// GetPolicy returns the non-retired policy with the given name
func (s *BoltStore) GetPolicy(name string) (*types.ReplicationPolicy, error) {
	var policy *types.ReplicationPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		p, err := findActivePolicy(tx, name)
		if err != nil {
			return err
		}
		if p == nil {
			return errdefs.NotFoundf("policy not found: %s", name)
		}
		policy = p
		return nil
	})
	return policy, err
}

func (s *BoltStore) GetPolicyByID(policyID string) (*types.ReplicationPolicy, error) {
	var policy types.ReplicationPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketPolicies), []byte(policyID), &policy)
		if err != nil {
			return err
		}
		if !found {
			return errdefs.NotFoundf("policy not found: %s", policyID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// ListPolicies returns every stored policy, retired ones included
func (s *BoltStore) ListPolicies() ([]*types.ReplicationPolicy, error) {
	var policies []*types.ReplicationPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).ForEach(func(k, v []byte) error {
			var p types.ReplicationPolicy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			policies = append(policies, &p)
			return nil
		})
	})
	return policies, err
}

// Instance operations

func (s *BoltStore) GetInstance(instanceID string) (*types.PolicyInstance, error) {
	policyID, seq, err := ParseInstanceID(instanceID)
	if err != nil {
		return nil, err
	}

	var instance types.PolicyInstance
	err = s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketInstances), instanceKey(policyID, seq), &instance)
		if err != nil {
			return err
		}
		if !found {
			return errdefs.NotFoundf("instance not found: %s", instanceID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func forEachInstance(tx *bolt.Tx, policyID string, fn func(k []byte, inst *types.PolicyInstance) error) error {
	prefix := instancePrefix(policyID)
	c := tx.Bucket(bucketInstances).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var inst types.PolicyInstance
		if err := json.Unmarshal(v, &inst); err != nil {
			return err
		}
		if err := fn(k, &inst); err != nil {
			return err
		}
	}
	return nil
}

// ListInstances returns the instances of a policy ordered by sequence
func (s *BoltStore) ListInstances(policyID string) ([]*types.PolicyInstance, error) {
	var instances []*types.PolicyInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachInstance(tx, policyID, func(_ []byte, inst *types.PolicyInstance) error {
			instances = append(instances, inst)
			return nil
		})
	})
	return instances, err
}

// LatestInstance returns the highest-sequence instance of a policy
func (s *BoltStore) LatestInstance(policyID string) (*types.PolicyInstance, error) {
	instances, err := s.ListInstances(policyID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, errdefs.NotFoundf("no instances for policy %s", policyID)
	}
	return instances[len(instances)-1], nil
}

// Event operations

func (s *BoltStore) listEvents() ([]*types.Event, error) {
	var events []*types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(k, v []byte) error {
			var e types.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			events = append(events, &e)
			return nil
		})
	})
	return events, err
}

// Housekeeping operations

func (s *BoltStore) GetHousekeepingJob(key string) (*types.HousekeepingJob, error) {
	var job types.HousekeepingJob
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketHousekeeping), []byte(key), &job)
		if err != nil {
			return err
		}
		if !found {
			return errdefs.NotFoundf("housekeeping job not found: %s", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListHousekeepingJobs() ([]*types.HousekeepingJob, error) {
	var jobs []*types.HousekeepingJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHousekeeping).ForEach(func(k, v []byte) error {
			var job types.HousekeepingJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}
