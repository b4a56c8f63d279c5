package storage

import (
	"github.com/cuemby/beacon/pkg/types"
)

// Store defines the persistence gateway for Beacon state. Reads see committed
// state; all writes go through a Tx obtained from Begin.
type Store interface {
	// Clusters
	GetCluster(name string) (*types.Cluster, error)
	GetLocalCluster() (*types.Cluster, error)
	ListClusters() ([]*types.Cluster, error)
	QueryClusters(opts ListOptions) ([]*types.Cluster, int, error)

	// Policies
	GetPolicy(name string) (*types.ReplicationPolicy, error)
	GetPolicyByID(policyID string) (*types.ReplicationPolicy, error)
	ListPolicies() ([]*types.ReplicationPolicy, error)
	QueryPolicies(opts ListOptions) ([]*types.ReplicationPolicy, int, error)

	// Instances
	GetInstance(instanceID string) (*types.PolicyInstance, error)
	ListInstances(policyID string) ([]*types.PolicyInstance, error)
	LatestInstance(policyID string) (*types.PolicyInstance, error)
	QueryInstances(policyID string, opts ListOptions) ([]*types.PolicyInstance, int, error)

	// Events
	QueryEvents(opts ListOptions) ([]*types.Event, int, error)

	// Housekeeping
	GetHousekeepingJob(key string) (*types.HousekeepingJob, error)
	ListHousekeepingJobs() ([]*types.HousekeepingJob, error)

	// Transactions
	Begin() *Tx

	// Utility
	Close() error
}
