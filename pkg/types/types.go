package types

import (
	"strings"
	"time"
)

// Cluster represents a Hadoop cluster registered with this Beacon server
type Cluster struct {
	Name             string                `json:"name"`
	Description      string                `json:"description,omitempty"`
	DataCenter       string                `json:"dataCenter,omitempty"`
	Local            bool                  `json:"local"`
	BeaconEndpoint   string                `json:"beaconEndpoint"`
	FsEndpoint       string                `json:"fsEndpoint,omitempty"`
	HsEndpoint       string                `json:"hsEndpoint,omitempty"`
	RangerEndpoint   string                `json:"rangerEndpoint,omitempty"`
	AtlasEndpoint    string                `json:"atlasEndpoint,omitempty"`
	Peers            map[string]PairStatus `json:"peers,omitempty"`
	CustomProperties map[string]string     `json:"customProperties,omitempty"`
	Tags             []string              `json:"tags,omitempty"`
	Version          int                   `json:"version"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// PairStatus is the state of a pairing as seen from one side
type PairStatus string

const (
	PairStatusPaired    PairStatus = "PAIRED"
	PairStatusSuspended PairStatus = "SUSPENDED"
	PairStatusUnpaired  PairStatus = "UNPAIRED"
)

// Well-known cluster custom properties
const (
	PropKerberosPrincipal = "dfs.namenode.kerberos.principal"
	PropRPCProtection     = "hadoop.rpc.protection"
	PropSnapshottable     = "source.snapshottable"
)

// IsSecure reports whether the cluster runs with Kerberos
func (c *Cluster) IsSecure() bool {
	return c.CustomProperties[PropKerberosPrincipal] != ""
}

// RPCProtection returns the configured hadoop RPC protection level
func (c *Cluster) RPCProtection() string {
	return c.CustomProperties[PropRPCProtection]
}

// PairStatusWith returns the pairing status with the named peer
func (c *Cluster) PairStatusWith(peer string) PairStatus {
	if s, ok := c.Peers[peer]; ok {
		return s
	}
	return PairStatusUnpaired
}

// SetPeer records the pairing status with peer
func (c *Cluster) SetPeer(peer string, status PairStatus) {
	if c.Peers == nil {
		c.Peers = make(map[string]PairStatus)
	}
	c.Peers[peer] = status
}

// RemovePeer forgets the pairing with peer
func (c *Cluster) RemovePeer(peer string) {
	delete(c.Peers, peer)
}

// Clone returns a deep copy so callers can work on an immutable snapshot
func (c *Cluster) Clone() *Cluster {
	out := *c
	out.Peers = make(map[string]PairStatus, len(c.Peers))
	for k, v := range c.Peers {
		out.Peers[k] = v
	}
	out.CustomProperties = make(map[string]string, len(c.CustomProperties))
	for k, v := range c.CustomProperties {
		out.CustomProperties[k] = v
	}
	out.Tags = append([]string(nil), c.Tags...)
	return &out
}

// ReplicationPolicy describes a scheduled replication between two datasets
type ReplicationPolicy struct {
	PolicyID         string            `json:"policyId"`
	Name             string            `json:"name"`
	Type             PolicyType        `json:"type"`
	ExecutionType    ExecutionType     `json:"executionType,omitempty"`
	Description      string            `json:"description,omitempty"`
	SourceCluster    string            `json:"sourceCluster"`
	TargetCluster    string            `json:"targetCluster,omitempty"`
	SourceDataset    string            `json:"sourceDataset"`
	TargetDataset    string            `json:"targetDataset,omitempty"`
	FrequencyInSec   int               `json:"frequencyInSec"`
	StartTime        time.Time         `json:"startTime"`
	EndTime          time.Time         `json:"endTime"`
	Status           PolicyStatus      `json:"status"`
	Retry            RetryPolicy       `json:"retry"`
	Notification     Notification      `json:"notification,omitempty"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Jobs             []string          `json:"jobs,omitempty"`
	User             string            `json:"user,omitempty"`
	CreatedAt        time.Time         `json:"creationTime"`
	LastModifiedAt   time.Time         `json:"lastModifiedTime"`
	RetirementTime   time.Time         `json:"retirementTime,omitempty"`
	Version          int               `json:"version"`
}

// PolicyType is the kind of data a policy replicates
type PolicyType string

const (
	PolicyTypeFS   PolicyType = "FS"
	PolicyTypeHive PolicyType = "HIVE"
)

// ExecutionType selects the replication strategy for a policy
type ExecutionType string

const (
	ExecutionFS         ExecutionType = "FS"
	ExecutionFSSnapshot ExecutionType = "FS_SNAPSHOT"
	ExecutionFSHCFS     ExecutionType = "FS_HCFS"
	ExecutionHive       ExecutionType = "HIVE"
)

// PolicyStatus is the lifecycle status of a policy
type PolicyStatus string

const (
	PolicyStatusSubmitted            PolicyStatus = "SUBMITTED"
	PolicyStatusRunning              PolicyStatus = "RUNNING"
	PolicyStatusSuspended            PolicyStatus = "SUSPENDED"
	PolicyStatusDeleted              PolicyStatus = "DELETED"
	PolicyStatusSucceeded            PolicyStatus = "SUCCEEDED"
	PolicyStatusSucceededWithSkipped PolicyStatus = "SUCCEEDEDWITHSKIPPED"
	PolicyStatusFailed               PolicyStatus = "FAILED"
	PolicyStatusFailedWithSkipped    PolicyStatus = "FAILEDWITHSKIPPED"
	PolicyStatusKilled               PolicyStatus = "KILLED"
)

// IsTerminal reports whether the status is a completion status
func (s PolicyStatus) IsTerminal() bool {
	switch s {
	case PolicyStatusSucceeded, PolicyStatusSucceededWithSkipped,
		PolicyStatusFailed, PolicyStatusFailedWithSkipped, PolicyStatusKilled:
		return true
	}
	return false
}

// IsActive reports whether a policy in this status still occupies its name
func (s PolicyStatus) IsActive() bool {
	switch s {
	case PolicyStatusSubmitted, PolicyStatusRunning, PolicyStatusSuspended:
		return true
	}
	return false
}

// ParsePolicyStatus validates a status string
func ParsePolicyStatus(s string) (PolicyStatus, bool) {
	st := PolicyStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case PolicyStatusSubmitted, PolicyStatusRunning, PolicyStatusSuspended, PolicyStatusDeleted:
		return st, true
	}
	return st, st.IsTerminal()
}

// RetryPolicy controls job retries inside an instance
type RetryPolicy struct {
	Attempts int `json:"attempts"`
	DelaySec int `json:"delaySec"`
}

// Notification holds where policy alerts are sent
type Notification struct {
	Type string `json:"type,omitempty"`
	To   string `json:"to,omitempty"`
}

// IsCloudDataset reports whether a dataset path points at a cloud store
func IsCloudDataset(path string) bool {
	for _, scheme := range []string{"s3://", "s3a://", "s3n://", "wasb://", "wasbs://", "gs://", "adl://", "abfs://", "abfss://"} {
		if strings.HasPrefix(strings.ToLower(path), scheme) {
			return true
		}
	}
	return false
}

// ExecutionCluster returns the cluster whose scheduler runs the policy.
// Cloud targets are pushed from the source side.
func (p *ReplicationPolicy) ExecutionCluster() string {
	if p.TargetCluster == "" || IsCloudDataset(p.TargetDataset) {
		return p.SourceCluster
	}
	return p.TargetCluster
}

// RemoteCluster returns the peer cluster of the policy relative to local,
// or "" when the policy does not span two clusters.
func (p *ReplicationPolicy) RemoteCluster(local string) string {
	switch {
	case p.TargetCluster == "" || p.SourceCluster == p.TargetCluster:
		return ""
	case p.SourceCluster == local:
		return p.TargetCluster
	case p.TargetCluster == local:
		return p.SourceCluster
	}
	return ""
}

// Between reports whether the policy replicates between clusters a and b
func (p *ReplicationPolicy) Between(a, b string) bool {
	return (p.SourceCluster == a && p.TargetCluster == b) ||
		(p.SourceCluster == b && p.TargetCluster == a)
}

// PolicyInstance is one scheduled execution of a policy
type PolicyInstance struct {
	InstanceID     string         `json:"instanceId"`
	PolicyID       string         `json:"policyId"`
	Name           string         `json:"name"`
	Sequence       int            `json:"sequence"`
	Status         InstanceStatus `json:"status"`
	CurrentOffset  int            `json:"currentOffset"`
	Jobs           []InstanceJob  `json:"jobs,omitempty"`
	StartTime      time.Time      `json:"startTime"`
	EndTime        time.Time      `json:"endTime,omitempty"`
	Message        string         `json:"message,omitempty"`
	RetirementTime time.Time      `json:"retirementTime,omitempty"`
}

// InstanceStatus is the status of a policy instance or one of its jobs
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "RUNNING"
	InstanceStatusSucceeded InstanceStatus = "SUCCEEDED"
	InstanceStatusFailed    InstanceStatus = "FAILED"
	InstanceStatusKilled    InstanceStatus = "KILLED"
	InstanceStatusSkipped   InstanceStatus = "SKIPPED"
)

// InstanceJob tracks one job of an instance
type InstanceJob struct {
	Offset         int            `json:"offset"`
	Type           string         `json:"type"`
	Status         InstanceStatus `json:"status"`
	StartTime      time.Time      `json:"startTime,omitempty"`
	EndTime        time.Time      `json:"endTime,omitempty"`
	Message        string         `json:"message,omitempty"`
	RetryAttempted int            `json:"retryAttempted,omitempty"`
	RetirementTime time.Time      `json:"retirementTime,omitempty"`
}

// Event is an immutable audit record of a lifecycle transition
type Event struct {
	ID         int64      `json:"eventId"`
	EntityType EntityType `json:"entityType"`
	Type       EventType  `json:"eventType"`
	EntityName string     `json:"entityName,omitempty"`
	PolicyID   string     `json:"policyId,omitempty"`
	InstanceID string     `json:"instanceId,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	SyncEvent  bool       `json:"syncEvent"`
}

// EntityType classifies what an event is about
type EntityType string

const (
	EntityCluster EntityType = "CLUSTER"
	EntityPolicy  EntityType = "POLICY"
	EntitySystem  EntityType = "SYSTEM"
)

// EventType names a lifecycle transition
type EventType string

const (
	EventClusterSubmitted     EventType = "CLUSTER_SUBMITTED"
	EventClusterUpdated       EventType = "CLUSTER_UPDATED"
	EventClusterDeleted       EventType = "CLUSTER_DELETED"
	EventClusterPaired        EventType = "CLUSTER_PAIRED"
	EventClusterUnpaired      EventType = "CLUSTER_UNPAIRED"
	EventClusterPairSuspended EventType = "CLUSTER_PAIRING_SUSPENDED"
	EventClusterPairRestored  EventType = "CLUSTER_PAIRING_RESTORED"
	EventPolicySubmitted      EventType = "POLICY_SUBMITTED"
	EventPolicyScheduled      EventType = "POLICY_SCHEDULED"
	EventPolicySuspended      EventType = "POLICY_SUSPENDED"
	EventPolicyResumed        EventType = "POLICY_RESUMED"
	EventPolicyDeleted        EventType = "POLICY_DELETED"
	EventPolicyStatusSynced   EventType = "POLICY_STATUS_SYNCED"
	EventPolicyCompleted      EventType = "POLICY_COMPLETED"
	EventInstanceAborted      EventType = "POLICY_INSTANCE_ABORTED"
	EventInstanceRerun        EventType = "POLICY_INSTANCE_RERUN"
	EventInstanceSucceeded    EventType = "POLICY_INSTANCE_SUCCEEDED"
	EventInstanceFailed       EventType = "POLICY_INSTANCE_FAILED"
	EventInstanceKilled       EventType = "POLICY_INSTANCE_KILLED"
	EventSyncAbandoned        EventType = "SYNC_ABANDONED"
	EventBeaconStarted        EventType = "BEACON_STARTED"
	EventBeaconStopped        EventType = "BEACON_STOPPED"
)

// Severity of an event
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// HousekeepingJob is a pending retry of a failed peer sync (outbox record)
type HousekeepingJob struct {
	Key           string         `json:"key"`
	Op            HousekeepingOp `json:"op"`
	RemoteCluster string         `json:"remoteCluster"`
	Endpoint      string         `json:"endpoint"`
	Name          string         `json:"name"`
	PolicyID      string         `json:"policyId,omitempty"`
	Status        PolicyStatus   `json:"status,omitempty"`
	Frequency     time.Duration  `json:"frequency"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"maxAttempts"`
	NextAttemptAt time.Time      `json:"nextAttemptAt"`
	LastError     string         `json:"lastError,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// HousekeepingOp is the remote operation a housekeeping job replays
type HousekeepingOp string

const (
	OpSyncStatus   HousekeepingOp = "SYNC_STATUS"
	OpDeletePolicy HousekeepingOp = "DELETE_POLICY"
)

// TargetKey identifies the remote target regardless of desired status.
// Jobs of different generations of a policy name have different targets.
func (j *HousekeepingJob) TargetKey() string {
	key := string(j.Op) + "|" + j.RemoteCluster + "|" + j.Name
	if j.PolicyID != "" {
		key += "|" + j.PolicyID
	}
	return key
}

// JobKey identifies the job including the desired status
func (j *HousekeepingJob) JobKey() string {
	if j.Op == OpSyncStatus {
		return j.TargetKey() + "|" + string(j.Status)
	}
	return j.TargetKey()
}
