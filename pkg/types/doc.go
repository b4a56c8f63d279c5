/*
Package types defines the entities shared by every Beacon package and by
the REST API.

# Entities

Cluster is a Hadoop cluster known to this server. Exactly one cluster is
Local: the one the server runs on. Peers records the pairing status with
other clusters as seen from this cluster; pairing is symmetric, so the
remote cluster's record carries the same status for the local one.

ReplicationPolicy copies SourceDataset on SourceCluster to TargetDataset on
TargetCluster every FrequencyInSec between StartTime and EndTime. Both
paired servers hold a copy of a policy under the same PolicyID. The copy
on the execution cluster (the target, or the source when the target is a
cloud location) runs it.

	SUBMITTED ──schedule──► RUNNING ◄──resume── SUSPENDED
	    │                     │  └───suspend───►    │
	    │                     ▼                     │
	    │        SUCCEEDED / FAILED / KILLED ...    │
	    └──────────────► DELETED ◄──────────────────┘

PolicyInstance is one scheduled run of a policy, identified as
policyId@sequence. Its Jobs run in order and CurrentOffset is the job to
run next, which is where a rerun resumes.

Event is an append-only audit record. SyncEvent marks events recorded
while applying a change that originated on the peer.

HousekeepingJob is a peer synchronization that failed and waits for a
retry.

The list and result types in api.go are the REST response bodies.
*/
package types
