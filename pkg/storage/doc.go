/*
Package storage persists Beacon state in an embedded bbolt database.

Everything a Beacon server knows lives in <data_dir>/beacon.db, one bucket
per entity, values encoded as JSON:

	┌──────────────────────── beacon.db ─────────────────────────┐
	│                                                              │
	│  clusters       name                → Cluster               │
	│  policies       policyId            → ReplicationPolicy     │
	│  instances      policyId@%010d seq  → PolicyInstance        │
	│  events         big endian sequence → Event                 │
	│  housekeeping   job key             → HousekeepingJob       │
	│                                                              │
	└──────────────────────────────────────────────────────────────┘

Instance keys are zero padded so a prefix scan over policyId@ returns the
runs of a policy in sequence order. Event keys come from the bucket
sequence, so events iterate in the order they were recorded.

Policies are keyed by policyId, so a name that was deleted and submitted
again has one record per incarnation. Retired records carry a retirement
time and GetPolicy by name returns the live one; the instances of a
retired policy stay under its old id.

# Reads

BoltStore reads run in their own bolt read transaction and never block
writers. The Query* methods add filtering, ordering and paging on top of
the plain List* methods:

	opts := storage.ListOptions{
		FilterBy:   map[string][]string{"status": {"RUNNING", "SUSPENDED"}},
		OrderBy:    "name",
		SortOrder:  "ASC",
		Offset:     0,
		NumResults: 10,
	}
	policies, total, err := store.QueryPolicies(opts)

total counts every match before paging, so an offset past the end yields
an empty page with the real total. Unknown filter or order fields are
rejected as Invalid.

# Writes

All writes go through a Tx, which buffers mutations and applies them in a
single bolt write transaction at Commit:

	tx := store.Begin()
	defer tx.Rollback()

	tx.PutPolicy(p)
	recorder.Record(tx, event)
	if err := peer.SyncPolicy(ctx, p); err != nil {
		return err // nothing was written
	}
	return tx.Commit()

Because nothing touches bolt before Commit, a caller can make a remote call
between staging and committing without holding the database writer lock,
and a failed remote call rolls back by simply not committing. Callbacks
registered with AfterCommit run only once the changes are durable; the
event recorder uses them to publish events to live subscribers.

Mutations that depend on the current record (MutateCluster,
RetireInstances, UpdateHousekeepingJob) read it inside the commit, so they
see writes committed by others after the Tx was started.
*/
package storage
