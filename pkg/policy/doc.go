/*
Package policy drives the lifecycle of replication policies.

# State machine

	SUBMITTED ──schedule──► RUNNING ◄──resume── SUSPENDED
	    │                      │  └──suspend──────►  │
	    │                      │                     │
	    └──────delete──────────┴───────delete────────┴──► DELETED

When the scheduler reports that a policy's end time has passed, the policy
takes one of the completion statuses (SUCCEEDED, SUCCEEDEDWITHSKIPPED, FAILED,
FAILEDWITHSKIPPED, KILLED). A completed policy frees its name: submitting the
same name again retires the old copy and creates a policy with a new id.

# Two copies

A policy between two clusters is stored on both Beacon servers under the same
policy id. Submit sends the full definition to the peer and only commits when
the peer stored it. Later status changes and deletes are sent through the
housekeeping service: the local change always commits, and a failed call to
the peer is retried in the background until it succeeds.

Only the execution cluster (the target, or the source when the target is a
cloud store) schedules the policy, so schedule, suspend, resume, abort and
rerun are refused elsewhere.

Every operation holds the policy's entry in the lock table for its duration;
a second operation on the same policy fails at once with a conflict.
*/
package policy
