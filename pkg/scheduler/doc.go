/*
Package scheduler runs the jobs of scheduled replication policies.

The policy orchestrator only depends on the Scheduler interface. LocalScheduler
is the in-process implementation used by the server: a ticker loop that fires
due policies, creates their instances and runs the instance jobs in order
through a Runner.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                 LocalScheduler loop (tick)                 │
	└────────────────┬───────────────────────────────────────────┘
	                 │ for each scheduled policy
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  end time passed, nothing running  -> Listener.PolicyCompleted
	│  suspended                         -> advance next run     │
	│  previous instance still running   -> SKIPPED instance     │
	│  due                               -> new <policyId>@<seq> │
	└────────────────┬───────────────────────────────────────────┘
	                 │ goroutine per instance
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  jobs[currentOffset:] -> Runner.Run (retry.attempts,       │
	│                          retry.delaySec)                   │
	│  instance persisted after every job                        │
	│  Listener.InstanceCompleted                                │
	└────────────────────────────────────────────────────────────┘

Runs are aligned to the policy start time: a policy with frequency F fires
at start, start+F, start+2F and so on. A start time in the past fires at once.

# Jobs

A policy's job list is built by the orchestrator: one "PLUGIN:<name>" job per
ACTIVE plugin, then the replication jobs of the execution type (see
ReplicationJobs). ExecRunner executes replication jobs with the command
configured for their type under scheduler.executors; the policy and instance
are described to the command through BEACON_* environment variables, and
custom properties become BEACON_PROP_<KEY>. Plugin jobs go through the plugin
registry.

# Abort and rerun

AbortInstance cancels the running instance's context and returns at once;
the instance ends KILLED. RerunPolicyInstance re-executes a finished instance
under the same id starting at the given offset, so jobs that already
succeeded are not repeated.

Scheduled policies live in memory. On start the manager re-arms every
RUNNING and SUSPENDED policy with isInternalRun set, which also fails any
instance a previous process left RUNNING.
*/
package scheduler
