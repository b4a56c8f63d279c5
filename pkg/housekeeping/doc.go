/*
Package housekeeping retries peer synchronizations that failed while a
request was being served.

A status change or delete is first sent to the peer synchronously by
Dispatch. When the peer cannot be reached the request still succeeds and a
HousekeepingJob is staged in the same transaction as the state change, so the
retry exists if and only if the change committed. A background loop replays
due jobs every interval:

	success          -> job deleted
	peer answers 4xx -> job deleted (retrying the same call cannot succeed)
	409, 429         -> retried like any other failure
	other failure    -> attempts+1, next attempt at now+frequency
	maxAttempts hit  -> job deleted, SYNC_ABANDONED event recorded

A replay holds the policy key of the shared lock table, so it never runs
while a lifecycle change of the same policy is in flight. A busy policy is
skipped until the next cycle, and a job cancelled since the cycle listed it
is not replayed.

Jobs are keyed by operation, peer, policy name and id, and (for status
syncs) the desired status. A newer status sync replaces older ones for the
same policy and peer; a delete replaces everything pending for the policy.
Deletes carry the policyId, so a late delete of an earlier generation never
removes a resubmitted policy on the peer.
*/
package housekeeping
