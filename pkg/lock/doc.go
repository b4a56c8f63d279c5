/*
Package lock implements the entity lock table that serializes mutations of
clusters and policies.

Every mutating command acquires the key of the entity it changes before it
reads state and releases it when the command finishes:

	if err := locks.TryAcquire(lock.PolicyKey(name), "schedule"); err != nil {
		return err // errdefs.Conflict
	}
	defer locks.Release(lock.PolicyKey(name))

Acquisition is non-blocking. A second command on the same key fails fast with
a Conflict error naming the command that holds it, and the caller is expected
to retry later. Keys never expire; the table only lives in memory and is empty
after a restart.
*/
package lock
