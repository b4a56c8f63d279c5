/*
Package cluster manages cluster entities and the pairing between the local
cluster and remote clusters.

Pairing is symmetric: when the local cluster lists a peer as PAIRED, the
peer's entity (both in this server's store and on the peer's own server)
lists the local cluster as PAIRED too. A user pair or unpair request is
applied locally inside a transaction, then forwarded to the peer with the
internal flag set; the local change only commits if the peer accepted it.

	user ──pair(dc2)──► dc1 server ──pair(dc1, internal)──► dc2 server
	                       │                                  │
	                  commit if dc2 ok                  commit locally

Updating a cluster re-runs pairing validation against each peer. A pairing
that no longer validates becomes SUSPENDED and a suspended pairing that
validates again is restored, in the same transaction as the update.
*/
package cluster
