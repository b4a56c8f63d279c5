/*
Package client provides a Go client for the Beacon REST API.

The same client serves two callers: a Beacon server talking to the Beacon
server of a paired cluster, and the beacon CLI talking to its own server.

# Architecture

	┌─────────── Beacon server (dc1) ───────────┐
	│                                            │
	│  policy / cluster / housekeeping           │
	│              │                             │
	│  ┌───────────▼───────────┐                 │
	│  │  client.Pool          │ one Client per  │
	│  │   └─ Client (dc2)     │ peer endpoint   │
	│  │       singleflight    │                 │
	│  └───────────┬───────────┘                 │
	└──────────────┼─────────────────────────────┘
	               │ HTTP/JSON  /api/beacon/...
	               ▼
	      Beacon server (dc2)

# Peer calls

PairClusters, UnpairClusters, SyncPolicy, SyncPolicyStatus and
SyncDeletePolicy are the synchronization protocol between paired servers.
Each call is timed into beacon_peer_sync_duration_seconds and counted in
beacon_peer_sync_total. Identical bodiless calls issued concurrently (for
example a status sync triggered by a request while the housekeeping loop
replays the same sync) share a single HTTP request.

# Errors

Every failure is an *Error. StatusCode is zero when the peer could not be
reached. Rejected reports a 4xx answer: the peer understood the request and
refused it, so retrying the same call will not help. 409 (the entity is
locked on the peer) and 429 are not rejections. Callers use IsRejected
to stop retrying.

	err := c.SyncPolicyStatus(ctx, "fs-daily", types.PolicyStatusSuspended, true)
	if client.IsRejected(err) {
		// drop the retry
	}
*/
package client
