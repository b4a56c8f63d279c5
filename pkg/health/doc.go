/*
Package health probes the paired peers of a Beacon server.

A PeerChecker calls GET /api/beacon/admin/status on a peer and checks that
it answers 2xx with a status document, and with the expected cluster name
when one is set. The Monitor runs a checker for every Target returned by
its TargetFunc on each Interval.

A peer is marked down after Retries consecutive failures and back up on the
first success. Every probe is handed to the ReportFunc together with
whether the healthy state flipped. The manager uses it to set
beacon_peer_up for the peer.

	monitor := health.NewMonitor(health.DefaultConfig(), targets,
		func(t health.Target, s health.Status, changed bool) {
			...
		})
	monitor.Start()
	defer monitor.Stop()

Probe failures never change pair state. They only drive the gauge and the
log.
*/
package health
