/*
Package metrics exposes the Prometheus metrics and the health endpoints of a
Beacon server.

All collectors are registered with the default registry in init and served
by Handler on /metrics.

# Metrics

Gauges refreshed by the Collector from the store:

	beacon_policies_total{status}
	beacon_clusters_total
	beacon_paired_peers_total{status}
	beacon_housekeeping_pending_jobs

Counters and histograms updated inline by the components:

	beacon_peer_up{peer}                              health monitor
	beacon_policy_operations_total{op,result}         policy orchestrator
	beacon_cluster_operations_total{op,result}        cluster manager
	beacon_lock_conflicts_total                       lock table
	beacon_events_recorded_total{entity_type}         event recorder
	beacon_peer_sync_total{op,result}                 peer client
	beacon_peer_sync_duration_seconds{op}
	beacon_housekeeping_attempts_total{op,result}     retry service
	beacon_housekeeping_drain_duration_seconds
	beacon_policy_instances_total{status}             scheduler
	beacon_job_duration_seconds{type}
	beacon_api_requests_total{method,status}          REST API
	beacon_api_request_duration_seconds{method}

ResultLabel turns an error into the "success" or "error" result label.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PeerSyncDuration, "sync_policy")

# Health

Components report themselves with UpdateComponent. The store, scheduler,
housekeeping and api components are critical: /ready answers 503 until all
of them are healthy. /health reports every component, and /live only says
the process is up.

	metrics.UpdateComponent(metrics.ComponentScheduler, true, "")
*/
package metrics
