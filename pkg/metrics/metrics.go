package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Entity metrics
	PoliciesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_policies_total",
			Help: "Total number of replication policies by status",
		},
		[]string{"status"},
	)

	ClustersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_clusters_total",
			Help: "Total number of registered clusters",
		},
	)

	PairedPeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_paired_peers_total",
			Help: "Number of peers of the local cluster by pair status",
		},
		[]string{"status"},
	)

	PeerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_peer_up",
			Help: "Whether the peer Beacon server answers its status probe (1 = up, 0 = down)",
		},
		[]string{"peer"},
	)

	// Lifecycle metrics
	PolicyOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_policy_operations_total",
			Help: "Total number of policy lifecycle operations by operation and result",
		},
		[]string{"op", "result"},
	)

	ClusterOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_cluster_operations_total",
			Help: "Total number of cluster operations by operation and result",
		},
		[]string{"op", "result"},
	)

	LockConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_lock_conflicts_total",
			Help: "Total number of commands rejected because the entity was locked",
		},
	)

	EventsRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_recorded_total",
			Help: "Total number of audit events recorded by entity type",
		},
		[]string{"entity_type"},
	)

	// Peer sync metrics
	PeerSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_peer_sync_total",
			Help: "Total number of calls to peer Beacon servers by operation and result",
		},
		[]string{"op", "result"},
	)

	PeerSyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_peer_sync_duration_seconds",
			Help:    "Peer call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Housekeeping metrics
	HousekeepingPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_housekeeping_pending_jobs",
			Help: "Number of peer sync jobs waiting for retry",
		},
	)

	HousekeepingAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_housekeeping_attempts_total",
			Help: "Total number of housekeeping retries by operation and result",
		},
		[]string{"op", "result"},
	)

	HousekeepingDrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_housekeeping_drain_duration_seconds",
			Help:    "Time taken by one housekeeping drain cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler metrics
	InstancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_policy_instances_total",
			Help: "Total number of finished policy instances by status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_job_duration_seconds",
			Help:    "Replication job duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"type"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(PoliciesTotal)
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(PairedPeersTotal)
	prometheus.MustRegister(PeerUp)
	prometheus.MustRegister(PolicyOperationsTotal)
	prometheus.MustRegister(ClusterOperationsTotal)
	prometheus.MustRegister(LockConflictsTotal)
	prometheus.MustRegister(EventsRecordedTotal)
	prometheus.MustRegister(PeerSyncTotal)
	prometheus.MustRegister(PeerSyncDuration)
	prometheus.MustRegister(HousekeepingPending)
	prometheus.MustRegister(HousekeepingAttemptsTotal)
	prometheus.MustRegister(HousekeepingDrainDuration)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Result label values
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// ResultLabel maps an error to a result label
func ResultLabel(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
