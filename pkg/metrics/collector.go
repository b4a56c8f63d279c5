package metrics

import (
	"time"

	"github.com/cuemby/beacon/pkg/types"
)

// Source exposes the persisted state the collector turns into gauges
type Source interface {
	ListClusters() ([]*types.Cluster, error)
	ListPolicies() ([]*types.ReplicationPolicy, error)
	ListHousekeepingJobs() ([]*types.HousekeepingJob, error)
}

// Collector periodically refreshes the entity gauges from the store
type Collector struct {
	source   Source
	local    string
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector for the local cluster
func NewCollector(source Source, localCluster string, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		local:    localCluster,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect runs one collection pass
func (c *Collector) Collect() {
	c.collectClusterMetrics()
	c.collectPolicyMetrics()
	c.collectHousekeepingMetrics()
}

func (c *Collector) collectClusterMetrics() {
	clusters, err := c.source.ListClusters()
	if err != nil {
		return
	}

	ClustersTotal.Set(float64(len(clusters)))

	counts := map[types.PairStatus]int{
		types.PairStatusPaired:    0,
		types.PairStatusSuspended: 0,
	}
	for _, cl := range clusters {
		if cl.Name != c.local {
			continue
		}
		for _, status := range cl.Peers {
			counts[status]++
		}
	}
	for status, count := range counts {
		PairedPeersTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectPolicyMetrics() {
	policies, err := c.source.ListPolicies()
	if err != nil {
		return
	}

	// Report every status so drained statuses drop back to zero
	counts := map[types.PolicyStatus]int{
		types.PolicyStatusSubmitted: 0,
		types.PolicyStatusRunning:   0,
		types.PolicyStatusSuspended: 0,
		types.PolicyStatusDeleted:   0,
	}
	for _, p := range policies {
		counts[p.Status]++
	}
	for status, count := range counts {
		PoliciesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectHousekeepingMetrics() {
	jobs, err := c.source.ListHousekeepingJobs()
	if err != nil {
		return
	}

	HousekeepingPending.Set(float64(len(jobs)))
}
