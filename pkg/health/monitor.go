package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/log"
)

// Target is one peer to probe
type Target struct {
	Cluster  string
	Endpoint string
}

// TargetFunc returns the current set of peers to probe
type TargetFunc func() []Target

// ReportFunc receives the status of a target after every probe
type ReportFunc func(target Target, status Status, changed bool)

// Monitor probes the paired peers on an interval and reports reachability
type Monitor struct {
	config  Config
	targets TargetFunc
	report  ReportFunc
	factory func(Target) Checker

	mu       sync.Mutex
	statuses map[string]*Status
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a peer monitor
func NewMonitor(config Config, targets TargetFunc, report ReportFunc) *Monitor {
	return &Monitor{
		config:  config,
		targets: targets,
		report:  report,
		factory: func(t Target) Checker {
			return NewPeerChecker(t.Endpoint, t.Cluster).WithTimeout(config.Timeout)
		},
		statuses: make(map[string]*Status),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the probe loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the probe loop
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.ProbeAll(context.Background())

	for {
		select {
		case <-ticker.C:
			m.ProbeAll(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// ProbeAll probes every current target once
func (m *Monitor) ProbeAll(ctx context.Context) {
	targets := m.targets()
	seen := make(map[string]bool, len(targets))

	for _, t := range targets {
		seen[t.Cluster] = true
		m.probe(ctx, t)
	}

	m.mu.Lock()
	for name := range m.statuses {
		if !seen[name] {
			delete(m.statuses, name)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) probe(ctx context.Context, t Target) {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	result := m.factory(t).Check(checkCtx)

	m.mu.Lock()
	st, ok := m.statuses[t.Cluster]
	if !ok {
		st = NewStatus()
		m.statuses[t.Cluster] = st
	}
	changed := st.Update(result, m.config)
	snapshot := *st
	m.mu.Unlock()

	if changed {
		logger := log.WithComponent("health")
		if snapshot.Healthy {
			logger.Info().Str("peer", t.Cluster).Msg("Peer reachable again")
		} else {
			logger.Warn().Str("peer", t.Cluster).Str("reason", result.Message).Msg("Peer unreachable")
		}
	}

	if m.report != nil {
		m.report(t, snapshot, changed)
	}
}

// Status returns the last known status of a peer
func (m *Monitor) Status(peer string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[peer]
	if !ok {
		return Status{}, false
	}
	return *st, true
}
