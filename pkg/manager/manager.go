package manager

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/beacon/pkg/api"
	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/cluster"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/health"
	"github.com/cuemby/beacon/pkg/housekeeping"
	"github.com/cuemby/beacon/pkg/lock"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/plugin"
	"github.com/cuemby/beacon/pkg/policy"
	"github.com/cuemby/beacon/pkg/scheduler"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// Manager owns every component of one Beacon server
type Manager struct {
	cfg     *config.Config
	version types.VersionInfo

	store        *storage.BoltStore
	locks        *lock.Table
	broker       *events.Broker
	recorder     *events.Recorder
	peers        *client.Pool
	plugins      *plugin.Registry
	housekeeping *housekeeping.Service
	scheduler    *scheduler.LocalScheduler
	clusters     *cluster.Manager
	policies     *policy.Orchestrator
	collector    *metrics.Collector
	monitor      *health.Monitor
	api          *api.Server

	logger zerolog.Logger
}

// New opens the store and wires the components. Nothing runs until Start.
func New(cfg *config.Config, version types.VersionInfo) (*Manager, error) {
	if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.Server.DataDir)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	metrics.UpdateComponent(metrics.ComponentStore, true, "")
	metrics.SetCluster(cfg.Cluster.Name)
	metrics.SetVersion(version.Version)

	m := &Manager{
		cfg:     cfg,
		version: version,
		store:   store,
		locks:   lock.NewTable(),
		broker:  events.NewBroker(),
		peers:   client.NewPool(cfg.Peer.Timeout),
		plugins: plugin.NewRegistry(),
		logger:  log.WithCluster(log.WithComponent("manager"), cfg.Cluster.Name),
	}
	m.recorder = events.NewRecorder(store, m.broker)

	m.registerPlugins()

	m.housekeeping = housekeeping.NewService(store, m.recorder, m.locks,
		func(endpoint string) housekeeping.Peer { return m.peers.Get(endpoint) },
		housekeeping.Config{
			Interval:    cfg.Housekeeping.Interval,
			Frequency:   cfg.Housekeeping.SyncFrequency,
			MaxAttempts: cfg.Housekeeping.MaxRetry,
		})

	m.scheduler = scheduler.NewLocalScheduler(store,
		scheduler.NewExecRunner(cfg.Scheduler.Executors, m.plugins), cfg.Scheduler.Tick)

	m.clusters = cluster.NewManager(store, m.locks, m.recorder,
		func(endpoint string) cluster.Peer { return m.peers.Get(endpoint) },
		cfg.Cluster.Name)

	m.policies = policy.NewOrchestrator(policy.Config{
		Store:         store,
		Locks:         m.locks,
		Recorder:      m.recorder,
		Scheduler:     m.scheduler,
		Plugins:       m.plugins,
		Housekeeping:  m.housekeeping,
		Peers:         func(endpoint string) policy.Peer { return m.peers.Get(endpoint) },
		LocalCluster:  cfg.Cluster.Name,
		MinFrequency:  cfg.Policy.MinFrequency,
		RetryAttempts: cfg.Policy.RetryAttempts,
		RetryDelay:    cfg.Policy.RetryDelay,
	})
	m.scheduler.SetListener(m.policies)

	m.collector = metrics.NewCollector(store, cfg.Cluster.Name, cfg.Metrics.CollectInterval)

	probe := health.DefaultConfig()
	probe.Timeout = cfg.Peer.Timeout
	m.monitor = health.NewMonitor(probe, m.peerTargets, reportPeer)

	m.api = api.NewServer(api.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Clusters:     m.clusters,
		Policies:     m.policies,
		Events:       m.recorder,
		Stream:       m.broker,
		Status:       m.Status,
		Version:      version,
	})

	return m, nil
}

func (m *Manager) registerPlugins() {
	for _, pc := range m.cfg.Plugins {
		info := plugin.BeaconInfo{
			Cluster:    m.cfg.Cluster.Name,
			DataCenter: m.cfg.Cluster.DataCenter,
			StagingDir: pc.StagingDir,
		}
		if err := m.plugins.Register(plugin.NewCommandPlugin(pc), info); err != nil {
			m.logger.Warn().Err(err).Str("plugin", pc.Name).Msg("Plugin left out")
		}
	}
}

// peerTargets lists the paired peers the health monitor probes
func (m *Manager) peerTargets() []health.Target {
	peers, err := m.clusters.PairedPeers()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to list paired peers")
		return nil
	}
	targets := make([]health.Target, 0, len(peers))
	for _, c := range peers {
		targets = append(targets, health.Target{Cluster: c.Name, Endpoint: c.BeaconEndpoint})
	}
	return targets
}

func reportPeer(target health.Target, status health.Status, changed bool) {
	up := 0.0
	if status.Healthy {
		up = 1
	}
	metrics.PeerUp.WithLabelValues(target.Cluster).Set(up)
}

// Start re-arms persisted policies and starts the background loops. The
// API is served by Run.
func (m *Manager) Start() error {
	if _, err := m.store.GetLocalCluster(); err != nil {
		m.logger.Warn().Msg("No local cluster registered yet, submit one with local=true")
	}

	m.broker.Start()
	m.scheduler.Start()

	recovered, err := m.policies.Recover()
	if err != nil {
		return fmt.Errorf("failed to recover policies: %w", err)
	}

	m.housekeeping.Start()
	m.collector.Start()
	m.monitor.Start()

	if err := m.recorder.RecordNow(events.SystemEvent(types.EventBeaconStarted, types.SeverityInfo,
		"beacon server %s started for cluster %s", m.version.Version, m.cfg.Cluster.Name)); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to record start event")
	}

	m.logger.Info().
		Int("recovered_policies", recovered).
		Int("plugins", len(m.plugins.Active())).
		Msg("Beacon server started")
	return nil
}

// Run starts the server and blocks until ctx is cancelled or the API fails,
// then shuts everything down
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(m.api.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.Server.ShutdownTimeout)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops the API first, then the background loops, and closes the
// store last
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info().Msg("Shutting down Beacon server")

	if err := m.api.Shutdown(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("API shutdown did not complete")
	}

	m.monitor.Stop()
	m.collector.Stop()
	m.housekeeping.Stop()
	m.scheduler.Stop()

	if err := m.recorder.RecordNow(events.SystemEvent(types.EventBeaconStopped, types.SeverityInfo,
		"beacon server stopped for cluster %s", m.cfg.Cluster.Name)); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to record stop event")
	}
	m.broker.Stop()

	metrics.UpdateComponent(metrics.ComponentStore, false, "closed")
	return m.store.Close()
}

// Status reports the live server status served by admin/status
func (m *Manager) Status() *types.ServerStatus {
	status := &types.ServerStatus{
		Status:           "RUNNING",
		Cluster:          m.cfg.Cluster.Name,
		Version:          m.version.Version,
		EventSubscribers: m.broker.SubscriberCount(),
		ReplicationTypes: []string{string(types.PolicyTypeFS), string(types.PolicyTypeHive)},
	}
	for _, info := range m.plugins.Infos() {
		status.Plugins = append(status.Plugins, info.Name)
	}
	if jobs, err := m.housekeeping.PendingJobs(); err == nil {
		status.PendingRetries = len(jobs)
	}
	return status
}

// Policies exposes the orchestrator
func (m *Manager) Policies() *policy.Orchestrator {
	return m.policies
}

// Clusters exposes the cluster manager
func (m *Manager) Clusters() *cluster.Manager {
	return m.clusters
}

// Housekeeping exposes the retry service
func (m *Manager) Housekeeping() *housekeeping.Service {
	return m.housekeeping
}

// Handler returns the HTTP handler of the REST API
func (m *Manager) Handler() http.Handler {
	return m.api.Handler()
}
