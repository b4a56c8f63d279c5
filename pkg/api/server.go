package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// Prefix is the path under which the Beacon REST API is served
const Prefix = "/api/beacon"

// ClusterService manages clusters and pairing
type ClusterService interface {
	Submit(cluster *types.Cluster) error
	Update(name string, changes *types.ClusterUpdate) error
	Get(name string) (*types.Cluster, error)
	List(opts storage.ListOptions) ([]*types.Cluster, int, error)
	Delete(name string) error
	Pair(ctx context.Context, remote string, isInternal bool) error
	Unpair(ctx context.Context, remote string, isInternal bool) error
}

// PolicyService manages the policy lifecycle
type PolicyService interface {
	Submit(ctx context.Context, p *types.ReplicationPolicy) (*types.ReplicationPolicy, error)
	Schedule(ctx context.Context, name string) (*types.ReplicationPolicy, error)
	SubmitAndSchedule(ctx context.Context, p *types.ReplicationPolicy) (*types.ReplicationPolicy, error)
	Suspend(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
	Delete(ctx context.Context, name string, isInternalSyncDelete bool) error
	SyncDelete(ctx context.Context, name, policyID string) error
	SyncPolicy(ctx context.Context, p *types.ReplicationPolicy) error
	SyncPolicyStatus(ctx context.Context, name string, status types.PolicyStatus, isInternal bool) error
	AbortInstance(ctx context.Context, name string) error
	RerunInstance(ctx context.Context, name string) (string, error)
	Get(name string) (*types.ReplicationPolicy, error)
	List(opts storage.ListOptions) ([]*types.ReplicationPolicy, int, error)
	ListInstances(name string, opts storage.ListOptions) ([]*types.PolicyInstance, int, error)
}

// EventLister reads recorded events
type EventLister interface {
	List(opts storage.ListOptions) ([]*types.Event, int, error)
}

// EventStream delivers events as they are recorded
type EventStream interface {
	Subscribe() events.Subscriber
	Unsubscribe(sub events.Subscriber)
}

// Config wires the API server
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Clusters ClusterService
	Policies PolicyService
	Events   EventLister
	Stream   EventStream

	// Status reports the live server status for admin/status
	Status  func() *types.ServerStatus
	Version types.VersionInfo
}

// Server serves the Beacon REST API
type Server struct {
	clusters ClusterService
	policies PolicyService
	events   EventLister
	stream   EventStream
	status   func() *types.ServerStatus
	version  types.VersionInfo

	router chi.Router
	http   *http.Server
	logger zerolog.Logger
}

// NewServer creates the API server and its routes
func NewServer(cfg Config) *Server {
	s := &Server{
		clusters: cfg.Clusters,
		policies: cfg.Policies,
		events:   cfg.Events,
		stream:   cfg.Stream,
		status:   cfg.Status,
		version:  cfg.Version,
		logger:   log.WithComponent("api"),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.withRequestID, s.withRecover, s.withLogging, withUser)

	mountHealth(r)

	r.Route(Prefix, func(r chi.Router) {
		r.Route("/cluster", func(r chi.Router) {
			r.Post("/submit/{name}", s.submitCluster)
			r.Put("/{name}", s.updateCluster)
			r.Get("/getEntity/{name}", s.getCluster)
			r.Get("/list", s.listClusters)
			r.Delete("/delete/{name}", s.deleteCluster)
			r.Post("/pair", s.pairClusters)
			r.Post("/unpair", s.unpairClusters)
		})

		r.Route("/policy", func(r chi.Router) {
			r.Post("/submit/{name}", s.submitPolicy)
			r.Post("/schedule/{name}", s.schedulePolicy)
			r.Post("/submitAndSchedule/{name}", s.submitAndSchedulePolicy)
			r.Post("/suspend/{name}", s.suspendPolicy)
			r.Post("/resume/{name}", s.resumePolicy)
			r.Delete("/delete/{name}", s.deletePolicy)
			r.Post("/sync/{name}", s.syncPolicy)
			r.Post("/syncStatus/{name}", s.syncPolicyStatus)
			r.Post("/instance/abort/{name}", s.abortInstance)
			r.Post("/instance/rerun/{name}", s.rerunInstance)
			r.Get("/instance/list/{name}", s.listInstances)
			r.Get("/getEntity/{name}", s.getPolicy)
			r.Get("/status/{name}", s.policyStatus)
			r.Get("/list", s.listPolicies)
		})

		r.Get("/events/all", s.listEvents)
		r.Get("/events/stream", s.streamEvents)

		r.Get("/admin/version", s.adminVersion)
		r.Get("/admin/status", s.adminStatus)
	})

	return r
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("REST API listening")
	metrics.UpdateComponent(metrics.ComponentAPI, true, "listening on "+s.http.Addr)

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	return s.http.Shutdown(ctx)
}
