package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/log"
)

// Status is the lifecycle state of a plugin
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusInactive     Status = "INACTIVE"
	StatusInitializing Status = "INITIALIZING"
	StatusError        Status = "ERROR"
)

// BeaconInfo describes the server a plugin is registered with
type BeaconInfo struct {
	Cluster    string
	DataCenter string
	StagingDir string
}

// Info is what a plugin reports about itself after registration
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	StagingDir  string `json:"stagingDir,omitempty"`
	Status      Status `json:"status"`
}

// Dataset identifies the data a plugin job moves
type Dataset struct {
	PolicyID      string
	PolicyName    string
	SourceCluster string
	TargetCluster string
	SourceDataset string
	TargetDataset string
}

// Plugin replicates auxiliary metadata (for example security policies or
// lineage) alongside a policy's data
type Plugin interface {
	Name() string
	Register(info BeaconInfo) (Info, error)
	// ExportData stages the plugin data of the source dataset and returns
	// the staging path
	ExportData(ctx context.Context, dataset Dataset) (string, error)
	ImportData(ctx context.Context, dataset Dataset, path string) error
	Status() Status
}

const jobPrefix = "PLUGIN:"

// JobType returns the scheduler job type that runs the named plugin
func JobType(name string) string {
	return jobPrefix + name
}

// ParseJobType returns the plugin name of a plugin job type
func ParseJobType(jobType string) (string, bool) {
	if !strings.HasPrefix(jobType, jobPrefix) {
		return "", false
	}
	return strings.TrimPrefix(jobType, jobPrefix), true
}

// Registry holds the plugins registered at start-up
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	infos   map[string]Info
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		infos:   make(map[string]Info),
		logger:  log.WithComponent("plugin"),
	}
}

// Register registers p with the server. A plugin that fails to register is
// not kept.
func (r *Registry) Register(p Plugin, beacon BeaconInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %s already registered", name)
	}

	info, err := p.Register(beacon)
	if err != nil {
		r.logger.Error().Err(err).Str("plugin", name).Msg("Plugin registration failed")
		return fmt.Errorf("failed to register plugin %s: %w", name, err)
	}
	if info.Name == "" {
		info.Name = name
	}

	r.plugins[name] = p
	r.infos[name] = info
	r.logger.Info().Str("plugin", name).Str("status", string(p.Status())).Msg("Plugin registered")
	return nil
}

// Get returns the named plugin
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Active returns the ACTIVE plugins ordered by name
func (r *Registry) Active() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []Plugin
	for _, p := range r.plugins {
		if p.Status() == StatusActive {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name() < active[j].Name() })
	return active
}

// Infos returns every registered plugin with its current status
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.infos))
	for name, info := range r.infos {
		info.Status = r.plugins[name].Status()
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Run exports the plugin data of the source dataset and imports it into
// the target dataset
func (r *Registry) Run(ctx context.Context, name string, dataset Dataset) error {
	p, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("plugin %s not registered", name)
	}
	if status := p.Status(); status != StatusActive {
		return fmt.Errorf("plugin %s is %s", name, status)
	}

	path, err := p.ExportData(ctx, dataset)
	if err != nil {
		return fmt.Errorf("plugin %s export failed: %w", name, err)
	}
	if err := p.ImportData(ctx, dataset, path); err != nil {
		return fmt.Errorf("plugin %s import failed: %w", name, err)
	}
	return nil
}
