package plugin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/config"
)

// CommandPlugin runs external commands to export and import plugin data
type CommandPlugin struct {
	name       string
	export     []string
	imp        []string
	stagingDir string

	// Timeout bounds each command (default: 30 minutes)
	Timeout time.Duration

	mu     sync.RWMutex
	status Status
}

// NewCommandPlugin creates a plugin from its configuration
func NewCommandPlugin(cfg config.PluginConfig) *CommandPlugin {
	return &CommandPlugin{
		name:       cfg.Name,
		export:     cfg.Export,
		imp:        cfg.Import,
		stagingDir: cfg.StagingDir,
		Timeout:    30 * time.Minute,
		status:     StatusInactive,
	}
}

func (p *CommandPlugin) Name() string {
	return p.name
}

func (p *CommandPlugin) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *CommandPlugin) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// Register checks that both commands can be found
func (p *CommandPlugin) Register(beacon BeaconInfo) (Info, error) {
	p.setStatus(StatusInitializing)

	for _, argv := range [][]string{p.export, p.imp} {
		if len(argv) == 0 {
			p.setStatus(StatusError)
			return Info{}, fmt.Errorf("plugin %s: missing command", p.name)
		}
		if _, err := exec.LookPath(argv[0]); err != nil {
			p.setStatus(StatusError)
			return Info{}, fmt.Errorf("plugin %s: %w", p.name, err)
		}
	}

	if p.stagingDir == "" {
		p.stagingDir = filepath.Join(beacon.StagingDir, p.name)
	}

	p.setStatus(StatusActive)
	return Info{
		Name:        p.name,
		Description: "command plugin " + strings.Join(p.export, " "),
		StagingDir:  p.stagingDir,
		Status:      StatusActive,
	}, nil
}

// ExportData runs the export command. The last line of its output is the
// staging path; without output the default staging path is used.
func (p *CommandPlugin) ExportData(ctx context.Context, dataset Dataset) (string, error) {
	path := filepath.Join(p.stagingDir, dataset.PolicyName)
	out, err := p.run(ctx, p.export, dataset, "BEACON_DATASET="+dataset.SourceDataset, "BEACON_STAGING_PATH="+path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		path = last
	}
	return path, nil
}

// ImportData runs the import command against the staged data
func (p *CommandPlugin) ImportData(ctx context.Context, dataset Dataset, path string) error {
	_, err := p.run(ctx, p.imp, dataset, "BEACON_DATASET="+dataset.TargetDataset, "BEACON_STAGING_PATH="+path)
	return err
}

func (p *CommandPlugin) run(ctx context.Context, argv []string, dataset Dataset, extra ...string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		"BEACON_PLUGIN="+p.name,
		"BEACON_POLICY_ID="+dataset.PolicyID,
		"BEACON_POLICY_NAME="+dataset.PolicyName,
		"BEACON_SOURCE_CLUSTER="+dataset.SourceCluster,
		"BEACON_TARGET_CLUSTER="+dataset.TargetCluster,
	)
	cmd.Env = append(cmd.Env, extra...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 256 {
			msg = msg[:256] + "..."
		}
		return "", fmt.Errorf("%v: %w: %s", argv, err, msg)
	}
	return stdout.String(), nil
}
