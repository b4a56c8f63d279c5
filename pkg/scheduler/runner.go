package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/beacon/pkg/plugin"
	"github.com/cuemby/beacon/pkg/types"
)

// Replication job types
const (
	JobHiveExport = "HIVE_EXPORT"
	JobHiveImport = "HIVE_IMPORT"
)

// ReplicationJobs returns the replication jobs of an execution type
func ReplicationJobs(executionType types.ExecutionType) []string {
	switch executionType {
	case types.ExecutionHive:
		return []string{JobHiveExport, JobHiveImport}
	case "":
		return nil
	default:
		return []string{string(executionType)}
	}
}

// ExecRunner runs replication jobs as external commands and plugin jobs
// through the plugin registry
type ExecRunner struct {
	// Executors maps a job type to the command that runs it
	Executors map[string][]string

	plugins *plugin.Registry
}

// NewExecRunner creates a runner. plugins may be nil.
func NewExecRunner(executors map[string][]string, plugins *plugin.Registry) *ExecRunner {
	return &ExecRunner{
		Executors: executors,
		plugins:   plugins,
	}
}

// Run executes one job
func (r *ExecRunner) Run(ctx context.Context, job Job) error {
	if name, ok := plugin.ParseJobType(job.Type); ok {
		if r.plugins == nil {
			return fmt.Errorf("no plugin registry for job %s", job.Type)
		}
		return r.plugins.Run(ctx, name, plugin.Dataset{
			PolicyID:      job.Policy.PolicyID,
			PolicyName:    job.Policy.Name,
			SourceCluster: job.Policy.SourceCluster,
			TargetCluster: job.Policy.TargetCluster,
			SourceDataset: job.Policy.SourceDataset,
			TargetDataset: job.Policy.TargetDataset,
		})
	}

	argv := r.Executors[job.Type]
	if len(argv) == 0 {
		return fmt.Errorf("no executor configured for job type %s", job.Type)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), jobEnv(job)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg == "" {
			return fmt.Errorf("job %s: %w", job.Type, err)
		}
		return fmt.Errorf("job %s: %w: %s", job.Type, err, msg)
	}
	return nil
}

// jobEnv describes the job to the executor command
func jobEnv(job Job) []string {
	p := job.Policy
	env := []string{
		"BEACON_POLICY_ID=" + p.PolicyID,
		"BEACON_POLICY_NAME=" + p.Name,
		"BEACON_POLICY_TYPE=" + string(p.Type),
		"BEACON_EXECUTION_TYPE=" + string(p.ExecutionType),
		"BEACON_INSTANCE_ID=" + job.InstanceID,
		"BEACON_JOB_TYPE=" + job.Type,
		"BEACON_JOB_OFFSET=" + strconv.Itoa(job.Offset),
		"BEACON_SOURCE_CLUSTER=" + p.SourceCluster,
		"BEACON_TARGET_CLUSTER=" + p.TargetCluster,
		"BEACON_SOURCE_DATASET=" + p.SourceDataset,
		"BEACON_TARGET_DATASET=" + p.TargetDataset,
	}

	keys := make([]string, 0, len(p.CustomProperties))
	for k := range p.CustomProperties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, "BEACON_PROP_"+envName(k)+"="+p.CustomProperties[k])
	}
	return env
}

func envName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, key)
}
