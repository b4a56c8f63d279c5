package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/types"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// validate checks a policy about to be submitted and fills in defaults.
// Peer copies keep the identity and timing assigned by their origin.
func (o *Orchestrator) validate(p *types.ReplicationPolicy, fromPeer bool) error {
	if !validName.MatchString(p.Name) {
		return errdefs.Invalidf("invalid policy name %q", p.Name)
	}
	p.Type = types.PolicyType(strings.ToUpper(string(p.Type)))
	if p.Type != types.PolicyTypeFS && p.Type != types.PolicyTypeHive {
		return errdefs.Invalidf("invalid policy type %q, expected FS or HIVE", p.Type)
	}
	if fromPeer && p.PolicyID == "" {
		return errdefs.Invalidf("policyId is required for policy sync")
	}

	if err := o.validateClusters(p); err != nil {
		return err
	}

	if p.SourceDataset == "" {
		return errdefs.Invalidf("sourceDataset is required")
	}
	if p.TargetDataset == "" {
		if p.TargetCluster == "" {
			return errdefs.Invalidf("targetDataset is required when the policy has no targetCluster")
		}
		p.TargetDataset = p.SourceDataset
	}
	if p.TargetCluster == "" && !types.IsCloudDataset(p.TargetDataset) {
		return errdefs.Invalidf("targetCluster is required unless targetDataset is a cloud location")
	}

	minFreq := int(o.config.MinFrequency / time.Second)
	if p.FrequencyInSec < minFreq {
		return errdefs.Invalidf("frequencyInSec %d is below the minimum of %d", p.FrequencyInSec, minFreq)
	}

	now := o.now().UTC()
	if p.StartTime.IsZero() {
		p.StartTime = now
	}
	if !p.EndTime.IsZero() {
		if !p.StartTime.Before(p.EndTime) {
			return errdefs.Invalidf("startTime %s must be before endTime %s", p.StartTime.Format(time.RFC3339), p.EndTime.Format(time.RFC3339))
		}
		if !fromPeer && p.EndTime.Before(now) {
			return errdefs.Invalidf("endTime %s is in the past", p.EndTime.Format(time.RFC3339))
		}
	}

	if p.Retry.Attempts < 0 || p.Retry.DelaySec < 0 {
		return errdefs.Invalidf("retry attempts and delay must not be negative")
	}
	if p.Retry.Attempts == 0 && p.Retry.DelaySec == 0 {
		p.Retry.Attempts = o.config.RetryAttempts
		p.Retry.DelaySec = int(o.config.RetryDelay / time.Second)
	}

	return o.checkTargetDataset(p)
}

func (o *Orchestrator) validateClusters(p *types.ReplicationPolicy) error {
	if p.SourceCluster == "" {
		return errdefs.Invalidf("sourceCluster is required")
	}

	clusters := []string{p.SourceCluster}
	if p.TargetCluster != "" && p.TargetCluster != p.SourceCluster {
		clusters = append(clusters, p.TargetCluster)
	}
	for _, name := range clusters {
		if _, err := o.store.GetCluster(name); err != nil {
			if errdefs.Is(err, errdefs.NotFound) {
				return errdefs.Invalidf("cluster %s does not exist", name)
			}
			return err
		}
	}

	if p.SourceCluster != o.localName && p.TargetCluster != o.localName {
		return errdefs.Invalidf("policy must replicate from or to the local cluster %s", o.localName)
	}

	remote := p.RemoteCluster(o.localName)
	if remote == "" {
		return nil
	}
	local, err := o.store.GetCluster(o.localName)
	if err != nil {
		return err
	}
	if status := local.PairStatusWith(remote); status != types.PairStatusPaired {
		return errdefs.Invalidf("clusters %s and %s are not paired (%s)", o.localName, remote, status)
	}
	return nil
}

// checkTargetDataset rejects a second active policy writing to the same
// dataset of the same target
func (o *Orchestrator) checkTargetDataset(p *types.ReplicationPolicy) error {
	policies, err := o.store.ListPolicies()
	if err != nil {
		return err
	}
	for _, other := range policies {
		if other.Name == p.Name || !other.RetirementTime.IsZero() || !other.Status.IsActive() {
			continue
		}
		if other.TargetCluster == p.TargetCluster && other.TargetDataset == p.TargetDataset {
			return errdefs.Invalidf("target dataset %s is already replicated by policy %s", p.TargetDataset, other.Name)
		}
	}
	return nil
}

// executionType picks the replication strategy of a new policy
func executionType(p *types.ReplicationPolicy, source *types.Cluster) types.ExecutionType {
	if p.Type == types.PolicyTypeHive {
		return types.ExecutionHive
	}
	if types.IsCloudDataset(p.SourceDataset) || types.IsCloudDataset(p.TargetDataset) {
		return types.ExecutionFSHCFS
	}
	if p.CustomProperties[types.PropSnapshottable] == "true" ||
		(source != nil && source.CustomProperties[types.PropSnapshottable] == "true") {
		return types.ExecutionFSSnapshot
	}
	return types.ExecutionFS
}

// newPolicyID builds "/<dataCenter>/<cluster>/<name>/<uuid>"
func newPolicyID(local *types.Cluster, name string) string {
	dc := local.DataCenter
	if dc == "" {
		dc = local.Name
	}
	return fmt.Sprintf("/%s/%s/%s/%s", dc, local.Name, name, uuid.New().String())
}
