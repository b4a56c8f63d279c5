package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply clusters and policies from a YAML file",
	Long: `Apply Beacon resources from a YAML file. A file may hold several
documents separated by "---".

Clusters that already exist are updated. Policies are submitted, and also
scheduled when the resource sets schedule: true; an existing active policy
is left alone.

Examples:
  # Register the local cluster and its peer
  beacon apply -f clusters.yaml

  # Submit and schedule a policy
  beacon apply -f nightly-policy.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Resource is one document of an apply file
type Resource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Schedule   bool                   `yaml:"schedule,omitempty"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ResourceMetadata struct {
	Name string `yaml:"name"`
}

const (
	KindCluster = "Cluster"
	KindPolicy  = "Policy"
)

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	resources, err := parseResources(f)
	if err != nil {
		return err
	}

	c := newClient(cmd)
	for _, r := range resources {
		if err := applyResource(cmd.Context(), c, r); err != nil {
			return fmt.Errorf("%s %s: %w", r.Kind, r.Metadata.Name, err)
		}
	}
	return nil
}

// parseResources decodes every YAML document in r
func parseResources(r io.Reader) ([]*Resource, error) {
	dec := yaml.NewDecoder(r)
	var resources []*Resource
	for {
		var res Resource
		err := dec.Decode(&res)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if res.Kind == "" && res.Metadata.Name == "" {
			continue
		}
		if res.Metadata.Name == "" {
			return nil, fmt.Errorf("%s resource without metadata.name", res.Kind)
		}
		if res.Kind != KindCluster && res.Kind != KindPolicy {
			return nil, fmt.Errorf("unsupported resource kind: %s", res.Kind)
		}
		resources = append(resources, &res)
	}
	return resources, nil
}

// decodeSpec converts the spec map into one of the API types. The spec keys
// are the JSON field names of the type.
func decodeSpec(res *Resource, out interface{}) error {
	data, err := json.Marshal(res.Spec)
	if err != nil {
		return fmt.Errorf("invalid spec: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid spec: %w", err)
	}
	return nil
}

func applyResource(ctx context.Context, c *client.Client, res *Resource) error {
	switch res.Kind {
	case KindCluster:
		return applyCluster(ctx, c, res)
	default:
		return applyPolicy(ctx, c, res)
	}
}

func applyCluster(ctx context.Context, c *client.Client, res *Resource) error {
	name := res.Metadata.Name

	_, err := c.GetCluster(ctx, name)
	switch {
	case err == nil:
		var changes types.ClusterUpdate
		if err := decodeSpec(res, &changes); err != nil {
			return err
		}
		changes.Name = name
		fmt.Printf("Updating cluster: %s\n", name)
		if _, err := c.UpdateCluster(ctx, name, &changes); err != nil {
			return err
		}
		fmt.Printf("✓ Cluster updated: %s\n", name)

	case client.StatusCode(err) == 404:
		var cluster types.Cluster
		if err := decodeSpec(res, &cluster); err != nil {
			return err
		}
		cluster.Name = name
		fmt.Printf("Creating cluster: %s\n", name)
		if _, err := c.SubmitCluster(ctx, &cluster); err != nil {
			return err
		}
		fmt.Printf("✓ Cluster submitted: %s\n", name)

	default:
		return err
	}
	return nil
}

func applyPolicy(ctx context.Context, c *client.Client, res *Resource) error {
	name := res.Metadata.Name

	existing, err := c.GetPolicyStatus(ctx, name)
	if err == nil && existing.Status.IsActive() {
		fmt.Printf("Policy already %s: %s (skipping)\n", existing.Status, name)
		return nil
	}
	if err != nil && client.StatusCode(err) != 404 {
		return err
	}

	var policy types.ReplicationPolicy
	if err := decodeSpec(res, &policy); err != nil {
		return err
	}
	policy.Name = name

	var result *types.APIResult
	if res.Schedule {
		fmt.Printf("Submitting and scheduling policy: %s\n", name)
		result, err = c.SubmitAndSchedulePolicy(ctx, &policy)
	} else {
		fmt.Printf("Submitting policy: %s\n", name)
		result, err = c.SubmitPolicy(ctx, &policy)
	}
	if err != nil {
		return err
	}
	fmt.Printf("✓ Policy applied: %s (ID: %s)\n", name, result.EntityID)
	return nil
}
