package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/cuemby/beacon/pkg/types"
)

// Cluster operations

func (c *Client) SubmitCluster(ctx context.Context, cluster *types.Cluster) (*types.APIResult, error) {
	var result types.APIResult
	err := c.do(ctx, "submit_cluster", http.MethodPost, "/cluster/submit/"+url.PathEscape(cluster.Name), nil, cluster, &result)
	return &result, err
}

func (c *Client) UpdateCluster(ctx context.Context, name string, changes *types.ClusterUpdate) (*types.APIResult, error) {
	var result types.APIResult
	err := c.do(ctx, "update_cluster", http.MethodPut, "/cluster/"+url.PathEscape(name), nil, changes, &result)
	return &result, err
}

func (c *Client) GetCluster(ctx context.Context, name string) (*types.Cluster, error) {
	var cluster types.Cluster
	if err := c.do(ctx, "get_cluster", http.MethodGet, "/cluster/getEntity/"+url.PathEscape(name), nil, nil, &cluster); err != nil {
		return nil, err
	}
	return &cluster, nil
}

// ListClusters lists clusters; query carries filterBy, orderBy, sortOrder,
// offset and numResults
func (c *Client) ListClusters(ctx context.Context, query url.Values) (*types.ClusterList, error) {
	var list types.ClusterList
	if err := c.do(ctx, "list_clusters", http.MethodGet, "/cluster/list", query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) DeleteCluster(ctx context.Context, name string) (*types.APIResult, error) {
	var result types.APIResult
	err := c.do(ctx, "delete_cluster", http.MethodDelete, "/cluster/delete/"+url.PathEscape(name), nil, nil, &result)
	return &result, err
}

// Pair pairs the server's local cluster with remoteCluster on behalf of a user
func (c *Client) Pair(ctx context.Context, remoteCluster string) (*types.APIResult, error) {
	var result types.APIResult
	q := url.Values{"remoteClusterName": {remoteCluster}, "isInternalPairing": {"false"}}
	err := c.do(ctx, "pair", http.MethodPost, "/cluster/pair", q, nil, &result)
	return &result, err
}

// Unpair unpairs the server's local cluster from remoteCluster on behalf of a user
func (c *Client) Unpair(ctx context.Context, remoteCluster string) (*types.APIResult, error) {
	var result types.APIResult
	q := url.Values{"remoteClusterName": {remoteCluster}, "isInternalUnpairing": {"false"}}
	err := c.do(ctx, "unpair", http.MethodPost, "/cluster/unpair", q, nil, &result)
	return &result, err
}

// Policy operations

func (c *Client) policyAction(ctx context.Context, op, method, action, name string, query url.Values, body interface{}) (*types.APIResult, error) {
	var result types.APIResult
	err := c.do(ctx, op, method, "/policy/"+action+"/"+url.PathEscape(name), query, body, &result)
	return &result, err
}

func (c *Client) SubmitPolicy(ctx context.Context, policy *types.ReplicationPolicy) (*types.APIResult, error) {
	return c.policyAction(ctx, "submit_policy", http.MethodPost, "submit", policy.Name, nil, policy)
}

func (c *Client) SubmitAndSchedulePolicy(ctx context.Context, policy *types.ReplicationPolicy) (*types.APIResult, error) {
	return c.policyAction(ctx, "submit_and_schedule_policy", http.MethodPost, "submitAndSchedule", policy.Name, nil, policy)
}

func (c *Client) SchedulePolicy(ctx context.Context, name string) (*types.APIResult, error) {
	return c.policyAction(ctx, "schedule_policy", http.MethodPost, "schedule", name, nil, nil)
}

func (c *Client) SuspendPolicy(ctx context.Context, name string) (*types.APIResult, error) {
	return c.policyAction(ctx, "suspend_policy", http.MethodPost, "suspend", name, nil, nil)
}

func (c *Client) ResumePolicy(ctx context.Context, name string) (*types.APIResult, error) {
	return c.policyAction(ctx, "resume_policy", http.MethodPost, "resume", name, nil, nil)
}

func (c *Client) DeletePolicy(ctx context.Context, name string) (*types.APIResult, error) {
	return c.policyAction(ctx, "delete_policy", http.MethodDelete, "delete", name, url.Values{"isInternalSyncDelete": {"false"}}, nil)
}

func (c *Client) AbortPolicyInstance(ctx context.Context, name string) (*types.APIResult, error) {
	return c.policyAction(ctx, "abort_instance", http.MethodPost, "instance/abort", name, nil, nil)
}

func (c *Client) RerunPolicyInstance(ctx context.Context, name string) (*types.APIResult, error) {
	return c.policyAction(ctx, "rerun_instance", http.MethodPost, "instance/rerun", name, nil, nil)
}

func (c *Client) GetPolicy(ctx context.Context, name string) (*types.ReplicationPolicy, error) {
	var policy types.ReplicationPolicy
	if err := c.do(ctx, "get_policy", http.MethodGet, "/policy/getEntity/"+url.PathEscape(name), nil, nil, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (c *Client) GetPolicyStatus(ctx context.Context, name string) (*types.PolicyStatusResult, error) {
	var status types.PolicyStatusResult
	if err := c.do(ctx, "policy_status", http.MethodGet, "/policy/status/"+url.PathEscape(name), nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) ListPolicies(ctx context.Context, query url.Values) (*types.PolicyList, error) {
	var list types.PolicyList
	if err := c.do(ctx, "list_policies", http.MethodGet, "/policy/list", query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) ListPolicyInstances(ctx context.Context, name string, query url.Values) (*types.InstanceList, error) {
	var list types.InstanceList
	if err := c.do(ctx, "list_instances", http.MethodGet, "/policy/instance/list/"+url.PathEscape(name), query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Event operations

func (c *Client) ListEvents(ctx context.Context, query url.Values) (*types.EventList, error) {
	var list types.EventList
	if err := c.do(ctx, "list_events", http.MethodGet, "/events/all", query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}
