package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/types"
)

// APIPrefix is the path prefix of the Beacon REST API
const APIPrefix = "/api/beacon"

// UserHeader carries the calling user to the server
const UserHeader = "X-Beacon-User"

// Error is a failed call to a Beacon server. StatusCode is zero when the
// server could not be reached.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Rejected reports whether the server refused the request as invalid.
// Rejected calls are not retried. A conflict means the entity was busy on
// the server and is worth retrying, as is a throttled call.
func (e *Error) Rejected() bool {
	switch e.StatusCode {
	case http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsRejected reports whether err is a client error response from a peer
func IsRejected(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Rejected()
}

// StatusCode returns the HTTP status of a failed call, or 0
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// Client talks to one Beacon server over REST. It is used both for
// server-to-server synchronization and by the CLI.
type Client struct {
	endpoint string
	http     *http.Client
	user     string
	sf       singleflight.Group
}

// NewClient creates a client for the Beacon server at endpoint
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

// WithUser sets the user reported to the server
func (c *Client) WithUser(user string) *Client {
	c.user = user
	return c
}

// Endpoint returns the server endpoint
func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) url(path string, query url.Values) string {
	u := c.endpoint + APIPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do performs a request and decodes a JSON response into out (if non-nil)
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Message: "failed to encode request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), reader)
	if err != nil {
		return &Error{Op: op, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set(UserHeader, c.user)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		var result types.APIResult
		if json.Unmarshal(data, &result) == nil && result.Message != "" {
			msg = result.Message
		}
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return nil
}

// peerCall instruments a server-to-server call and collapses identical
// concurrent calls into one request
func (c *Client) peerCall(ctx context.Context, op, method, path string, query url.Values, body interface{}) error {
	timer := metrics.NewTimer()
	call := func() (interface{}, error) {
		var result types.APIResult
		return &result, c.do(ctx, op, method, path, query, body, &result)
	}

	var err error
	if body == nil {
		_, err, _ = c.sf.Do(method+" "+c.url(path, query), call)
	} else {
		_, err = call()
	}

	timer.ObserveDurationVec(metrics.PeerSyncDuration, op)
	result := metrics.ResultLabel(err)
	if IsRejected(err) {
		result = metrics.ResultRejected
	}
	metrics.PeerSyncTotal.WithLabelValues(op, result).Inc()
	return err
}

func boolQuery(v bool) string {
	return strconv.FormatBool(v)
}

// Peer operations

// PairClusters asks the server to pair its local cluster with remoteCluster
func (c *Client) PairClusters(ctx context.Context, remoteCluster string, isInternal bool) error {
	q := url.Values{"remoteClusterName": {remoteCluster}, "isInternalPairing": {boolQuery(isInternal)}}
	return c.peerCall(ctx, "pair", http.MethodPost, "/cluster/pair", q, nil)
}

// UnpairClusters asks the server to unpair its local cluster from remoteCluster
func (c *Client) UnpairClusters(ctx context.Context, remoteCluster string, isInternal bool) error {
	q := url.Values{"remoteClusterName": {remoteCluster}, "isInternalUnpairing": {boolQuery(isInternal)}}
	return c.peerCall(ctx, "unpair", http.MethodPost, "/cluster/unpair", q, nil)
}

// SyncPolicy sends a full policy definition to the server
func (c *Client) SyncPolicy(ctx context.Context, policy *types.ReplicationPolicy) error {
	return c.peerCall(ctx, "sync_policy", http.MethodPost, "/policy/sync/"+url.PathEscape(policy.Name), nil, policy)
}

// SyncPolicyStatus sets the status of the server's copy of a policy
func (c *Client) SyncPolicyStatus(ctx context.Context, name string, status types.PolicyStatus, isInternal bool) error {
	q := url.Values{"status": {string(status)}, "isInternalStatusSync": {boolQuery(isInternal)}}
	return c.peerCall(ctx, "sync_status", http.MethodPost, "/policy/syncStatus/"+url.PathEscape(name), q, nil)
}

// SyncDeletePolicy deletes the server's copy of a policy. When policyID is
// set the server only deletes that generation of the policy.
func (c *Client) SyncDeletePolicy(ctx context.Context, name, policyID string) error {
	q := url.Values{"isInternalSyncDelete": {"true"}}
	if policyID != "" {
		q.Set("policyId", policyID)
	}
	return c.peerCall(ctx, "delete_policy", http.MethodDelete, "/policy/delete/"+url.PathEscape(name), q, nil)
}

// Status returns the server status
func (c *Client) Status(ctx context.Context) (*types.ServerStatus, error) {
	var status types.ServerStatus
	if err := c.do(ctx, "status", http.MethodGet, "/admin/status", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Version returns the server version
func (c *Client) Version(ctx context.Context) (*types.VersionInfo, error) {
	var info types.VersionInfo
	if err := c.do(ctx, "version", http.MethodGet, "/admin/version", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Pool hands out one client per peer endpoint
type Pool struct {
	timeout time.Duration
	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a client pool with a shared request timeout
func NewPool(timeout time.Duration) *Pool {
	return &Pool{
		timeout: timeout,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for endpoint
func (p *Pool) Get(endpoint string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := strings.TrimRight(endpoint, "/")
	if c, ok := p.clients[key]; ok {
		return c
	}
	c := NewClient(key, p.timeout)
	p.clients[key] = c
	return c
}
