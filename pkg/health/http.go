package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusPath is the peer endpoint probed for reachability
const StatusPath = "/api/beacon/admin/status"

// PeerChecker probes a peer Beacon server's admin status endpoint and
// verifies it serves the expected cluster
type PeerChecker struct {
	// URL is the full status URL of the peer
	URL string

	// Cluster is the cluster name the peer must report, empty to skip
	Cluster string

	// Client is the HTTP client to use
	Client *http.Client
}

// NewPeerChecker creates a checker for the Beacon server at endpoint
func NewPeerChecker(endpoint, cluster string) *PeerChecker {
	return &PeerChecker{
		URL:     strings.TrimRight(endpoint, "/") + StatusPath,
		Cluster: cluster,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithTimeout sets the HTTP client timeout
func (h *PeerChecker) WithTimeout(timeout time.Duration) *PeerChecker {
	h.Client.Timeout = timeout
	return h
}

type peerStatus struct {
	Status  string `json:"status"`
	Cluster string `json:"cluster"`
}

// Check performs the probe
func (h *PeerChecker) Check(ctx context.Context) Result {
	start := time.Now()
	fail := func(format string, args ...interface{}) Result {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fail("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var st peerStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&st); err != nil {
		return fail("invalid status response: %v", err)
	}
	if h.Cluster != "" && st.Cluster != h.Cluster {
		return fail("peer serves cluster %q, expected %q", st.Cluster, h.Cluster)
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("peer %s is %s", st.Cluster, st.Status),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
