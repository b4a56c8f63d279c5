package health

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorProbeAll(t *testing.T) {
	up := peerServer(t, "dc2", http.StatusOK)
	defer up.Close()
	down := peerServer(t, "dc3", http.StatusServiceUnavailable)
	defer down.Close()

	targets := []Target{
		{Cluster: "dc2", Endpoint: up.URL},
		{Cluster: "dc3", Endpoint: down.URL},
	}

	reports := make(map[string]bool)
	m := NewMonitor(Config{Interval: 0, Timeout: DefaultConfig().Timeout, Retries: 1},
		func() []Target { return targets },
		func(target Target, status Status, changed bool) {
			reports[target.Cluster] = status.Healthy
		})

	m.ProbeAll(context.Background())

	assert.True(t, reports["dc2"])
	assert.False(t, reports["dc3"])

	st, ok := m.Status("dc3")
	require.True(t, ok)
	assert.Equal(t, 1, st.ConsecutiveFailures)

	// Unpaired peers are forgotten
	targets = targets[:1]
	m.ProbeAll(context.Background())
	_, ok = m.Status("dc3")
	assert.False(t, ok)
}
