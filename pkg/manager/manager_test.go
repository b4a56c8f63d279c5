package manager

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/types"
)

type testServer struct {
	m      *Manager
	srv    *httptest.Server
	client *client.Client
}

func startServer(t *testing.T, name string) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Cluster.Name = name
	cfg.Cluster.DataCenter = "east"
	cfg.Server.DataDir = t.TempDir()
	cfg.Peer.Timeout = 5 * time.Second

	m, err := New(cfg, types.VersionInfo{Version: "test"})
	require.NoError(t, err)
	require.NoError(t, m.Start())

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, m.Shutdown(ctx))
	})

	return &testServer{m: m, srv: srv, client: client.NewClient(srv.URL, 5*time.Second)}
}

func register(t *testing.T, s *testServer, name, endpoint string, local bool) {
	t.Helper()
	_, err := s.client.SubmitCluster(context.Background(), &types.Cluster{
		Name:           name,
		Local:          local,
		BeaconEndpoint: endpoint,
	})
	require.NoError(t, err)
}

func TestPairAndSyncPolicyAcrossServers(t *testing.T) {
	ctx := context.Background()
	dc1 := startServer(t, "dc1")
	dc2 := startServer(t, "dc2")

	register(t, dc1, "dc1", dc1.srv.URL, true)
	register(t, dc1, "dc2", dc2.srv.URL, false)
	register(t, dc2, "dc2", dc2.srv.URL, true)
	register(t, dc2, "dc1", dc1.srv.URL, false)

	_, err := dc1.client.Pair(ctx, "dc2")
	require.NoError(t, err)

	remoteView, err := dc2.client.GetCluster(ctx, "dc2")
	require.NoError(t, err)
	assert.Equal(t, types.PairStatusPaired, remoteView.PairStatusWith("dc1"))

	res, err := dc1.client.SubmitPolicy(ctx, &types.ReplicationPolicy{
		Name:           "nightly",
		Type:           types.PolicyTypeFS,
		SourceCluster:  "dc2",
		TargetCluster:  "dc1",
		SourceDataset:  "/data/nightly",
		FrequencyInSec: 3600,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.EntityID)

	peerCopy, err := dc2.client.GetPolicy(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, res.EntityID, peerCopy.PolicyID)
	assert.Equal(t, types.PolicyStatusSubmitted, peerCopy.Status)

	// an active policy between the clusters blocks unpairing
	_, err = dc1.client.Unpair(ctx, "dc2")
	require.Error(t, err)
	assert.True(t, client.IsRejected(err))

	_, err = dc1.client.DeletePolicy(ctx, "nightly")
	require.NoError(t, err)

	// the peer retired its copy too
	_, err = dc2.client.GetPolicy(ctx, "nightly")
	require.Error(t, err)
	assert.Equal(t, 404, client.StatusCode(err))

	evs, err := dc2.client.ListEvents(ctx, url.Values{"filterBy": {"eventType:POLICY_DELETED"}})
	require.NoError(t, err)
	require.Len(t, evs.Events, 1)
	assert.True(t, evs.Events[0].SyncEvent)

	_, err = dc1.client.Unpair(ctx, "dc2")
	require.NoError(t, err)

	remoteView, err = dc2.client.GetCluster(ctx, "dc2")
	require.NoError(t, err)
	assert.NotEqual(t, types.PairStatusPaired, remoteView.PairStatusWith("dc1"))
}

func TestStatusReportsServer(t *testing.T) {
	s := startServer(t, "dc1")

	status, err := s.client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dc1", status.Cluster)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, 0, status.PendingRetries)
	assert.Contains(t, status.ReplicationTypes, "FS")
}

func TestStartRecordsEvent(t *testing.T) {
	s := startServer(t, "dc1")

	list, err := s.client.ListEvents(context.Background(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, list.Events)

	var started bool
	for _, e := range list.Events {
		if e.Type == types.EventBeaconStarted {
			started = true
		}
	}
	assert.True(t, started)
}
