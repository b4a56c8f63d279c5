package cluster

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/lock"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

type fakePeer struct {
	mu      sync.Mutex
	err     error
	pairs   []string
	unpairs []string
}

func (p *fakePeer) PairClusters(ctx context.Context, remote string, isInternal bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairs = append(p.pairs, remote)
	return p.err
}

func (p *fakePeer) UnpairClusters(ctx context.Context, remote string, isInternal bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unpairs = append(p.unpairs, remote)
	return p.err
}

type fixture struct {
	mgr   *Manager
	store *storage.BoltStore
	locks *lock.Table
	peer  *fakePeer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	peer := &fakePeer{}
	locks := lock.NewTable()
	mgr := NewManager(store, locks, events.NewRecorder(store, nil), func(string) Peer { return peer }, "dc1")

	require.NoError(t, mgr.Submit(&types.Cluster{Name: "dc1", Local: true, BeaconEndpoint: "http://dc1:25968"}))
	require.NoError(t, mgr.Submit(&types.Cluster{Name: "dc2", BeaconEndpoint: "http://dc2:25968"}))

	return &fixture{mgr: mgr, store: store, locks: locks, peer: peer}
}

func (f *fixture) cluster(t *testing.T, name string) *types.Cluster {
	t.Helper()
	c, err := f.store.GetCluster(name)
	require.NoError(t, err)
	return c
}

func (f *fixture) putPolicy(t *testing.T, p *types.ReplicationPolicy) {
	t.Helper()
	tx := f.store.Begin()
	tx.PutPolicy(p)
	require.NoError(t, tx.Commit())
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		cluster *types.Cluster
		kind    errdefs.Kind
	}{
		{name: "missing name", cluster: &types.Cluster{BeaconEndpoint: "http://x"}, kind: errdefs.Invalid},
		{name: "missing endpoint", cluster: &types.Cluster{Name: "dc3"}, kind: errdefs.Invalid},
		{name: "duplicate", cluster: &types.Cluster{Name: "dc2", BeaconEndpoint: "http://dc2"}, kind: errdefs.Conflict},
		{name: "foreign local", cluster: &types.Cluster{Name: "dc3", Local: true, BeaconEndpoint: "http://dc3"}, kind: errdefs.Invalid},
		{name: "local as remote", cluster: &types.Cluster{Name: "dc1", BeaconEndpoint: "http://dc1"}, kind: errdefs.Invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.mgr.Submit(tt.cluster)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errdefs.KindOf(err))
		})
	}
}

func TestSubmitResetsServerFields(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mgr.Submit(&types.Cluster{
		Name:           "dc3",
		BeaconEndpoint: "http://dc3:25968",
		Peers:          map[string]types.PairStatus{"dc1": types.PairStatusPaired},
		Version:        42,
	}))

	c := f.cluster(t, "dc3")
	assert.Empty(t, c.Peers)
	assert.Equal(t, 1, c.Version)
	assert.False(t, c.CreatedAt.IsZero())
}

func TestPairIsIdempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mgr.Pair(context.Background(), "dc2", false))
	require.NoError(t, f.mgr.Pair(context.Background(), "dc2", false))

	assert.Equal(t, map[string]types.PairStatus{"dc2": types.PairStatusPaired}, f.cluster(t, "dc1").Peers)
	assert.Equal(t, map[string]types.PairStatus{"dc1": types.PairStatusPaired}, f.cluster(t, "dc2").Peers)
	assert.Equal(t, []string{"dc1"}, f.peer.pairs)

	_, total, err := f.store.QueryEvents(storage.ListOptions{
		FilterBy: map[string][]string{"eventType": {string(types.EventClusterPaired)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestInternalPairDoesNotCallPeer(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mgr.Pair(context.Background(), "dc2", true))
	assert.Empty(t, f.peer.pairs)
	assert.Equal(t, types.PairStatusPaired, f.cluster(t, "dc1").PairStatusWith("dc2"))
}

func TestPairRejections(t *testing.T) {
	f := newFixture(t)

	err := f.mgr.Pair(context.Background(), "dc1", false)
	assert.True(t, errdefs.Is(err, errdefs.Invalid))

	err = f.mgr.Pair(context.Background(), "dc9", false)
	assert.True(t, errdefs.Is(err, errdefs.NotFound))

	require.NoError(t, f.mgr.Submit(&types.Cluster{
		Name:             "secure",
		BeaconEndpoint:   "http://secure:25968",
		CustomProperties: map[string]string{types.PropKerberosPrincipal: "nn/_HOST@EXAMPLE.COM"},
	}))
	err = f.mgr.Pair(context.Background(), "secure", false)
	require.True(t, errdefs.Is(err, errdefs.Invalid))
	assert.Contains(t, err.Error(), "security mismatch")
	assert.Empty(t, f.peer.pairs)
	assert.Empty(t, f.cluster(t, "dc1").Peers)
}

func TestPairPeerFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.peer.err = &client.Error{Op: "pair", Err: errors.New("connection refused")}

	err := f.mgr.Pair(context.Background(), "dc2", false)
	assert.True(t, errdefs.Is(err, errdefs.Upstream))
	assert.Empty(t, f.cluster(t, "dc1").Peers)
	assert.Empty(t, f.cluster(t, "dc2").Peers)

	f.peer.err = &client.Error{Op: "pair", StatusCode: http.StatusBadRequest, Message: "security mismatch"}
	err = f.mgr.Pair(context.Background(), "dc2", false)
	assert.True(t, errdefs.Is(err, errdefs.Invalid))
	assert.Empty(t, f.cluster(t, "dc1").Peers)
}

func TestPairConflictsWithHeldLock(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.locks.TryAcquire(lock.ClusterKey("dc2"), "update"))

	err := f.mgr.Pair(context.Background(), "dc2", false)
	assert.True(t, errdefs.Is(err, errdefs.Conflict))
	assert.Contains(t, err.Error(), "update already in progress")

	_, held := f.locks.Holder(lock.ClusterKey("dc1"))
	assert.False(t, held)
}

func TestUnpairWithActivePolicyMutatesNothing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Pair(context.Background(), "dc2", false))
	before1, before2 := f.cluster(t, "dc1"), f.cluster(t, "dc2")

	f.putPolicy(t, &types.ReplicationPolicy{
		PolicyID:      "/dc1/fs/1",
		Name:          "fs",
		SourceCluster: "dc1",
		TargetCluster: "dc2",
		Status:        types.PolicyStatusRunning,
	})

	err := f.mgr.Unpair(context.Background(), "dc2", false)
	require.True(t, errdefs.Is(err, errdefs.Invalid))
	assert.Contains(t, err.Error(), "fs")

	assert.Equal(t, before1, f.cluster(t, "dc1"))
	assert.Equal(t, before2, f.cluster(t, "dc2"))
	assert.Empty(t, f.peer.unpairs)
}

func TestUnpair(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Pair(context.Background(), "dc2", false))

	f.putPolicy(t, &types.ReplicationPolicy{
		PolicyID:      "/dc1/old/1",
		Name:          "old",
		SourceCluster: "dc1",
		TargetCluster: "dc2",
		Status:        types.PolicyStatusSucceeded,
	})

	require.NoError(t, f.mgr.Unpair(context.Background(), "dc2", false))
	assert.Empty(t, f.cluster(t, "dc1").Peers)
	assert.Empty(t, f.cluster(t, "dc2").Peers)
	assert.Equal(t, []string{"dc1"}, f.peer.unpairs)

	err := f.mgr.Unpair(context.Background(), "dc2", false)
	assert.True(t, errdefs.Is(err, errdefs.Invalid))
	assert.NoError(t, f.mgr.Unpair(context.Background(), "dc2", true))
}

func TestUnpairPeerFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Pair(context.Background(), "dc2", false))
	f.peer.err = &client.Error{Op: "unpair", StatusCode: http.StatusBadGateway, Message: "bad gateway"}

	err := f.mgr.Unpair(context.Background(), "dc2", false)
	assert.True(t, errdefs.Is(err, errdefs.Upstream))
	assert.Equal(t, types.PairStatusPaired, f.cluster(t, "dc1").PairStatusWith("dc2"))
}

func TestDeletePairedCluster(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Pair(context.Background(), "dc2", true))

	err := f.mgr.Delete("dc2")
	require.True(t, errdefs.Is(err, errdefs.Invalid))
	assert.Contains(t, err.Error(), "paired with dc1")

	require.NoError(t, f.mgr.Unpair(context.Background(), "dc2", true))
	require.NoError(t, f.mgr.Delete("dc2"))

	_, err = f.store.GetCluster("dc2")
	assert.True(t, errdefs.Is(err, errdefs.NotFound))
	assert.True(t, errdefs.Is(f.mgr.Delete("dc2"), errdefs.NotFound))
}

func TestUpdateRevalidatesPairing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Pair(context.Background(), "dc2", true))

	require.NoError(t, f.mgr.Update("dc2", &types.ClusterUpdate{
		CustomProperties: map[string]string{types.PropRPCProtection: "privacy"},
	}))
	assert.Equal(t, types.PairStatusSuspended, f.cluster(t, "dc1").PairStatusWith("dc2"))
	assert.Equal(t, types.PairStatusSuspended, f.cluster(t, "dc2").PairStatusWith("dc1"))

	_, total, err := f.store.QueryEvents(storage.ListOptions{
		FilterBy: map[string][]string{"eventType": {string(types.EventClusterPairSuspended)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	require.NoError(t, f.mgr.Update("dc2", &types.ClusterUpdate{
		CustomProperties: map[string]string{types.PropRPCProtection: ""},
	}))
	assert.Equal(t, types.PairStatusPaired, f.cluster(t, "dc1").PairStatusWith("dc2"))
	assert.Equal(t, types.PairStatusPaired, f.cluster(t, "dc2").PairStatusWith("dc1"))
	assert.Equal(t, 4, f.cluster(t, "dc2").Version)
}

func TestUpdateMovesPeersBothWays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Submit(&types.Cluster{Name: "dc3", BeaconEndpoint: "http://dc3:25968"}))
	require.NoError(t, f.mgr.Pair(ctx, "dc2", true))
	require.NoError(t, f.mgr.Pair(ctx, "dc3", true))

	// dc3 moves to privacy, which suspends its pairing with dc1
	require.NoError(t, f.mgr.Update("dc3", &types.ClusterUpdate{
		CustomProperties: map[string]string{types.PropRPCProtection: "privacy"},
	}))
	require.Equal(t, types.PairStatusSuspended, f.cluster(t, "dc1").PairStatusWith("dc3"))
	require.Equal(t, types.PairStatusPaired, f.cluster(t, "dc1").PairStatusWith("dc2"))

	// dc1 follows: dc3 is restored and dc2 suspended by the same update
	require.NoError(t, f.mgr.Update("dc1", &types.ClusterUpdate{
		CustomProperties: map[string]string{types.PropRPCProtection: "privacy"},
	}))

	local := f.cluster(t, "dc1")
	assert.Equal(t, types.PairStatusSuspended, local.PairStatusWith("dc2"))
	assert.Equal(t, types.PairStatusPaired, local.PairStatusWith("dc3"))
	assert.Equal(t, types.PairStatusSuspended, f.cluster(t, "dc2").PairStatusWith("dc1"))
	assert.Equal(t, types.PairStatusPaired, f.cluster(t, "dc3").PairStatusWith("dc1"))

	latest, _, err := f.store.QueryEvents(storage.ListOptions{NumResults: 3})
	require.NoError(t, err)
	require.Len(t, latest, 3)

	got := map[types.EventType]string{}
	for _, e := range latest {
		assert.Equal(t, "dc1", e.EntityName)
		got[e.Type] = e.Message
	}
	assert.Contains(t, got, types.EventClusterUpdated)
	assert.Contains(t, got[types.EventClusterPairSuspended], "dc2")
	assert.Contains(t, got[types.EventClusterPairRestored], "dc3")
	assert.Equal(t, latest[0].ID-2, latest[2].ID)
}

func TestUpdateMergesFields(t *testing.T) {
	f := newFixture(t)
	desc := "disaster recovery site"
	endpoint := "http://dc2-new:25968"

	require.NoError(t, f.mgr.Update("dc2", &types.ClusterUpdate{
		Description:    &desc,
		BeaconEndpoint: &endpoint,
		Tags:           []string{"dr"},
	}))

	c := f.cluster(t, "dc2")
	assert.Equal(t, desc, c.Description)
	assert.Equal(t, endpoint, c.BeaconEndpoint)
	assert.Equal(t, []string{"dr"}, c.Tags)
	assert.Equal(t, 2, c.Version)
}

func TestUpdateImmutableFields(t *testing.T) {
	f := newFixture(t)
	local := true
	empty := ""

	assert.True(t, errdefs.Is(f.mgr.Update("dc2", &types.ClusterUpdate{Name: "dc3"}), errdefs.Invalid))
	assert.True(t, errdefs.Is(f.mgr.Update("dc2", &types.ClusterUpdate{Local: &local}), errdefs.Invalid))
	assert.True(t, errdefs.Is(f.mgr.Update("dc2", &types.ClusterUpdate{BeaconEndpoint: &empty}), errdefs.Invalid))
	assert.True(t, errdefs.Is(f.mgr.Update("dc9", &types.ClusterUpdate{}), errdefs.NotFound))
}
