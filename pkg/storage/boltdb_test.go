package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func commit(t *testing.T, store *BoltStore, fn func(tx *Tx)) {
	t.Helper()
	tx := store.Begin()
	fn(tx)
	require.NoError(t, tx.Commit())
}

func TestClusterCRUD(t *testing.T) {
	store := newTestStore(t)

	commit(t, store, func(tx *Tx) {
		tx.PutCluster(&types.Cluster{Name: "dc1", Local: true, BeaconEndpoint: "http://dc1:25968"})
		tx.PutCluster(&types.Cluster{Name: "dc2", BeaconEndpoint: "http://dc2:25968"})
	})

	got, err := store.GetCluster("dc2")
	require.NoError(t, err)
	assert.Equal(t, "http://dc2:25968", got.BeaconEndpoint)

	local, err := store.GetLocalCluster()
	require.NoError(t, err)
	assert.Equal(t, "dc1", local.Name)

	commit(t, store, func(tx *Tx) { tx.DeleteCluster("dc2") })

	_, err = store.GetCluster("dc2")
	assert.True(t, errdefs.Is(err, errdefs.NotFound))
}

func TestGetPolicyIgnoresRetired(t *testing.T) {
	store := newTestStore(t)

	commit(t, store, func(tx *Tx) {
		tx.PutPolicy(&types.ReplicationPolicy{
			PolicyID:       "/dc1/fs/1",
			Name:           "fs",
			Status:         types.PolicyStatusDeleted,
			RetirementTime: time.Now(),
		})
	})

	_, err := store.GetPolicy("fs")
	assert.True(t, errdefs.Is(err, errdefs.NotFound))

	commit(t, store, func(tx *Tx) {
		tx.PutPolicy(&types.ReplicationPolicy{PolicyID: "/dc1/fs/2", Name: "fs", Status: types.PolicyStatusSubmitted})
	})

	p, err := store.GetPolicy("fs")
	require.NoError(t, err)
	assert.Equal(t, "/dc1/fs/2", p.PolicyID)

	byID, err := store.GetPolicyByID("/dc1/fs/1")
	require.NoError(t, err)
	assert.Equal(t, types.PolicyStatusDeleted, byID.Status)
}

func TestInstancesOrderedBySequence(t *testing.T) {
	store := newTestStore(t)
	policyID := "/dc1/fs/1"

	commit(t, store, func(tx *Tx) {
		for _, seq := range []int{2, 10, 1} {
			tx.PutInstance(&types.PolicyInstance{
				InstanceID: InstanceID(policyID, seq),
				PolicyID:   policyID,
				Sequence:   seq,
				Status:     types.InstanceStatusSucceeded,
			})
		}
		// A policy whose id shares the prefix must not leak in
		tx.PutInstance(&types.PolicyInstance{InstanceID: InstanceID(policyID+"0", 1), PolicyID: policyID + "0", Sequence: 1})
	})

	instances, err := store.ListInstances(policyID)
	require.NoError(t, err)
	require.Len(t, instances, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{instances[0].Sequence, instances[1].Sequence, instances[2].Sequence})

	latest, err := store.LatestInstance(policyID)
	require.NoError(t, err)
	assert.Equal(t, policyID+"@10", latest.InstanceID)

	got, err := store.GetInstance(policyID + "@2")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Sequence)
}

func TestQueryInstancesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	policyID := "/dc1/fs/1"

	commit(t, store, func(tx *Tx) {
		for seq := 1; seq <= 5; seq++ {
			status := types.InstanceStatusSucceeded
			if seq%2 == 0 {
				status = types.InstanceStatusFailed
			}
			tx.PutInstance(&types.PolicyInstance{
				InstanceID: InstanceID(policyID, seq),
				PolicyID:   policyID,
				Sequence:   seq,
				Status:     status,
			})
		}
	})

	page, total, err := store.QueryInstances(policyID, ListOptions{NumResults: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, 5, page[0].Sequence)
	assert.Equal(t, 4, page[1].Sequence)

	failed, total, err := store.QueryInstances(policyID, ListOptions{FilterBy: map[string][]string{"status": {"FAILED"}}, SortOrder: "asc"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, failed[0].Sequence)

	page, total, err = store.QueryInstances(policyID, ListOptions{Offset: 9})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, page)

	commit(t, store, func(tx *Tx) { tx.RetireInstances(policyID, time.Now()) })
	_, total, err = store.QueryInstances(policyID, ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestParseInstanceID(t *testing.T) {
	policyID, seq, err := ParseInstanceID("/dc1/fs/abc@12")
	require.NoError(t, err)
	assert.Equal(t, "/dc1/fs/abc", policyID)
	assert.Equal(t, 12, seq)

	for _, bad := range []string{"", "@1", "/dc1/fs/abc", "/dc1/fs/abc@x"} {
		_, _, err := ParseInstanceID(bad)
		assert.True(t, errdefs.Is(err, errdefs.Invalid), bad)
	}
}

func TestQueryPoliciesPagination(t *testing.T) {
	store := newTestStore(t)

	commit(t, store, func(tx *Tx) {
		for i := 0; i < 5; i++ {
			tx.PutPolicy(&types.ReplicationPolicy{
				PolicyID:      fmt.Sprintf("/dc1/p%d/id", i),
				Name:          fmt.Sprintf("p%d", i),
				Type:          types.PolicyTypeFS,
				SourceCluster: "dc1",
				TargetCluster: "dc2",
				Status:        types.PolicyStatusRunning,
			})
		}
	})

	tests := []struct {
		name      string
		opts      ListOptions
		wantNames []string
		wantTotal int
	}{
		{
			name:      "first page",
			opts:      ListOptions{NumResults: 2},
			wantNames: []string{"p0", "p1"},
			wantTotal: 5,
		},
		{
			name:      "descending with offset",
			opts:      ListOptions{SortOrder: "desc", Offset: 1, NumResults: 2},
			wantNames: []string{"p3", "p2"},
			wantTotal: 5,
		},
		{
			name:      "offset beyond result set",
			opts:      ListOptions{Offset: 50},
			wantNames: []string{},
			wantTotal: 5,
		},
		{
			name:      "filter by name alternatives",
			opts:      ListOptions{FilterBy: map[string][]string{"name": {"p1", "p4"}}},
			wantNames: []string{"p1", "p4"},
			wantTotal: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policies, total, err := store.QueryPolicies(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)

			names := []string{}
			for _, p := range policies {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestQueryPoliciesRejectsUnknownFields(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.QueryPolicies(ListOptions{OrderBy: "color"})
	assert.True(t, errdefs.Is(err, errdefs.Invalid))

	_, _, err = store.QueryPolicies(ListOptions{FilterBy: map[string][]string{"color": {"red"}}})
	assert.True(t, errdefs.Is(err, errdefs.Invalid))

	_, _, err = store.QueryPolicies(ListOptions{SortOrder: "sideways"})
	assert.True(t, errdefs.Is(err, errdefs.Invalid))
}

func TestQueryPoliciesRetiredOnlyOnRequest(t *testing.T) {
	store := newTestStore(t)

	commit(t, store, func(tx *Tx) {
		tx.PutPolicy(&types.ReplicationPolicy{PolicyID: "a", Name: "a", Status: types.PolicyStatusRunning})
		tx.PutPolicy(&types.ReplicationPolicy{PolicyID: "b", Name: "b", Status: types.PolicyStatusDeleted, RetirementTime: time.Now()})
	})

	_, total, err := store.QueryPolicies(ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	deleted, total, err := store.QueryPolicies(ListOptions{FilterBy: map[string][]string{"status": {"deleted"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "b", deleted[0].Name)
}

func TestQueryEvents(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	commit(t, store, func(tx *Tx) {
		tx.AddEvent(&types.Event{EntityType: types.EntityCluster, Type: types.EventClusterSubmitted, EntityName: "dc1", Timestamp: base})
		tx.AddEvent(&types.Event{EntityType: types.EntityPolicy, Type: types.EventPolicySubmitted, EntityName: "fs", Timestamp: base.Add(time.Minute)})
		tx.AddEvent(&types.Event{EntityType: types.EntityPolicy, Type: types.EventPolicyScheduled, EntityName: "fs", Timestamp: base.Add(2 * time.Minute)})
	})

	events, total, err := store.QueryEvents(ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, int64(3), events[0].ID)
	assert.Equal(t, types.EventPolicyScheduled, events[0].Type)

	events, total, err = store.QueryEvents(ListOptions{FilterBy: map[string][]string{"entityType": {"POLICY"}}, SortOrder: SortAsc})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, types.EventPolicySubmitted, events[0].Type)

	_, total, err = store.QueryEvents(ListOptions{Start: base.Add(30 * time.Second), End: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestParseFilterBy(t *testing.T) {
	filters, err := ParseFilterBy("name:fs, status:RUNNING|SUSPENDED")
	require.NoError(t, err)
	assert.Equal(t, []string{"fs"}, filters["name"])
	assert.Equal(t, []string{"RUNNING", "SUSPENDED"}, filters["status"])

	empty, err := ParseFilterBy("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseFilterBy("status")
	assert.True(t, errdefs.Is(err, errdefs.Invalid))
}
