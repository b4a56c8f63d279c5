package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/types"
)

func writeResult(w http.ResponseWriter, code int, status types.APIStatus, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.APIResult{Status: status, Message: msg})
}

func TestSyncPolicyStatusRequest(t *testing.T) {
	var gotPath, gotStatus, gotInternal, gotUser string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotStatus = r.URL.Query().Get("status")
		gotInternal = r.URL.Query().Get("isInternalStatusSync")
		gotUser = r.Header.Get(UserHeader)
		writeResult(w, http.StatusOK, types.APIStatusSucceeded, "ok")
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", time.Second).WithUser("beacon")
	err := c.SyncPolicyStatus(context.Background(), "fs-daily", types.PolicyStatusRunning, true)
	require.NoError(t, err)

	assert.Equal(t, "/api/beacon/policy/syncStatus/fs-daily", gotPath)
	assert.Equal(t, "RUNNING", gotStatus)
	assert.Equal(t, "true", gotInternal)
	assert.Equal(t, "beacon", gotUser)
}

func TestSyncPolicySendsDefinition(t *testing.T) {
	var got types.ReplicationPolicy
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/beacon/policy/sync/fs-daily", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeResult(w, http.StatusOK, types.APIStatusSucceeded, "synced")
	}))
	defer server.Close()

	policy := &types.ReplicationPolicy{Name: "fs-daily", PolicyID: "/dc1/fs-daily/1", ExecutionType: types.ExecutionFS}
	require.NoError(t, NewClient(server.URL, time.Second).SyncPolicy(context.Background(), policy))

	assert.Equal(t, "/dc1/fs-daily/1", got.PolicyID)
	assert.Equal(t, types.ExecutionFS, got.ExecutionType)
}

func TestSyncDeletePolicyNamesGeneration(t *testing.T) {
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/beacon/policy/delete/fs-daily", r.URL.Path)
		query = r.URL.Query()
		writeResult(w, http.StatusOK, types.APIStatusSucceeded, "deleted")
	}))
	defer server.Close()

	require.NoError(t, NewClient(server.URL, time.Second).SyncDeletePolicy(context.Background(), "fs-daily", "/dc1/fs-daily/1"))
	assert.Equal(t, "true", query.Get("isInternalSyncDelete"))
	assert.Equal(t, "/dc1/fs-daily/1", query.Get("policyId"))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		wantRejected bool
	}{
		{name: "validation failure", code: http.StatusBadRequest, wantRejected: true},
		{name: "not found", code: http.StatusNotFound, wantRejected: true},
		{name: "entity locked", code: http.StatusConflict, wantRejected: false},
		{name: "throttled", code: http.StatusTooManyRequests, wantRejected: false},
		{name: "server failure", code: http.StatusInternalServerError, wantRejected: false},
		{name: "peer unavailable", code: http.StatusBadGateway, wantRejected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeResult(w, tt.code, types.APIStatusFailed, "policy fs-daily is in status SUBMITTED")
			}))
			defer server.Close()

			err := NewClient(server.URL, time.Second).SyncDeletePolicy(context.Background(), "fs-daily", "")
			require.Error(t, err)
			assert.Equal(t, tt.wantRejected, IsRejected(err))
			assert.Equal(t, tt.code, StatusCode(err))
			assert.Contains(t, err.Error(), "policy fs-daily is in status SUBMITTED")
		})
	}
}

func TestUnreachablePeer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	err := NewClient(endpoint, time.Second).PairClusters(context.Background(), "dc1", true)
	require.Error(t, err)
	assert.False(t, IsRejected(err))
	assert.Equal(t, 0, StatusCode(err))
}

func TestConcurrentIdenticalCallsCollapse(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		writeResult(w, http.StatusOK, types.APIStatusSucceeded, "ok")
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.SyncPolicyStatus(context.Background(), "fs", types.PolicyStatusSuspended, true))
		}()
	}

	// Wait for the first request to reach the server before releasing it
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestListPoliciesDecodesPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "status:RUNNING", r.URL.Query().Get("filterBy"))
		_ = json.NewEncoder(w).Encode(types.PolicyList{
			TotalResults: 3,
			Results:      1,
			Policies:     []*types.ReplicationPolicy{{Name: "fs"}},
		})
	}))
	defer server.Close()

	list, err := NewClient(server.URL, time.Second).ListPolicies(context.Background(), map[string][]string{"filterBy": {"status:RUNNING"}})
	require.NoError(t, err)
	assert.Equal(t, 3, list.TotalResults)
	assert.Equal(t, "fs", list.Policies[0].Name)
}

func TestPoolReusesClients(t *testing.T) {
	pool := NewPool(time.Second)
	a := pool.Get("http://dc2:25968/")
	b := pool.Get("http://dc2:25968")
	assert.Same(t, a, b)
	assert.NotSame(t, a, pool.Get("http://dc3:25968"))
}
