package lock

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/errdefs"
)

func TestTryAcquireAndRelease(t *testing.T) {
	table := NewTable()
	key := PolicyKey("fs-daily")

	require.NoError(t, table.TryAcquire(key, "schedule"))

	err := table.TryAcquire(key, "suspend")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.Conflict))
	assert.Contains(t, err.Error(), "schedule already in progress on policy:fs-daily")

	holder, ok := table.Holder(key)
	assert.True(t, ok)
	assert.Equal(t, "schedule", holder)

	table.Release(key)
	assert.NoError(t, table.TryAcquire(key, "suspend"))
}

func TestTablesDoNotShareKeys(t *testing.T) {
	a, b := NewTable(), NewTable()

	require.NoError(t, a.TryAcquire(PolicyKey("fs"), "delete"))
	require.NoError(t, b.TryAcquire(PolicyKey("fs"), "delete"))
	assert.Equal(t, 1, a.Held())
	assert.Equal(t, 1, b.Held())
}

func TestKeysAreIndependent(t *testing.T) {
	table := NewTable()

	require.NoError(t, table.TryAcquire(ClusterKey("dc1"), "pair"))
	require.NoError(t, table.TryAcquire(PolicyKey("dc1"), "submit"))
	assert.Equal(t, 2, table.Held())
}

func TestReleaseUnheldKey(t *testing.T) {
	table := NewTable()
	table.Release(ClusterKey("missing"))
	assert.Equal(t, 0, table.Held())
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	table := NewTable()
	key := ClusterKey("dc1")

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if table.TryAcquire(key, "update") == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}
