package lock

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/metrics"
)

// Key prefixes for lockable entities
const (
	clusterPrefix = "cluster:"
	policyPrefix  = "policy:"
)

// ClusterKey returns the lock key for a cluster name
func ClusterKey(name string) string {
	return clusterPrefix + name
}

// PolicyKey returns the lock key for a policy name
func PolicyKey(name string) string {
	return policyPrefix + name
}

// holder records who owns a key
type holder struct {
	Command    string
	AcquiredAt time.Time
}

// Table is the registry of entity keys currently being mutated, shared by
// the components of one server.
// Acquisition never blocks: a held key is reported as a conflict.
type Table struct {
	c *gocache.Cache
}

// NewTable creates an empty lock table
func NewTable() *Table {
	return &Table{c: gocache.New(gocache.NoExpiration, 0)}
}

// TryAcquire takes the key for command or fails with a Conflict error
func (t *Table) TryAcquire(key, command string) error {
	if err := t.c.Add(key, holder{Command: command, AcquiredAt: time.Now()}, gocache.NoExpiration); err != nil {
		metrics.LockConflictsTotal.Inc()
		current := "another command"
		if h, ok := t.Holder(key); ok {
			current = h
		}
		return errdefs.Conflictf("%s already in progress on %s", current, key)
	}
	return nil
}

// Release frees the key. Releasing a free key is a no-op.
func (t *Table) Release(key string) {
	t.c.Delete(key)
}

// Holder returns the command holding key
func (t *Table) Holder(key string) (string, bool) {
	v, ok := t.c.Get(key)
	if !ok {
		return "", false
	}
	h, _ := v.(holder)
	return h.Command, true
}

// Held returns the number of keys currently held
func (t *Table) Held() int {
	return t.c.ItemCount()
}
