package cluster

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/errdefs"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/lock"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// Peer is the part of the remote Beacon API used for pairing
type Peer interface {
	PairClusters(ctx context.Context, remoteCluster string, isInternal bool) error
	UnpairClusters(ctx context.Context, remoteCluster string, isInternal bool) error
}

// PeerResolver returns the client of the Beacon server at endpoint
type PeerResolver func(endpoint string) Peer

// Manager owns cluster entities and the pairing between them
type Manager struct {
	store     storage.Store
	locks     *lock.Table
	recorder  *events.Recorder
	peers     PeerResolver
	localName string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager creates a cluster manager for the server of cluster localName
func NewManager(store storage.Store, locks *lock.Table, recorder *events.Recorder, peers PeerResolver, localName string) *Manager {
	return &Manager{
		store:     store,
		locks:     locks,
		recorder:  recorder,
		peers:     peers,
		localName: localName,
		logger:    log.WithComponent("cluster"),
		now:       time.Now,
	}
}

func observe(op string, err *error) {
	metrics.ClusterOperationsTotal.WithLabelValues(op, metrics.ResultLabel(*err)).Inc()
}

// acquire takes the locks of every named cluster, releasing them all if one
// is already held
func (m *Manager) acquire(command string, names ...string) (func(), error) {
	keys := make([]string, 0, len(names))
	for _, n := range names {
		keys = append(keys, lock.ClusterKey(n))
	}
	sort.Strings(keys)

	var held []string
	release := func() {
		for _, k := range held {
			m.locks.Release(k)
		}
	}
	for _, k := range keys {
		if err := m.locks.TryAcquire(k, command); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}
	return release, nil
}

// Submit registers a new cluster
func (m *Manager) Submit(cluster *types.Cluster) (err error) {
	defer observe("submit", &err)

	if cluster.Name == "" {
		return errdefs.Invalidf("cluster name is required")
	}
	if cluster.BeaconEndpoint == "" {
		return errdefs.Invalidf("beaconEndpoint is required for cluster %s", cluster.Name)
	}
	if cluster.Local && cluster.Name != m.localName {
		return errdefs.Invalidf("local cluster of this server is %s, not %s", m.localName, cluster.Name)
	}
	if !cluster.Local && cluster.Name == m.localName {
		return errdefs.Invalidf("cluster %s is the local cluster and must be submitted with local=true", cluster.Name)
	}

	release, err := m.acquire("submit", cluster.Name)
	if err != nil {
		return err
	}
	defer release()

	if _, err := m.store.GetCluster(cluster.Name); err == nil {
		return errdefs.Conflictf("cluster %s already exists", cluster.Name)
	} else if !errdefs.Is(err, errdefs.NotFound) {
		return err
	}
	if cluster.Local {
		if local, err := m.store.GetLocalCluster(); err == nil {
			return errdefs.Conflictf("local cluster %s already exists", local.Name)
		}
	}

	now := m.now().UTC()
	c := cluster.Clone()
	c.Peers = nil
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now

	tx := m.store.Begin()
	defer tx.Rollback()

	tx.PutCluster(c)
	m.recorder.Record(tx, events.ClusterEvent(types.EventClusterSubmitted, c.Name, "cluster %s submitted", c.Name))
	if err := tx.Commit(); err != nil {
		return errdefs.Wrap(err, errdefs.Internal, "failed to submit cluster %s", c.Name)
	}

	logger := log.WithCluster(m.logger, c.Name)
	logger.Info().Bool("local", c.Local).Msg("Cluster submitted")
	return nil
}

// Get returns a cluster
func (m *Manager) Get(name string) (*types.Cluster, error) {
	return m.store.GetCluster(name)
}

// Local returns the local cluster
func (m *Manager) Local() (*types.Cluster, error) {
	return m.store.GetLocalCluster()
}

// List returns the clusters selected by opts and the number of matches
func (m *Manager) List(opts storage.ListOptions) ([]*types.Cluster, int, error) {
	return m.store.QueryClusters(opts)
}

// Update applies changes to a cluster and revalidates its pairings. Pairings
// that no longer validate are suspended and suspended pairings that validate
// again are restored, atomically with the update.
func (m *Manager) Update(name string, changes *types.ClusterUpdate) (err error) {
	defer observe("update", &err)

	release, err := m.acquire("update", name)
	if err != nil {
		return err
	}
	defer release()

	existing, err := m.store.GetCluster(name)
	if err != nil {
		return err
	}
	if changes.Name != "" && changes.Name != name {
		return errdefs.Invalidf("cluster name cannot be changed from %s to %s", name, changes.Name)
	}
	if changes.Local != nil && *changes.Local != existing.Local {
		return errdefs.Invalidf("local flag of cluster %s cannot be changed", name)
	}

	updated := existing.Clone()
	applyChanges(updated, changes)
	if updated.BeaconEndpoint == "" {
		return errdefs.Invalidf("beaconEndpoint is required for cluster %s", name)
	}
	updated.Version++
	updated.UpdatedAt = m.now().UTC()

	tx := m.store.Begin()
	defer tx.Rollback()

	transitions := m.revalidatePairing(updated)
	for peer, status := range transitions {
		updated.SetPeer(peer, status)
	}
	tx.PutCluster(updated)
	m.recorder.Record(tx, events.ClusterEvent(types.EventClusterUpdated, name, "cluster %s updated to version %d", name, updated.Version))

	for peer, status := range transitions {
		peer, status := peer, status
		tx.MutateCluster(peer, func(c *types.Cluster) error {
			c.SetPeer(name, status)
			return nil
		})

		eventType := types.EventClusterPairRestored
		if status == types.PairStatusSuspended {
			eventType = types.EventClusterPairSuspended
		}
		m.recorder.Record(tx, events.ClusterEvent(eventType, name, "pairing of %s with %s is now %s", name, peer, status))
	}

	if err := tx.Commit(); err != nil {
		return errdefs.Wrap(err, errdefs.Internal, "failed to update cluster %s", name)
	}

	logger := log.WithCluster(m.logger, name)
	logger.Info().Int("version", updated.Version).Int("pairing_changes", len(transitions)).Msg("Cluster updated")
	return nil
}

func applyChanges(c *types.Cluster, changes *types.ClusterUpdate) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&c.Description, changes.Description)
	set(&c.DataCenter, changes.DataCenter)
	set(&c.BeaconEndpoint, changes.BeaconEndpoint)
	set(&c.FsEndpoint, changes.FsEndpoint)
	set(&c.HsEndpoint, changes.HsEndpoint)
	set(&c.RangerEndpoint, changes.RangerEndpoint)
	set(&c.AtlasEndpoint, changes.AtlasEndpoint)

	for k, v := range changes.CustomProperties {
		if v == "" {
			delete(c.CustomProperties, k)
			continue
		}
		c.CustomProperties[k] = v
	}
	if changes.Tags != nil {
		c.Tags = append([]string(nil), changes.Tags...)
	}
}

// revalidatePairing validates updated against each of its peers and returns
// the pair status changes to apply
func (m *Manager) revalidatePairing(updated *types.Cluster) map[string]types.PairStatus {
	transitions := make(map[string]types.PairStatus)
	for peerName, status := range updated.Peers {
		peer, err := m.store.GetCluster(peerName)
		if err != nil {
			m.logger.Warn().Err(err).Str("peer", peerName).Msg("Paired cluster missing during revalidation")
			continue
		}

		err = ValidatePairing(updated.Clone(), peer.Clone())
		switch {
		case err != nil && status == types.PairStatusPaired:
			logger := log.WithCluster(m.logger, updated.Name)
			logger.Warn().Err(err).Str("peer", peerName).Msg("Suspending pairing")
			transitions[peerName] = types.PairStatusSuspended
		case err == nil && status == types.PairStatusSuspended:
			transitions[peerName] = types.PairStatusPaired
		}
	}
	return transitions
}

// ValidatePairing checks that two clusters can replicate with each other
func ValidatePairing(local, remote *types.Cluster) error {
	if remote.BeaconEndpoint == "" {
		return errdefs.Invalidf("cluster %s has no beaconEndpoint", remote.Name)
	}
	if local.IsSecure() != remote.IsSecure() {
		return errdefs.Invalidf("security mismatch: cluster %s secure=%t, cluster %s secure=%t",
			local.Name, local.IsSecure(), remote.Name, remote.IsSecure())
	}
	if local.RPCProtection() != remote.RPCProtection() {
		return errdefs.Invalidf("%s mismatch: cluster %s has %q, cluster %s has %q",
			types.PropRPCProtection, local.Name, local.RPCProtection(), remote.Name, remote.RPCProtection())
	}
	return nil
}

// Delete removes an unpaired cluster
func (m *Manager) Delete(name string) (err error) {
	defer observe("delete", &err)

	release, err := m.acquire("delete", name)
	if err != nil {
		return err
	}
	defer release()

	c, err := m.store.GetCluster(name)
	if err != nil {
		return err
	}
	if len(c.Peers) > 0 {
		peers := make([]string, 0, len(c.Peers))
		for p := range c.Peers {
			peers = append(peers, p)
		}
		sort.Strings(peers)
		return errdefs.Invalidf("cluster %s is paired with %s, unpair first", name, strings.Join(peers, ", "))
	}

	tx := m.store.Begin()
	defer tx.Rollback()

	tx.DeleteCluster(name)
	m.recorder.Record(tx, events.ClusterEvent(types.EventClusterDeleted, name, "cluster %s deleted", name))
	if err := tx.Commit(); err != nil {
		return errdefs.Wrap(err, errdefs.Internal, "failed to delete cluster %s", name)
	}

	logger := log.WithCluster(m.logger, name)
	logger.Info().Msg("Cluster deleted")
	return nil
}

// localAndRemote loads the local cluster and the named remote cluster
func (m *Manager) localAndRemote(remote string) (*types.Cluster, *types.Cluster, error) {
	local, err := m.store.GetLocalCluster()
	if err != nil {
		if errdefs.Is(err, errdefs.NotFound) {
			return nil, nil, errdefs.Invalidf("local cluster %s has not been submitted", m.localName)
		}
		return nil, nil, err
	}
	if remote == "" {
		return nil, nil, errdefs.Invalidf("remoteClusterName is required")
	}
	if remote == local.Name {
		return nil, nil, errdefs.Invalidf("cluster %s cannot be paired with itself", remote)
	}
	rc, err := m.store.GetCluster(remote)
	if err != nil {
		return nil, nil, err
	}
	return local, rc, nil
}

func peerError(err error, op, remote string) error {
	if client.IsRejected(err) {
		return errdefs.Wrap(err, errdefs.Invalid, "remote cluster %s rejected %s", remote, op)
	}
	return errdefs.Upstreamf(err, "failed to %s remote cluster %s", op, remote)
}

// Pair pairs the local cluster with remote. Unless isInternal, the remote
// server is asked to record the pairing too and a failure there undoes the
// local change. Pairing an already paired cluster succeeds without change.
func (m *Manager) Pair(ctx context.Context, remote string, isInternal bool) (err error) {
	defer observe("pair", &err)

	local, rc, err := m.localAndRemote(remote)
	if err != nil {
		return err
	}

	release, err := m.acquire("pair", local.Name, remote)
	if err != nil {
		return err
	}
	defer release()

	// reload under the locks
	if local, rc, err = m.localAndRemote(remote); err != nil {
		return err
	}
	if err := ValidatePairing(local.Clone(), rc.Clone()); err != nil {
		return err
	}

	previous := local.PairStatusWith(remote)
	if previous == types.PairStatusPaired {
		logger := log.WithCluster(m.logger, local.Name)
		logger.Debug().Str("peer", remote).Msg("Clusters already paired")
		return nil
	}

	now := m.now().UTC()
	tx := m.store.Begin()
	defer tx.Rollback()

	tx.MutateCluster(local.Name, func(c *types.Cluster) error {
		c.SetPeer(remote, types.PairStatusPaired)
		c.Version++
		c.UpdatedAt = now
		return nil
	})
	tx.MutateCluster(remote, func(c *types.Cluster) error {
		c.SetPeer(local.Name, types.PairStatusPaired)
		c.Version++
		c.UpdatedAt = now
		return nil
	})

	eventType := types.EventClusterPaired
	if previous == types.PairStatusSuspended {
		eventType = types.EventClusterPairRestored
	}
	m.recorder.Record(tx, events.ClusterEvent(eventType, local.Name, "cluster %s paired with %s", local.Name, remote))

	if !isInternal {
		if err := m.peers(rc.BeaconEndpoint).PairClusters(ctx, local.Name, true); err != nil {
			logger := log.WithCluster(m.logger, local.Name)
			logger.Warn().Err(err).Str("peer", remote).Msg("Remote pairing failed, rolling back")
			return peerError(err, "pairing", remote)
		}
	}

	if err := tx.Commit(); err != nil {
		return errdefs.Wrap(err, errdefs.Internal, "failed to pair %s with %s", local.Name, remote)
	}

	logger := log.WithCluster(m.logger, local.Name)
	logger.Info().Str("peer", remote).Bool("internal", isInternal).Msg("Clusters paired")
	return nil
}

// Unpair removes the pairing between the local cluster and remote. It is
// refused while a SUBMITTED, RUNNING or SUSPENDED policy replicates between
// them. An internal unpair of clusters that are not paired succeeds.
func (m *Manager) Unpair(ctx context.Context, remote string, isInternal bool) (err error) {
	defer observe("unpair", &err)

	local, rc, err := m.localAndRemote(remote)
	if err != nil {
		return err
	}

	release, err := m.acquire("unpair", local.Name, remote)
	if err != nil {
		return err
	}
	defer release()

	if local, rc, err = m.localAndRemote(remote); err != nil {
		return err
	}
	if local.PairStatusWith(remote) == types.PairStatusUnpaired {
		if isInternal {
			return nil
		}
		return errdefs.Invalidf("cluster %s is not paired with %s", local.Name, remote)
	}

	active, err := m.activePolicies(local.Name, remote)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return errdefs.Invalidf("cannot unpair %s and %s: active policies %s", local.Name, remote, strings.Join(active, ", "))
	}

	now := m.now().UTC()
	tx := m.store.Begin()
	defer tx.Rollback()

	tx.MutateCluster(local.Name, func(c *types.Cluster) error {
		c.RemovePeer(remote)
		c.Version++
		c.UpdatedAt = now
		return nil
	})
	tx.MutateCluster(remote, func(c *types.Cluster) error {
		c.RemovePeer(local.Name)
		c.Version++
		c.UpdatedAt = now
		return nil
	})
	m.recorder.Record(tx, events.ClusterEvent(types.EventClusterUnpaired, local.Name, "cluster %s unpaired from %s", local.Name, remote))

	if !isInternal {
		if err := m.peers(rc.BeaconEndpoint).UnpairClusters(ctx, local.Name, true); err != nil {
			logger := log.WithCluster(m.logger, local.Name)
			logger.Warn().Err(err).Str("peer", remote).Msg("Remote unpairing failed, rolling back")
			return peerError(err, "unpairing", remote)
		}
	}

	if err := tx.Commit(); err != nil {
		return errdefs.Wrap(err, errdefs.Internal, "failed to unpair %s from %s", local.Name, remote)
	}

	logger := log.WithCluster(m.logger, local.Name)
	logger.Info().Str("peer", remote).Bool("internal", isInternal).Msg("Clusters unpaired")
	return nil
}

// activePolicies returns the names of non-terminal policies between a and b
func (m *Manager) activePolicies(a, b string) ([]string, error) {
	policies, err := m.store.ListPolicies()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range policies {
		if p.RetirementTime.IsZero() && p.Status.IsActive() && p.Between(a, b) {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// PairedPeers returns the clusters paired with the local cluster
func (m *Manager) PairedPeers() ([]*types.Cluster, error) {
	local, err := m.store.GetLocalCluster()
	if err != nil {
		return nil, err
	}

	var peers []*types.Cluster
	for name := range local.Peers {
		c, err := m.store.GetCluster(name)
		if err != nil {
			continue
		}
		peers = append(peers, c)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })
	return peers, nil
}
