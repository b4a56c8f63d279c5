package events

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// Recorder persists audit events with the state change they describe and
// publishes them once the change commits
type Recorder struct {
	store  storage.Store
	broker *Broker
	logger zerolog.Logger
}

// NewRecorder creates a recorder. broker may be nil.
func NewRecorder(store storage.Store, broker *Broker) *Recorder {
	return &Recorder{
		store:  store,
		broker: broker,
		logger: log.WithComponent("events"),
	}
}

// Record appends event to tx
func (r *Recorder) Record(tx *storage.Tx, event *types.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = types.SeverityInfo
	}

	tx.AddEvent(event)
	tx.AfterCommit(func() {
		metrics.EventsRecordedTotal.WithLabelValues(string(event.EntityType)).Inc()
		r.logger.Debug().
			Int64("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Str("entity", event.EntityName).
			Msg(event.Message)
		if r.broker != nil {
			r.broker.Publish(event)
		}
	})
}

// RecordNow records an event in its own transaction
func (r *Recorder) RecordNow(event *types.Event) error {
	tx := r.store.Begin()
	defer tx.Rollback()

	r.Record(tx, event)
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to record event %s: %w", event.Type, err)
	}
	return nil
}

// List returns the events selected by opts and the total number of matches
func (r *Recorder) List(opts storage.ListOptions) ([]*types.Event, int, error) {
	return r.store.QueryEvents(opts)
}

// ClusterEvent builds a cluster lifecycle event
func ClusterEvent(eventType types.EventType, cluster, format string, args ...interface{}) *types.Event {
	return &types.Event{
		EntityType: types.EntityCluster,
		Type:       eventType,
		EntityName: cluster,
		Message:    fmt.Sprintf(format, args...),
	}
}

// PolicyEvent builds a policy lifecycle event
func PolicyEvent(eventType types.EventType, policy *types.ReplicationPolicy, syncEvent bool, format string, args ...interface{}) *types.Event {
	return &types.Event{
		EntityType: types.EntityPolicy,
		Type:       eventType,
		EntityName: policy.Name,
		PolicyID:   policy.PolicyID,
		SyncEvent:  syncEvent,
		Message:    fmt.Sprintf(format, args...),
	}
}

// InstanceEvent builds a policy instance event
func InstanceEvent(eventType types.EventType, instance *types.PolicyInstance, severity types.Severity, format string, args ...interface{}) *types.Event {
	return &types.Event{
		EntityType: types.EntityPolicy,
		Type:       eventType,
		EntityName: instance.Name,
		PolicyID:   instance.PolicyID,
		InstanceID: instance.InstanceID,
		Severity:   severity,
		Message:    fmt.Sprintf(format, args...),
	}
}

// SystemEvent builds a server level event
func SystemEvent(eventType types.EventType, severity types.Severity, format string, args ...interface{}) *types.Event {
	return &types.Event{
		EntityType: types.EntitySystem,
		Type:       eventType,
		Severity:   severity,
		Message:    fmt.Sprintf(format, args...),
	}
}
