/*
Package events records the Beacon event log and fans new events out to
live subscribers.

# Recording

The Recorder writes events into the store's events bucket. Record takes the
open storage.Tx of the operation that caused the event, so the event is
committed with the change it describes or not at all. Subscribers only see
the event after the transaction commits.

	err := store.Update(func(tx *storage.Tx) error {
		if err := tx.PutPolicy(p); err != nil {
			return err
		}
		recorder.Record(tx, events.PolicyEvent(types.EventPolicySubmitted, p, false,
			"policy %s submitted", p.Name))
		return nil
	})

RecordNow writes a standalone event in its own transaction. It is used for
server start and stop. List pages through the log with the usual filter,
order and paging options.

The builders ClusterEvent, PolicyEvent, InstanceEvent and SystemEvent fill
the entity type, the severity and the message. PolicyEvent marks events
caused by a peer sync with SyncEvent.

# Broker

The Broker keeps a set of buffered subscriber channels. Publish never
blocks the caller: events are queued to the broker loop and dropped for any
subscriber whose buffer is full. Stop closes every subscription, which ends
the events/stream responses.

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		...
	}
*/
package events
