/*
Package manager assembles one Beacon server.

A Beacon server belongs to exactly one cluster. It owns the bbolt store
under server.data_dir and everything that works on it:

	                      REST API (pkg/api)
	                              │
	          ┌───────────────────┼────────────────────┐
	          ▼                   ▼                    ▼
	   cluster.Manager    policy.Orchestrator   events.Recorder
	          │             │      │     │             │
	          │             │      │     └──────► events.Broker ──► events/stream
	          │             │      ▼
	          │             │  scheduler.LocalScheduler ──► ExecRunner ──► plugin.Registry
	          │             ▼
	          │      housekeeping.Service (peer sync retries)
	          ▼             │
	      client.Pool ◄─────┘   (one REST client per paired peer)

	   metrics.Collector and health.Monitor poll the store and the paired
	   peers on their own tickers.

The scheduler reports instance and policy completion back to the
orchestrator, so the orchestrator is built after the scheduler and
registered as its listener.

# Lifecycle

New opens the store and wires the components without starting anything.
Start starts the event broker and the scheduler, re-arms the RUNNING and
SUSPENDED policies this server executes, then starts the housekeeping,
metrics and peer probe loops and records BEACON_STARTED. Run serves the
API until its context is cancelled. Shutdown stops the API first and
closes the store last.
*/
package manager
