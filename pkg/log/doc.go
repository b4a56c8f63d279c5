/*
Package log provides structured logging for Beacon using zerolog.

The package keeps a single global zerolog.Logger configured once at start-up
by Init. Components derive child loggers carrying the fields operators filter
on: the component name, the cluster, the policy name and id, and the request
id assigned by the REST layer.

# Architecture

	┌──────────────────── LOGGING SYSTEM ────────────────────┐
	│                                                          │
	│  log.Init(Config{Level, JSONOutput, Output})             │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────┐             │
	│  │           Global Logger                 │             │
	│  └──────────────────┬─────────────────────┘             │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────┐             │
	│  │         Component Loggers               │             │
	│  │  WithComponent("housekeeping")          │             │
	│  │  WithCluster(l, "dc1")                  │             │
	│  │  WithPolicy(l, "fs-daily", policyID)    │             │
	│  │  WithRequestID(l, requestID)            │             │
	│  └─────────────────────────────────────────┘             │
	└──────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	logger := log.WithPolicy(log.WithComponent("policy"), p.Name, p.PolicyID)
	logger.Info().
		Str("status", string(p.Status)).
		Msg("Policy scheduled")

JSON output is meant for production where logs are shipped to an aggregator;
console output is the default for interactive use.
*/
package log
