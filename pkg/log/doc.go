/*
Package log provides structured logging for NetPulse using zerolog.

Every process initializes one root logger through Init and derives child
loggers from it with the With* helpers, so each line carries the context
needed to follow a job across the dispatcher, node, and pinned worker
that touched it.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Root Logger                      │          │
	│  │  - One zerolog instance per process         │          │
	│  │  - Built once by log.Init()                 │          │
	│  │  - Safe for concurrent writes               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("dispatcher")              │          │
	│  │  - WithWorker("node-1_HostQ_10.0.0.1")      │          │
	│  │  - WithJobID("5f0c...")                     │          │
	│  │  - WithHost("10.0.0.1")                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "dispatcher",               │          │
	│  │    "time": "2025-06-02T10:30:00Z",         │          │
	│  │    "message": "job enqueued"                │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF job enqueued component=dispatcher │       │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Context Fields

The helpers attach the fields operators filter on:

  - WithComponent: subsystem emitting the line (dispatcher, worker, api)
  - WithWorker: worker name, including the host-queue suffix for pinned
    workers
  - WithJobID: job id, the correlation key across processes
  - WithHost: target device address

# Usage

Initializing the Logger:

	import "github.com/netpulse/netpulse/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Structured Logging:

	log.Logger.Info().
		Str("job_id", job.ID).
		Str("queue", job.Queue).
		Msg("job enqueued")

	log.Logger.Error().
		Err(err).
		Str("host", host).
		Msg("device connection failed")

Component Loggers:

	dispatchLog := log.WithComponent("dispatcher")
	dispatchLog.Info().Msg("starting dispatch loop")

	workerLog := log.WithWorker("node-1").
		With().Str("host", "10.0.0.1").Logger()
	workerLog.Info().Msg("pinned worker spawned")

# Integration Points

This package integrates with:

  - pkg/manager: Logs dispatch decisions and node lifecycle
  - pkg/worker: Logs job execution, spawn, and heartbeats
  - pkg/executor: Logs pipeline stages per host
  - pkg/driver: Logs device connections and command runs
  - pkg/api: Logs API requests and errors

# Conventions

Lines about one job always carry job_id; lines from a worker always
carry the worker name. Device credentials and API keys never appear in
any field. Per-command driver chatter logs at debug so an unfiltered
production stream stays one line per job transition.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
