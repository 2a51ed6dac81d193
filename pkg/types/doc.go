/*
Package types defines the core data structures used throughout NetPulse.

This package contains all fundamental types that represent NetPulse's domain
model, including node and worker registry records, jobs and their lifecycle,
execution requests, driver results, and queue naming conventions. These types
are used by all other packages for state management, API communication, and
dispatch logic.

# Architecture

The types package is the foundation of NetPulse's data model. It defines:

  - Node capacity records (NodeInfo) and host→node bindings
  - Worker registry records (WorkerInfo) with heartbeat tracking
  - Job lifecycle (queued → started → finished/failed/canceled)
  - Execution request payloads (command/config, rendering, parsing, webhook)
  - Per-command driver results with telemetry
  - Queue naming conventions (FifoQ, NodeQ_<hostname>, HostQ_<host>)

All types are designed to be:
  - Serializable (JSON, both on the wire and in the state store)
  - Validated at construction (ExecutionRequest.Validate)
  - Self-documenting (constants for enums, helpers for invariants)

# Core Types

The main types in this package are:

  - NodeInfo: one record per node worker, tracking pinned-host count
    against capacity
  - Job: a single unit of work with status, timestamps, TTLs, and callbacks
  - ExecutionRequest: typed request payload carrying exactly one of
    command or config plus optional rendering/parsing/webhook sections
  - DriverExecutionResult: per-command output, error, exit status, and
    telemetry
  - WorkerInfo: registry record used for liveness checks

# Queue Naming

Three queue families exist. The shared FIFO queue is named by FifoQueue.
Each node listens on NodeQueue(hostname) for control-plane tasks, and each
pinned target host has a dedicated HostQueue(host) consumed by exactly one
pinned worker at a time.
*/
package types
