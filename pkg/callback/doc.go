/*
Package callback holds the process-local registry of functions a job can
name in its on_success and on_failure hooks.

Jobs carry callback names, never code: the dispatcher stores a name
like rpc_webhook_callback on the job record and the worker that
finishes the job resolves it here. A name that does not resolve fails
the callback phase and is recorded on the job through the exception
path; it never crashes the worker.

Two callbacks are registered:

  - rpc_exception_callback normalizes the failure into the job's
    (error_type, error_message) meta tuple and persists it.
  - rpc_webhook_callback delivers the terminal state over HTTP. On the
    failure path it runs the exception callback first so the delivered
    tuple matches the job record, then POSTs with status "failed".
    Staged files referenced by the webhook spec are removed after
    delivery regardless of outcome.
*/
package callback
