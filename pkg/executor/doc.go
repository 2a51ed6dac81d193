/*
Package executor runs one job's request through the execute pipeline.

Stages, in order:

 1. Resolve the driver from the request's tag.
 2. Render, when a rendering section is present: an object payload
    merges into the template context, an inline payload is itself the
    template source. The rendered text replaces the payload and the
    rendering section is cleared.
 3. Normalize the payload into the per-command line list.
 4. Connect, Send or Config, Disconnect. Faults here fold into
    per-command results with exit status one; they never abort the
    pipeline, so partial output always reaches the caller.
 5. Parse, when a parsing section is present, storing structure into
    each result's Parsed field.

Wall-clock timeout enforcement belongs to the worker that calls
Execute; render and parse faults fail the job, driver faults do not.

Sessions are obtained through a SessionBroker. The default broker
connects per job; pinned workers install a caching broker so
consecutive jobs for one host share a device session.
*/
package executor
