/*
Package driver defines the device protocol contract and the built-in
protocol implementations.

A driver is bound to one device by the connection args of the request
that built it. Workers drive it through a fixed call sequence: Connect,
then Send or Config, then Disconnect. Command failures fold into the
per-command DriverExecutionResult rather than aborting the job, so
partial results always reach the caller.

Built-in drivers:

	ssh    exec over SSH channels; session-oriented, so jobs default to
	       the pinned queue and the worker holds the connection open
	       between jobs, probed by keepalive requests
	eapi   Arista-style JSON-RPC over HTTP(S); stateless, defaults to
	       the shared FIFO queue
	mock   loopback echo driver for tests and dry runs

Session-oriented drivers may implement Keepaliver; pinned workers probe
idle sessions through it and tear themselves down when the probe fails.

Drivers never touch the state store. Everything they learn about the
device flows back through their return values.
*/
package driver
