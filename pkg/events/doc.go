/*
Package events fans job lifecycle notifications out to in-process
subscribers.

Every job transition is published to the store's events channel by the
process that performed it (see the queue package). The Broker is the
consume side of that channel: it decodes each payload once and hands it
to every subscriber, so a controller process observes transitions made
by workers on other machines without polling job records.

	worker A ──┐
	worker B ──┤ store channel ──▶ Broker ──▶ subscriber
	dispatcher─┘   (netpulse:jobs)       └──▶ subscriber

Publishing goes through the store, never through the Broker, so there is
no producer API here; a locally produced event would be invisible to
every other process.

Delivery is best effort twice over: the store channel itself drops
events when no consumer keeps up, and the Broker skips subscribers whose
buffers are full. Anything that needs ground truth reads job records.
*/
package events
