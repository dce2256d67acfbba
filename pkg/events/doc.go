/*
Package events provides an in-memory event broker for cluster observability.

It implements a lightweight, non-blocking pub/sub bus: publishers call
Publish and return immediately, subscribers read from their own buffered
channel at whatever pace they can manage. There is no persistence, no
replay, and no delivery guarantee — a subscriber with a full buffer simply
misses events rather than blocking the publisher.

# Architecture

	Publisher -> Broker.events (buffer: 100) -> broadcast loop -> one channel
	per Subscriber (buffer: 50), fanned out without blocking on any of them.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:     events.EventGroupSubmitted,
		Message:  "group submitted",
		Metadata: map[string]string{"groupId": id},
	})

# Integration points

  - pkg/cluster: publishes group and agent lifecycle events from six of
    its raft-applied mutations (SubmitGroup, UpdateGroup, KillGroup,
    AddAgent, RemoveAgent, FreezeAgent); the others publish nothing.
  - pkg/api: streams the broker over GET /v1/events as newline-delimited
    JSON, for "orbitctl events watch" and other external observers.

# Limitations

No persistence or history: a subscriber only sees events published after
it subscribes. No topic filtering at the broker; subscribers filter by
Event.Type themselves. Not a substitute for the raft log or the bolt
snapshot store — losing events here loses nothing that storage needs.
*/
package events
