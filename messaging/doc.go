// Package messaging provides the publish and subscribe layer on top of
// the connection manager.
//
// EventPublisher sends domain events to the shared topic exchange with
// persistent delivery mode, behind a circuit breaker. SubscriberRegistry
// binds queues to routing patterns, dispatches deliveries one at a time
// per queue, and replays every registration when the connection manager
// reconnects, so subscriptions survive broker restarts.
//
// Delivery is at-least-once: handlers must be idempotent. A handler
// error does not requeue the message; the delivery is acked and a copy
// is routed to the dead-letter exchange for manual replay.
package messaging
