// Package rabbitmq owns the broker transport: the single shared
// connection and channel per process, the shared exchange topology,
// and automatic reconnection with capped exponential backoff.
//
// Transport failures never escape this package as faults; they show up
// to publishers and subscribers only as latency while the manager
// reconnects and replays its ready hooks.
package rabbitmq
