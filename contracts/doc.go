// Package contracts defines the event taxonomy shared by all services:
// the closed set of routing keys, the typed payload for each key, and
// the envelope that carries payloads on the wire.
//
// Producers publish typed events; consumers bind queues with topic
// patterns and decode payloads through the same types, so the literal
// strings never appear in business code.
package contracts
