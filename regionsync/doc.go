// Package regionsync propagates session lifecycle events between regions.
//
// Each region publishes to its own topic ("<prefix>.<region>") and
// subscribes to every peer topic. Delivery is at-most-once and best effort:
// the durable store stays authoritative and the mirror is only a cache, so
// a lost event at worst leaves a stale mirror entry that the next durable
// read corrects.
//
// Publishing never blocks the caller. Events are queued and a single
// goroutine drains the queue through a circuit breaker, dropping events
// when the queue is full or the bus is down. Every message carries an HS256
// envelope (see [Signer]); unsigned, forged and stale messages are dropped
// and counted.
//
// Received events are routed to one serial worker per [Kind], so events of
// the same kind apply in arrival order while kinds do not block each other.
package regionsync
