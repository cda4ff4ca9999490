// Package engine implements the offline chat outbox: the queue engine that
// persists outbound requests and the replay engine that drains them.
//
// ARCHITECTURE:
//
// Enqueue:
// 1. Request validated and stamped with Clock.Now()
// 2. Operation appended to the Store (durable before anything else happens)
// 3. Armer asked for a deferred replay; without one the pass runs inline
// 4. queued-status notified, unless arming failed
//
// Replay pass:
// 1. ListAll snapshot, seeded PlaceholderMap from persisted resolutions
// 2. Operations processed strictly in id order, one network call at a time
// 3. First transport failure aborts the pass with a single queue-error
// 4. A pass that reaches the end emits queue-cleared
//
// Passes are single-flight. Enqueue may run alongside a pass; operations
// appended after the snapshot wait for the next trigger.
//
// Delivery is at-least-once. An operation is removed only after its call
// returned a 2xx response with a JSON body; every attempt carries the same
// Idempotency-Key so the server can collapse repeats.
package engine
