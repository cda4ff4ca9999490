// Package harness replays YAML scenarios against the queue engine and
// records what happened as a deterministic trace.
//
// # Scenario Format
//
//	name: placeholder_chain
//	description: "Start and dependent message queued offline"
//	endpoint: http://chat.test/api
//	deferred: true
//	steps:
//	  - enqueue: { kind: start, placeholder: p1, payload: { text: hi } }
//	  - enqueue: { kind: message, placeholder: p1, client_message_id: m1 }
//	  - respond:
//	      - { target: /start, body: '{"conversation_id":"c-1"}' }
//	  - flush: { expect: cleared }
//	assertions:
//	  - type: calls
//	    targets: [http://chat.test/api/start, http://chat.test/api/c-1/message]
//	  - type: remaining
//	    ids: []
//
// Each step sets exactly one of enqueue, respond, offline, flush or drop.
// Respond scripts backend replies; unscripted calls answer 200 with {}.
// With deferred: true every enqueue only arms the trigger; otherwise each
// enqueue replays inline.
//
// # Assertion Types
//
//   - calls: outbound POST targets, in order
//   - events: notification types, in order
//   - event_count: number of notifications of one type
//   - chat_response: a chat-response with the given fields exists
//   - remaining: ids still queued after the last step
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory store, a scripted poster and a step
// clock, so traces are byte-identical across runs and can be compared
// against golden files with RunWithGolden.
package harness
