// Package store provides durable storage for chatsync pending operations.
//
// The SQLite store keeps two tables:
//   - pending_operations: the FIFO queue; AUTOINCREMENT ids are never reused
//   - placeholder_resolutions: placeholder → conversation mappings learned
//     during replay, so deferred messages resolve in later passes
//
// Every row carries a namespace given at Open, so several isolated queues
// can share one database file.
//
// # Ordering
//
// ListAll returns rows ORDER BY id ASC. CreatedAt is informational and is
// never used for ordering.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Memory is an in-process implementation of the same contract for tests
// and ephemeral runs. The Pebble-backed driver lives in store/pebblestore.
package store
