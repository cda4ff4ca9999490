// Package ir defines the domain types shared by every chatsync package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Operations are ordered by their store-assigned ID, never by CreatedAt
//   - Payloads stay raw JSON end to end; ir never reinterprets them
//   - Optional identifiers use the empty string for "absent"
package ir
