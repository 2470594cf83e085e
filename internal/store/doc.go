// Package store provides SQLite-backed durable storage for varpol.
//
// The store holds three kinds of records:
//   - Variables: named values keyed by (namespace, name), with the
//     timestamp and signer of the last authenticated write
//   - Policies: the registration journal of the current boot session,
//     one encoded policy entry per row in registration order
//   - Session: the single row describing the boot session (ID, enabled,
//     locked)
//
// # Ordering
//
// Policies are read ORDER BY seq ASC, because registration order is the
// matcher's tie-break. Variables are enumerated ORDER BY namespace, name
// COLLATE BINARY so listings are stable.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Namespaces and timestamps are stored as their binary encodings; policy
// entries as the bytes produced by ir.MarshalPolicy.
package store
