// Package engine implements the variable policy engine.
//
// The engine decides, for every attempted write to the persistent variable
// store, whether the write is permitted. Decisions are driven by registered
// policies keyed by (namespace, name pattern).
//
// ARCHITECTURE:
//
// Components, leaves first:
//   - Table: registered policies in registration order (table.go)
//   - Matcher: picks the most specific policy for a variable (matcher.go)
//   - StateEvaluator: resolves LockOnVarState triggers (lockstate.go)
//   - Engine: Register, Dump, Lock, Disable, Authorize (engine.go)
//   - Guard: scoped critical section around every operation (guard.go)
//
// Write decision flow (Authorize):
//  1. Engine disabled: allow.
//  2. No matching policy: allow.
//  3. Target locked (LockNow always, LockOnCreate once the variable exists,
//     LockOnVarState while the trigger holds its value): deny, deletes too.
//  4. Delete (size 0) of an unlocked target: allow.
//  5. Size outside [MinSize, MaxSize] or attribute masks violated: deny.
//
// LIFECYCLE:
//
// A session starts enabled and unlocked. Disable is allowed once and only
// before Lock. Lock is irreversible. Reset tears the session down and
// starts a new one with an empty table.
//
// Every engine operation runs inside the Guard. After EnterRuntime the
// Guard stops excluding when the engine was built with lock-only-at-boot,
// so callers in that mode must already be serialized.
package engine
