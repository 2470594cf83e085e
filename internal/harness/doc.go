// Package harness runs policy scenarios against a real engine.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: lock_now
//	description: "LockNow makes the target read-only immediately"
//	session: boot-1
//	namespaces:
//	  vendor: 3b389299-abaf-433b-a4a9-23c84402fcad
//	bundles:
//	  - ../bundles/platform.cue
//	setup:
//	  - do: write
//	    variable: {namespace: vendor, name: Var1, attributes: NV|BS|RT, data: "01"}
//	flow:
//	  - do: register
//	    policy: {namespace: vendor, name: Var1, lock: lock_now}
//	    expect: SUCCESS
//	  - do: write
//	    variable: {namespace: vendor, name: Var1, attributes: NV|BS|RT, data: "02"}
//	    expect: WRITE_PROTECTED
//	assertions:
//	  - type: variable
//	    variable: {namespace: vendor, name: Var1}
//	    data: "01"
//
// Steps are register, write, delete, auth_write, lock, disable, reset,
// request_lock, dump, ready_to_boot and enter_runtime. Expected outcomes
// are engine error codes ("WRITE_PROTECTED") or SUCCESS. Setup steps
// and bundles must succeed.
//
// # Assertion Types
//
//   - variable: the variable exists (or not) and optionally holds data,
//     attributes or a signer
//   - state: engine enabled/locked flags and policy count
//   - outcome_count: an outcome appears exactly N times in the trace
//   - trace_order: steps appear in the given order
//
// # Deterministic Testing
//
// Each run uses a fresh in-memory store, a fixed session ID, a
// deterministic clock for authenticated timestamps, and signers derived
// from their names, so traces compare byte for byte against golden files.
package harness
