// Package harness runs floodsync scenarios end to end.
//
// A scenario is a YAML file describing a device (local-only or backed by a
// scripted in-memory remote), a list of engine operations with their
// expected outcomes and a list of assertions over the final state. Each
// scenario runs against a fresh in-memory cache with a fixed clock and
// sequential SOS ids ("sos-1", "sos-2", ...), so traces are reproducible
// and can be compared against golden files.
//
// Example:
//
//	name: breaker-degrades-to-local
//	description: a failing remote is bypassed for the rest of the session
//	remote: true
//	steps:
//	  - op: remote_fail
//	    args: {error: "503 service unavailable"}
//	  - op: create_sos
//	    args: {name: A, phone: "1"}
//	    as: first
//	assertions:
//	  - type: breaker
//	    state: OPEN
//
// Step arguments of the form "$name" are replaced by the id bound with
// `as:` on an earlier step.
package harness
