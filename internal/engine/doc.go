// Package engine implements the floodsync local-first sync orchestrator.
//
// Every read and write from the UI collaborator goes through Engine. The
// engine owns a Session (remote mirror handle plus circuit breaker), the
// local cache Store and the same-device notification Bus.
//
// Mutations follow one shape:
//
//  1. If the breaker is CLOSED, write the record to the remote mirror.
//  2. On success, write the same record into the local cache.
//  3. On failure, trip the breaker and continue on the local path for this
//     and every later call of the session.
//  4. Either way, the local cache is read before the merge and written
//     after it, so it always holds the latest state seen on this device.
//  5. Publish bus.Changed.
//
// Reads prefer the remote mirror while the breaker is CLOSED and refresh
// the local cache from it; any failure degrades to the cache.
//
// Rescue attribution is the one read-modify-write that races across
// devices. On the remote path it is a guarded replace of the SOS followed
// by a server-side increment of the rescuer's counter; on the local path
// both collections are written in one SQLite transaction.
//
// Within a device, mutations are serialised by the engine.
package engine
