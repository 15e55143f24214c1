// Package ir defines the records the floodsync engine moves between the
// device-local cache and the remote mirror.
//
// Records are plain structs with explicit JSON field names so the same
// encoding is used for the local blob, the remote row value and CLI output:
//   - SOSRequest: an emergency signal with its embedded chat thread
//   - Rescuer: a registered responder, or the reserved "000" sincere pool
//   - ChatMessage: append-only entries inside a SOSRequest
//
// Partial edits never merge free-form maps. An SOSPatch names every field
// that may change and Apply produces the new record.
//
// Snapshot hashes use canonical JSON (sorted keys, NFC strings, no HTML
// escaping) with domain separation so equal state always hashes equally.
package ir
