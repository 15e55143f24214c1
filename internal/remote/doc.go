// Package remote is the client for the hosted mirror of the floodsync
// collections.
//
// The mirror is a single logical table of rows shaped
//
//	{ id: "<collection>_<recordId>", collection: "sos"|"rescuers", value: <record JSON> }
//
// read per collection and written by keyed upsert. Two backends implement
// Mirror:
//   - Redis: one hash per collection, field = row id, value = record JSON.
//     Guarded replace and counter increments run as Lua scripts so they
//     are atomic on the server.
//   - Postgres: a sync_records table. Guarded replace is a conditional
//     ON CONFLICT update; increments use jsonb_set under the row lock.
//
// Every failure is returned as a *CallError that matches ErrUnavailable.
// Nothing here retries: the caller owns the retry and breaker policy.
//
// Both backends also implement Announcer, a best-effort push channel
// (Redis PUBLISH/SUBSCRIBE, Postgres NOTIFY/LISTEN) that is independent of
// the mirror's own health.
package remote
