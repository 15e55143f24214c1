// Package store provides the SQLite-backed local cache for floodsync.
//
// The cache is a key/value table holding exactly four named values:
//   - floodguard_sos_data: JSON array of SOS records
//   - floodguard_user_sos_id: the SOS id owned by this device
//   - floodguard_rescuers_data: JSON array of rescuer records
//   - floodguard_local_rescuer_id: the rescuer id this device registered as
//
// Collections are always written whole. A multi-key change (a rescue that
// moves a SOS to RESCUED and credits a rescuer) runs in one transaction via
// Update, so the device never observes half of it.
//
// # Seeding and corruption
//
// Reading a collection that was never written stores and returns the
// demonstration dataset. A blob that fails to parse is treated the same way:
// it is logged, replaced with seed data, and never surfaced to callers.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single open connection: one writer per device
package store
