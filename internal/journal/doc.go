// Package journal persists state tree checkpoints in SQLite.
//
// A checkpoint is a full document snapshot encoded with the state wire
// encoding, compressed, and stored with a BLAKE3 digest of the stored
// bytes. Checkpoints are grouped by the Oid of the snapshotted document
// and ordered by a per-root sequence number, so Latest and List are
// deterministic even when two checkpoints share a timestamp.
//
// The database uses WAL mode with a single connection; see Open.
package journal
