// Package codec holds the byte encodings used for state snapshots.
//
// Snapshots are encoded as CBOR with Core Deterministic Encoding
// (RFC 8949 §4.2), so the same logical snapshot always produces the
// same bytes. Checkpoint payloads may additionally be compressed with
// one of the algorithms identified by a CompressionTag.
package codec
