// Package store records evaluation runs in SQLite.
//
// Each run gets one row in runs (id, source, results file, outcome counts)
// and one row per verdict in verdicts, holding the full results line plus a
// content fingerprint. Fingerprints are SHA-256 over the canonical JSON of
// the verdict with domain separation, so two runs that reached the same
// decision from the same facts share a fingerprint regardless of which file
// or row the order came from.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Verdict rows are read back in position order, which is the order of the
// results file.
package store
