// Package cache stores and retrieves derivative image bytes, source image bytes
// and image info records keyed by request fingerprints, so that decode and
// transform work is not repeated.
//
// The filesystem backend coordinates concurrent, uncoordinated request
// goroutines using only in-process bookkeeping and file renames: at most one
// productive writer per key (duplicates receive a discard sink), temp file +
// rename so readers never observe a partial canonical file, purges that never
// race with a global purge, and a sweeper for orphaned temp and zero-byte files.
// A heap backend implements the same contract in memory. Selector resolves the
// configured backend and shares one instance across the process.
package cache
