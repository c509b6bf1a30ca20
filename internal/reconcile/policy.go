// Package reconcile holds the single arbitration rule between a document's
// two write paths: the versioned store row and the replicated update log.
// Both the REST read path and the session connect path must route through
// Choose; scattering this comparison across call sites is how the two paths
// end up disagreeing about the canonical content.
package reconcile

import "time"

// Source identifies the canonical content source for a document.
type Source int

const (
	// UseStore means the versioned store row is authoritative and any
	// persisted log entries are stale: they must not be replayed, and a
	// fresh baseline entry should be appended instead.
	UseStore Source = iota
	// UseLog means the replica built by replaying the update log is
	// authoritative.
	UseLog
)

// String returns the wire name of the source ("store" / "log").
func (s Source) String() string {
	if s == UseLog {
		return "log"
	}
	return "store"
}

// Choose picks the canonical source given the timestamp of the newest log
// entry (nil when the log is empty) and the store row's updated_at.
// Pure function of its inputs: no clock, no hidden state, same answer for
// the same timestamps every time.
func Choose(logTail *time.Time, storeUpdatedAt time.Time) Source {
	if logTail == nil {
		return UseStore
	}
	if storeUpdatedAt.After(*logTail) {
		return UseStore
	}
	return UseLog
}
