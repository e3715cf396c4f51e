// Package capability holds boot-time feature detection against the
// columnar store, settable exactly once and read lock-free thereafter.
package capability

import "sync/atomic"

// Flags is the set of probed store capabilities. It is extensible: add a
// field here per new capability probe without touching call sites that
// only read the ones they care about.
type Flags struct {
	CIDRMatch bool // ipCIDRMatch function is available
	LZ4Insert bool // bulk inserts accept LZ4-compressed bodies
}

// cell is a one-shot, atomically-published capability snapshot. The
// global cell is seeded with the zero Flags in init, so every capability
// reports as unavailable until Set is called.
type cell struct {
	ptr atomic.Pointer[Flags]
}

var global cell

func init() {
	global.ptr.Store(&Flags{})
}

// Set publishes the probed capability flags. Intended to be called exactly
// once during startup; later calls overwrite the snapshot, which is safe
// but not expected in normal operation.
func Set(f Flags) {
	global.ptr.Store(&f)
}

// Get returns the current capability snapshot. Safe for concurrent use
// without locking.
func Get() Flags {
	return *global.ptr.Load()
}
