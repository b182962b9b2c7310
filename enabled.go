//go:build !memtrack_off

package memtrack

// Enabled reports whether allocations are tracked. Build with the
// memtrack_off tag to turn every entry point into a plain pass-through.
const Enabled = true
