//go:build memtrack_off

package memtrack

const Enabled = false
