//go:build !linux

package performance

import (
	"runtime"
	"time"
)

// GetSystemMemory approximates memory information from Go runtime stats on
// platforms without syscall.Sysinfo. Only process memory is known, so the
// system figures are left at zero.
func GetSystemMemory() MemorySnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemorySnapshot{
		Timestamp: time.Now(),
		UsedMB:    m.Sys / (1024 * 1024),
	}
}
