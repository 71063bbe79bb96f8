//go:build linux

package performance

import (
	"syscall"
	"time"
)

// GetSystemMemory retrieves current system memory information on Linux
// Uses syscall.Sysinfo for accurate system-wide memory stats
func GetSystemMemory() MemorySnapshot {
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		return MemorySnapshot{Timestamp: time.Now()}
	}

	// Sysinfo returns values in units of info.Unit
	unit := uint64(info.Unit)

	totalMB := (uint64(info.Totalram) * unit) / (1024 * 1024)
	freeMB := (uint64(info.Freeram) * unit) / (1024 * 1024)
	bufferMB := (uint64(info.Bufferram) * unit) / (1024 * 1024)

	// Linux can reclaim buffers
	availableMB := freeMB + bufferMB

	return MemorySnapshot{
		Timestamp:   time.Now(),
		TotalMB:     totalMB,
		AvailableMB: availableMB,
		UsedMB:      totalMB - availableMB,
		FreeMB:      freeMB,
	}
}
