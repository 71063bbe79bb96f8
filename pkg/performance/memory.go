package performance

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// MemorySnapshot represents memory state at a point in time
type MemorySnapshot struct {
	Timestamp   time.Time
	TotalMB     uint64 // Total system memory
	AvailableMB uint64 // Available memory for use
	UsedMB      uint64 // Currently used memory
	FreeMB      uint64 // Free memory (not including buffers/cache)
}

// GoMemoryStats holds Go runtime memory statistics
type GoMemoryStats struct {
	AllocMB uint64 // Currently allocated heap memory
	SysMB   uint64 // Memory obtained from system
	NumGC   uint32 // Number of GC runs
}

// GetGoMemory retrieves Go runtime memory statistics
func GetGoMemory() GoMemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return GoMemoryStats{
		AllocMB: m.Alloc / (1024 * 1024),
		SysMB:   m.Sys / (1024 * 1024),
		NumGC:   m.NumGC,
	}
}

// LogMemorySnapshot logs system and Go heap usage. Decoded frames are
// full-size RGBA copies, so heap growth here usually means frames are piling
// up somewhere between decoder and texture.
func LogMemorySnapshot(log zerolog.Logger) {
	sys := GetSystemMemory()
	goMem := GetGoMemory()

	log.Info().
		Uint64("total_mb", sys.TotalMB).
		Uint64("avail_mb", sys.AvailableMB).
		Uint64("used_mb", sys.UsedMB).
		Uint64("go_alloc_mb", goMem.AllocMB).
		Uint64("go_sys_mb", goMem.SysMB).
		Uint32("gc", goMem.NumGC).
		Msg("memory")
}
