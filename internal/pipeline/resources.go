package pipeline

import (
	"runtime"

	"github.com/prometheus/procfs"

	"github.com/seantiz/docpipe/internal/model"
)

// captureSnapshot reads current process resource usage. CPU time comes
// from /proc and reads as zero on platforms without procfs.
func captureSnapshot() model.ResourceSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := model.ResourceSnapshot{
		HeapBytes:  ms.HeapAlloc,
		Goroutines: runtime.NumGoroutine(),
	}
	if proc, err := procfs.Self(); err == nil {
		if stat, err := proc.Stat(); err == nil {
			snap.CPUSeconds = stat.CPUTime()
		}
	}
	return snap
}
