// Package system exposes small runtime introspection helpers used by the
// reactor's ambient metrics.
package system

import "runtime"

// GetMem returns the total bytes of memory obtained from the OS by the
// current process, per runtime.MemStats.Sys.
func GetMem() uint64 {
	var memStat runtime.MemStats
	runtime.ReadMemStats(&memStat)
	return memStat.Sys
}
