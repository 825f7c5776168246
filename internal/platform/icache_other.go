//go:build !(linux && arm)

package platform

// flushICache is a no-op: generated code never runs natively on this platform.
func flushICache(uintptr, int) {}
