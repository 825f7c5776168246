// Package platform provides the operating system backed pieces of the code page store.
package platform

import (
	"log/slog"
	"os"
	"runtime"

	"github.com/tetratelabs/armjit/internal/codepage"
)

// NativeExecution returns true if the code generated by this module can run on the current host.
func NativeExecution() bool {
	return runtime.GOARCH == "arm" && runtime.GOOS == "linux"
}

// NewAllocator returns the default codepage.Allocator: pages of real executable memory when the
// generated code can run natively, and simulated pages starting at base otherwise.
func NewAllocator(pageSize, maxPages int, base uintptr, logger *slog.Logger) (codepage.Allocator, error) {
	if NativeExecution() {
		a, err := NewMmapAllocator(pageSize, maxPages)
		if err == nil {
			return a, nil
		}
		if logger != nil {
			logger.Warn("falling back to simulated code pages", "err", err)
		}
	}
	return codepage.NewHeapAllocator(pageSize, maxPages, base, 0), nil
}

// osPageSize is the granularity of memory protection.
var osPageSize = os.Getpagesize()
