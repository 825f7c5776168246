//go:build !unix

package platform

import (
	"fmt"
	"runtime"

	"github.com/tetratelabs/armjit/internal/codepage"
)

// MmapAllocator is not available on this platform.
type MmapAllocator struct {
	codepage.Allocator
}

// NewMmapAllocator always fails on this platform.
func NewMmapAllocator(int, int) (*MmapAllocator, error) {
	return nil, fmt.Errorf("mmap unsupported on GOOS=%s", runtime.GOOS)
}
