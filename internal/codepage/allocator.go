package codepage

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfExecutableMemory is returned when no more pages can be allocated.
var ErrOutOfExecutableMemory = errors.New("out of executable memory")

// Allocator provides the pages of executable memory and the operations to make them runnable.
type Allocator interface {
	// PageSize returns the size of the pages returned by AllocPage.
	PageSize() int
	// AllocPage returns a new writable page. The error wraps ErrOutOfExecutableMemory when
	// the allocator is exhausted.
	AllocPage() (*Page, error)
	// FreePage releases a page previously returned by AllocPage.
	FreePage(p *Page) error
	// Protect switches p between read+write and read+execute.
	Protect(p *Page, executable bool) error
	// FlushICache invalidates the instruction cache for the given range.
	FlushICache(addr uintptr, size int)
}

// Range is an address range.
type Range struct {
	Addr uintptr
	Size int
}

// HeapAllocator is an Allocator backed by Go memory. Pages are given simulated addresses so that
// the generated code is laid out exactly as it would be on a 32-bit target, while the code itself
// is only ever executed by a simulator.
type HeapAllocator struct {
	pageSize int
	maxPages int
	base     uintptr
	stride   uintptr
	next     uintptr
	live     int

	// Flushes records every FlushICache call in order.
	Flushes []Range
}

// DefaultSimulatedBase is the address of the first page of a HeapAllocator by default.
const DefaultSimulatedBase = 0x1000_0000

// NewHeapAllocator returns a HeapAllocator handing out pages of pageSize bytes at base,
// base+stride, base+2*stride and so on. At most maxPages pages are live at once; zero means no limit.
func NewHeapAllocator(pageSize, maxPages int, base, stride uintptr) *HeapAllocator {
	if pageSize < MinPageSize || pageSize&(pageSize-1) != 0 {
		panic(fmt.Sprintf("BUG: invalid page size %d", pageSize))
	}
	if stride == 0 {
		stride = uintptr(pageSize)
	}
	if base&uintptr(pageSize-1) != 0 || stride&uintptr(pageSize-1) != 0 {
		panic(fmt.Sprintf("BUG: base %#x and stride %#x must be multiples of the page size", base, stride))
	}
	return &HeapAllocator{pageSize: pageSize, maxPages: maxPages, base: base, stride: stride}
}

// PageSize implements Allocator.PageSize.
func (a *HeapAllocator) PageSize() int { return a.pageSize }

// AllocPage implements Allocator.AllocPage.
func (a *HeapAllocator) AllocPage() (*Page, error) {
	if a.maxPages > 0 && a.live >= a.maxPages {
		return nil, fmt.Errorf("%w: page limit %d reached", ErrOutOfExecutableMemory, a.maxPages)
	}
	addr := a.base + a.next*a.stride
	if uint64(addr)+uint64(a.pageSize) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: simulated address space exhausted", ErrOutOfExecutableMemory)
	}
	a.next++
	a.live++
	return NewPage(make([]byte, a.pageSize), addr), nil
}

// FreePage implements Allocator.FreePage. Addresses are never reused.
func (a *HeapAllocator) FreePage(p *Page) error {
	a.live--
	p.mem = nil
	return nil
}

// Protect implements Allocator.Protect. Writes to an executable page panic in Page.
func (a *HeapAllocator) Protect(*Page, bool) error { return nil }

// FlushICache implements Allocator.FlushICache.
func (a *HeapAllocator) FlushICache(addr uintptr, size int) {
	a.Flushes = append(a.Flushes, Range{Addr: addr, Size: size})
}

// Live returns the number of pages allocated and not freed.
func (a *HeapAllocator) Live() int { return a.live }
