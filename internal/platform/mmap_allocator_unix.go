//go:build unix

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tetratelabs/armjit/internal/codepage"
)

// MmapAllocator is a codepage.Allocator backed by anonymous memory mappings.
type MmapAllocator struct {
	pageSize int
	maxPages int
	// mappings holds the whole mapping of each page which can be larger than the page itself
	// when the page size exceeds the OS page size.
	mappings map[*codepage.Page][]byte
}

// NewMmapAllocator returns a new MmapAllocator. pageSize must be a power of two and a multiple of
// the OS page size. maxPages limits the number of live pages, zero means no limit.
func NewMmapAllocator(pageSize, maxPages int) (*MmapAllocator, error) {
	if pageSize < osPageSize || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d must be a power of two and at least %d", pageSize, osPageSize)
	}
	return &MmapAllocator{pageSize: pageSize, maxPages: maxPages, mappings: map[*codepage.Page][]byte{}}, nil
}

// PageSize implements codepage.Allocator.PageSize.
func (a *MmapAllocator) PageSize() int { return a.pageSize }

// AllocPage implements codepage.Allocator.AllocPage.
func (a *MmapAllocator) AllocPage() (*codepage.Page, error) {
	if a.maxPages > 0 && len(a.mappings) >= a.maxPages {
		return nil, fmt.Errorf("%w: page limit %d reached", codepage.ErrOutOfExecutableMemory, a.maxPages)
	}
	size := a.pageSize
	if size > osPageSize {
		// Over-allocate to find a naturally aligned page inside the mapping.
		size *= 2
	}
	// Anonymous as this is not an actual file, but a memory,
	// Private as this is in-process memory region.
	m, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codepage.ErrOutOfExecutableMemory, err)
	}
	addr := uintptr(unsafe.Pointer(&m[0]))
	off := int((uintptr(a.pageSize) - addr&uintptr(a.pageSize-1)) & uintptr(a.pageSize-1))
	mem := m[off : off+a.pageSize : off+a.pageSize]
	p := codepage.NewPage(mem, addr+uintptr(off))
	a.mappings[p] = m
	return p, nil
}

// FreePage implements codepage.Allocator.FreePage.
func (a *MmapAllocator) FreePage(p *codepage.Page) error {
	m, ok := a.mappings[p]
	if !ok {
		return fmt.Errorf("page at %#x was not allocated by this allocator", p.Addr())
	}
	delete(a.mappings, p)
	return unix.Munmap(m)
}

// Protect implements codepage.Allocator.Protect.
func (a *MmapAllocator) Protect(p *codepage.Page, executable bool) error {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if executable {
		prot = unix.PROT_READ | unix.PROT_EXEC
	}
	return unix.Mprotect(p.Bytes(), prot)
}

// FlushICache implements codepage.Allocator.FlushICache.
func (a *MmapAllocator) FlushICache(addr uintptr, size int) {
	flushICache(addr, size)
}
