// Package codepage manages the pages of executable memory which hold generated code.
//
// Code is emitted backwards: the instruction cursor of a page starts at its top and moves down
// while the literal cursor starts right after the page header and moves up. The two cursors
// never cross. When a page fills up, a new page is allocated and linked to the previous one
// with a branch placed at its very top.
package codepage

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size of the page header in bytes. The first word holds the address of
	// the previously current page of the same store (zero for the first one) and the second
	// holds headerMagic, with the low bit set on exit pages.
	HeaderSize = 8

	// LargestUnderrunProtection is the largest number of words Reserve can guarantee at once.
	LargestUnderrunProtection = 32

	// MinPageSize is the smallest supported page size.
	MinPageSize = 256

	headerMagic = 0x4a495400 // "JIT\0"
)

// Page is a fixed size block of memory aligned to its own size.
type Page struct {
	mem        []byte
	addr       uintptr
	exit       bool
	executable bool
}

// NewPage wraps mem as a Page whose first byte is at address addr as seen by the generated code.
// For pages backed by real executable memory, addr is the address of mem[0].
func NewPage(mem []byte, addr uintptr) *Page {
	size := uintptr(len(mem))
	if size < MinPageSize || size&(size-1) != 0 {
		panic(fmt.Sprintf("BUG: invalid page size %d", size))
	}
	if addr&(size-1) != 0 {
		panic(fmt.Sprintf("BUG: page at %#x is not aligned to %d", addr, size))
	}
	return &Page{mem: mem, addr: addr}
}

// Addr returns the address of the first byte of the page.
func (p *Page) Addr() uintptr { return p.addr }

// Size returns the size of the page in bytes.
func (p *Page) Size() int { return len(p.mem) }

// Top returns the address just past the end of the page.
func (p *Page) Top() uintptr { return p.addr + uintptr(len(p.mem)) }

// Contains returns true if addr lies within the page.
func (p *Page) Contains(addr uintptr) bool { return addr >= p.addr && addr < p.Top() }

// Bytes returns the backing memory of the page.
func (p *Page) Bytes() []byte { return p.mem }

// Exit returns true if the page belongs to the exit code store.
func (p *Page) Exit() bool { return p.exit }

// Executable returns true if the page is currently protected as read+execute.
func (p *Page) Executable() bool { return p.executable }

// Word returns the word stored at addr.
func (p *Page) Word(addr uintptr) uint32 {
	return binary.LittleEndian.Uint32(p.mem[p.offset(addr):])
}

func (p *Page) putWord(addr uintptr, w uint32) {
	if p.executable {
		panic(fmt.Sprintf("BUG: write to %#x on an executable page", addr))
	}
	binary.LittleEndian.PutUint32(p.mem[p.offset(addr):], w)
}

func (p *Page) offset(addr uintptr) uintptr {
	if addr&3 != 0 || !p.Contains(addr) || addr+4 > p.Top() {
		panic(fmt.Sprintf("BUG: %#x is not a word of the page at %#x", addr, p.addr))
	}
	return addr - p.addr
}

func (p *Page) writeHeader(prev *Page) {
	var prevAddr uintptr
	if prev != nil {
		prevAddr = prev.addr
	}
	flags := uint32(headerMagic)
	if p.exit {
		flags |= 1
	}
	p.putWord(p.addr, uint32(prevAddr))
	p.putWord(p.addr+4, flags)
}
