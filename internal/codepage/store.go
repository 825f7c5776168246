package codepage

import (
	"fmt"
	"log/slog"

	"github.com/tetratelabs/armjit/internal/asm/arm"
)

// Store is a chain of pages receiving one kind of code (main or exit).
type Store struct {
	alloc  Allocator
	logger *slog.Logger
	exit   bool

	// pages holds every page allocated by this store in allocation order. Pages which are no
	// longer current are kept since code in them can still be reached.
	pages []*Page
	cur   *Page
	// ip is the instruction cursor: the next word is written at ip-4.
	ip uintptr
	// lit is the literal cursor: the next literal is written at lit.
	lit uintptr
}

func newStore(alloc Allocator, logger *slog.Logger, exit bool) *Store {
	return &Store{alloc: alloc, logger: logger, exit: exit}
}

func (s *Store) kind() string {
	if s.exit {
		return "exit"
	}
	return "code"
}

// Here returns the instruction cursor, i.e. the address of the most recently emitted instruction.
func (s *Store) Here() uintptr { return s.ip }

// Literal returns the literal cursor, i.e. where the next literal will be written.
func (s *Store) Literal() uintptr { return s.lit }

// Available returns the number of free words between the two cursors of the current page.
func (s *Store) Available() int {
	if s.cur == nil {
		return 0
	}
	return int(s.ip-s.lit) / arm.InstructionSize
}

// Current returns the page the cursors point into, nil before the first Reserve.
func (s *Store) Current() *Page { return s.cur }

// Pages returns all the pages of the store in allocation order.
func (s *Store) Pages() []*Page { return s.pages }

// Reserve ensures that n words can be written to the current page without another allocation.
// Otherwise, a new page is allocated and, unless it is the first one, its top is linked to the
// instruction cursor of the previous page so that execution falls through into already emitted code.
//
// Reserve panics with an error wrapping ErrOutOfExecutableMemory if no page can be allocated.
func (s *Store) Reserve(n int) {
	if n <= 0 || n > LargestUnderrunProtection {
		panic(fmt.Sprintf("BUG: cannot reserve %d words", n))
	}
	if s.cur != nil && s.ip-s.lit >= uintptr(n*arm.InstructionSize) {
		return
	}

	p, err := s.alloc.AllocPage()
	if err != nil {
		panic(fmt.Errorf("allocating %s page: %w", s.kind(), err))
	}
	p.exit = s.exit
	p.writeHeader(s.cur)

	prev, target := s.cur, s.ip
	s.pages = append(s.pages, p)
	s.cur, s.ip, s.lit = p, p.Top(), p.addr+HeaderSize
	if prev == nil {
		s.logger.Debug("allocated page", "store", s.kind(), "addr", fmt.Sprintf("%#x", p.addr))
		return
	}

	if at := s.ip - arm.InstructionSize; arm.BranchInRange(at, target) {
		p.putWord(at, arm.EncodeBranch(arm.AL, false, at, target))
		s.ip = at
	} else {
		s.ip -= 2 * arm.InstructionSize
		p.putWord(s.ip, arm.LongJump)
		p.putWord(s.ip+arm.InstructionSize, arm.AbsoluteAddress(target))
	}
	s.logger.Debug("linked page", "store", s.kind(),
		"addr", fmt.Sprintf("%#x", p.addr), "continue", fmt.Sprintf("%#x", target))
}

// Put emits the word w below the instruction cursor and returns its address.
func (s *Store) Put(w uint32) uintptr {
	s.Reserve(1)
	s.cur.putWord(s.ip-arm.InstructionSize, w)
	s.ip -= arm.InstructionSize
	return s.ip
}

// PutLiteral writes w at the literal cursor and returns its address. The space must have been
// reserved together with the instruction referring to it.
func (s *Store) PutLiteral(w uint32) uintptr {
	if s.cur == nil || s.lit+arm.InstructionSize > s.ip {
		panic("BUG: literal pool overflows into instructions")
	}
	addr := s.lit
	s.cur.putWord(addr, w)
	s.lit += arm.InstructionSize
	return addr
}

// SkipLiterals moves the literal cursor forward to addr, leaving the words in between unused.
func (s *Store) SkipLiterals(addr uintptr) {
	if s.cur == nil || addr < s.lit || addr&3 != 0 || addr > s.ip {
		panic(fmt.Sprintf("BUG: cannot move the literal cursor from %#x to %#x", s.lit, addr))
	}
	s.lit = addr
}

// PageOf returns the page containing addr, or nil.
func (s *Store) PageOf(addr uintptr) *Page {
	for _, p := range s.pages {
		if p.mem != nil && p.Contains(addr) {
			return p
		}
	}
	return nil
}

// Checkpoint is a saved position of a Store.
type Checkpoint struct {
	cur     *Page
	ip, lit uintptr
	npages  int
}

// Checkpoint returns the current position of the cursors.
func (s *Store) Checkpoint() Checkpoint {
	return Checkpoint{cur: s.cur, ip: s.ip, lit: s.lit, npages: len(s.pages)}
}

// Rollback moves the cursors back to c and releases the pages allocated since then.
func (s *Store) Rollback(c Checkpoint) error {
	if c.npages > len(s.pages) {
		panic("BUG: rollback to a checkpoint taken after the current position")
	}
	var firstErr error
	for _, p := range s.pages[c.npages:] {
		if err := s.alloc.FreePage(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := c.npages; i < len(s.pages); i++ {
		s.pages[i] = nil
	}
	s.pages = s.pages[:c.npages]
	s.cur, s.ip, s.lit = c.cur, c.ip, c.lit
	return firstErr
}
