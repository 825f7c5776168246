package codepage

import (
	"fmt"
	"log/slog"
)

// Emitter is the emission session over the two stores: the main code store and the exit code
// store holding the out of line side exit stubs. Emit operations go to the store selected
// by SwapToExit / SwapToCode.
type Emitter struct {
	alloc      Allocator
	logger     *slog.Logger
	code, exit *Store
	inExit     bool

	start [2]Checkpoint
}

// NewEmitter returns a new Emitter allocating its pages from alloc. logger can be nil.
func NewEmitter(alloc Allocator, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Emitter{
		alloc:  alloc,
		logger: logger,
		code:   newStore(alloc, logger, false),
		exit:   newStore(alloc, logger, true),
	}
}

// Allocator returns the Allocator backing this Emitter.
func (e *Emitter) Allocator() Allocator { return e.alloc }

// Code returns the main code store.
func (e *Emitter) Code() *Store { return e.code }

// Exit returns the exit code store.
func (e *Emitter) Exit() *Store { return e.exit }

// InExit returns true if emission currently goes to the exit store.
func (e *Emitter) InExit() bool { return e.inExit }

// SwapToExit directs the following emission to the exit store.
func (e *Emitter) SwapToExit() {
	if e.inExit {
		panic("BUG: already emitting exit code")
	}
	e.inExit = true
}

// SwapToCode directs the following emission back to the main code store.
func (e *Emitter) SwapToCode() {
	if !e.inExit {
		panic("BUG: not emitting exit code")
	}
	e.inExit = false
}

// Current returns the store selected for emission.
func (e *Emitter) Current() *Store {
	if e.inExit {
		return e.exit
	}
	return e.code
}

// Reserve calls Store.Reserve on the current store.
func (e *Emitter) Reserve(n int) { e.Current().Reserve(n) }

// Put calls Store.Put on the current store.
func (e *Emitter) Put(w uint32) uintptr { return e.Current().Put(w) }

// PutLiteral calls Store.PutLiteral on the current store.
func (e *Emitter) PutLiteral(w uint32) uintptr { return e.Current().PutLiteral(w) }

// Here returns the instruction cursor of the current store.
func (e *Emitter) Here() uintptr { return e.Current().Here() }

// RecordStartingInstructionPointer saves the position of both stores so that a failed
// compilation can be undone with ResetInstructionPointer.
func (e *Emitter) RecordStartingInstructionPointer() {
	e.start = [2]Checkpoint{e.code.Checkpoint(), e.exit.Checkpoint()}
}

// ResetInstructionPointer rolls both stores back to the last RecordStartingInstructionPointer,
// releasing the pages allocated since then.
func (e *Emitter) ResetInstructionPointer() error {
	e.inExit = false
	errCode := e.code.Rollback(e.start[0])
	errExit := e.exit.Rollback(e.start[1])
	if errCode != nil {
		return errCode
	}
	return errExit
}

// Pages returns the pages of the code store followed by those of the exit store.
func (e *Emitter) Pages() []*Page {
	ret := make([]*Page, 0, len(e.code.pages)+len(e.exit.pages))
	ret = append(ret, e.code.pages...)
	return append(ret, e.exit.pages...)
}

// PageOf returns the page of either store containing addr, or nil.
func (e *Emitter) PageOf(addr uintptr) *Page {
	if p := e.code.PageOf(addr); p != nil {
		return p
	}
	return e.exit.PageOf(addr)
}

func (e *Emitter) mustPageOf(addr uintptr) *Page {
	p := e.PageOf(addr)
	if p == nil {
		panic(fmt.Sprintf("BUG: %#x is not in any code page", addr))
	}
	return p
}

// Word returns the word at addr.
func (e *Emitter) Word(addr uintptr) uint32 { return e.mustPageOf(addr).Word(addr) }

// Rewrite overwrites already emitted words starting at addr. The page is made writable for the
// duration of the write if needed, and the instruction cache is flushed for the rewritten range.
func (e *Emitter) Rewrite(addr uintptr, words ...uint32) error {
	p := e.mustPageOf(addr)
	if end := addr + uintptr(4*len(words)); end > p.Top() {
		panic(fmt.Sprintf("BUG: rewrite of %d words at %#x crosses the page end", len(words), addr))
	}
	executable := p.executable
	if executable {
		if err := e.protect(p, false); err != nil {
			return err
		}
	}
	for i, w := range words {
		p.putWord(addr+uintptr(4*i), w)
	}
	if executable {
		if err := e.protect(p, true); err != nil {
			return err
		}
	}
	e.alloc.FlushICache(addr, 4*len(words))
	return nil
}

func (e *Emitter) protect(p *Page, executable bool) error {
	if err := e.alloc.Protect(p, executable); err != nil {
		return fmt.Errorf("protecting page at %#x: %w", p.addr, err)
	}
	p.executable = executable
	return nil
}

// Seal makes every page executable and flushes the instruction cache for the pages which were writable.
func (e *Emitter) Seal() error {
	for _, p := range e.Pages() {
		if p.executable {
			continue
		}
		if err := e.protect(p, true); err != nil {
			return err
		}
		e.alloc.FlushICache(p.addr, p.Size())
	}
	return nil
}

// Unseal makes the pages under the cursors writable so that emission can resume. The other pages
// stay executable; Rewrite unprotects them one at a time.
func (e *Emitter) Unseal() error {
	for _, p := range [2]*Page{e.code.cur, e.exit.cur} {
		if p == nil || !p.executable {
			continue
		}
		if err := e.protect(p, false); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every page.
func (e *Emitter) Close() error {
	e.start = [2]Checkpoint{}
	return e.ResetInstructionPointer()
}
