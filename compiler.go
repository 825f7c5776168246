// Package armjit compiles traces of the lir intermediate representation into 32-bit ARM machine
// code.
//
// A Compiler owns the executable memory of everything it compiled. Fragments are compiled one at
// a time, and exits of earlier fragments which jump to a later one are patched as soon as that
// fragment is compiled.
package armjit

import (
	"fmt"
	"log/slog"

	"github.com/tetratelabs/armjit/internal/backend/arm"
	"github.com/tetratelabs/armjit/internal/codepage"
	"github.com/tetratelabs/armjit/internal/platform"
	"github.com/tetratelabs/armjit/lir"
)

// ErrOutOfExecutableMemory is wrapped by Compiler.Compile when the page limit is reached or the
// host refuses more executable memory. The compiler stays usable.
var ErrOutOfExecutableMemory = codepage.ErrOutOfExecutableMemory

// CodePage is a snapshot of one page of generated code.
type CodePage struct {
	Addr uintptr
	// Exit is true for pages holding exit stubs.
	Exit bool
	// Code is a copy of the page content, little endian.
	Code []byte
}

// Compiler is a code generation session. It is not safe for concurrent use.
type Compiler struct {
	alloc  codepage.Allocator
	asm    *arm.Assembler
	logger *slog.Logger
}

// NewCompiler returns a Compiler configured with config, nil meaning NewBackendConfig.
func NewCompiler(config BackendConfig) (*Compiler, error) {
	if config == nil {
		config = NewBackendConfig()
	}
	c := config.(*backendConfig)
	if err := c.validate(); err != nil {
		return nil, err
	}
	logger := c.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	alloc, err := platform.NewAllocator(c.pageSize, c.maxPages, c.simulatedBase, logger)
	if err != nil {
		return nil, err
	}
	asm := arm.NewAssembler(alloc, arm.Config{ABI: c.abi, VFP: c.vfp, ARMv7: c.armv7, Logger: logger})
	return &Compiler{alloc: alloc, asm: asm, logger: logger}, nil
}

// Native returns true when the compiled code is in real executable memory of this process.
func (c *Compiler) Native() bool {
	_, simulated := c.alloc.(*codepage.HeapAllocator)
	return !simulated
}

// Compile generates the code of f, then points the exits of earlier fragments which wait for f
// to its entry. On success, f.Start is the address to call and f.Entry the address other
// fragments jump to.
func (c *Compiler) Compile(f *lir.Fragment) error {
	if f.Compiled() {
		return fmt.Errorf("fragment %d is already compiled", f.ID)
	}
	if err := c.asm.Compile(f); err != nil {
		return err
	}
	return c.asm.Resolve(f)
}

// Patch redirects the exit jump at site, a GuardRecord.PatchSite, to target and returns the
// previous target. A fragment entry is only a valid target for exits of fragments with the same
// ExplicitSavedRegs.
func (c *Compiler) Patch(site, target uintptr) (old uintptr, err error) {
	return c.asm.Patch(site, target)
}

// Exits returns the guard of every exit stub, keyed by the stub address.
func (c *Compiler) Exits() map[uintptr]*lir.GuardRecord {
	return c.asm.Exits()
}

// Pages returns a snapshot of every code and exit page.
func (c *Compiler) Pages() []CodePage {
	var ret []CodePage
	for _, p := range c.asm.Pages() {
		ret = append(ret, CodePage{Addr: p.Addr(), Exit: p.Exit(), Code: append([]byte(nil), p.Bytes()...)})
	}
	return ret
}

// Close releases the executable memory. Compiled code must not run afterwards.
func (c *Compiler) Close() error {
	return c.asm.Close()
}
