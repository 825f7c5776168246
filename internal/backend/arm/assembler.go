// Package arm generates 32-bit ARM machine code for lir fragments.
//
// Code is generated backward: the last instruction of a fragment is emitted first, at the
// highest address, and every emitted word lands below the previous one. This lets the register
// allocator see all the uses of a value before its definition, so that the definition can be
// produced directly in the register its consumers expect.
package arm

import (
	"errors"
	"fmt"
	"log/slog"

	asm_arm "github.com/tetratelabs/armjit/internal/asm/arm"
	"github.com/tetratelabs/armjit/internal/abi"
	"github.com/tetratelabs/armjit/internal/codepage"
	"github.com/tetratelabs/armjit/internal/regalloc"
	"github.com/tetratelabs/armjit/lir"
)

// Config selects the target features.
type Config struct {
	// ABI is the argument passing convention of called functions.
	ABI abi.Variant
	// VFP enables the VFPv2 double precision unit. Without it, 64-bit values are only copied.
	VFP bool
	// ARMv7 enables MOVW/MOVT for constants.
	ARMv7 bool
	// Logger receives debug records. Nil discards them.
	Logger *slog.Logger
}

// Assembler is a code generation session: it owns the code pages of every fragment it compiled,
// the exits emitted so far, and the jumps waiting for a fragment to be compiled.
//
// An Assembler is not safe for concurrent use.
type Assembler struct {
	cfg    Config
	logger *slog.Logger
	e      *codepage.Emitter

	exits map[uintptr]*lir.GuardRecord
	// pending are the far jumps to the epilogue standing for a jump into a fragment which was not
	// compiled yet, keyed by the ID of that fragment.
	pending map[uint32][]uintptr

	// The fields below only live during Compile.
	frag        *lir.Fragment
	regs        *regalloc.Registers[*lir.Ins]
	frame       regalloc.StackFrame
	resv        []regalloc.Reservation
	uses        []int
	gpRegs      regalloc.RegSet
	vfpRegs     regalloc.RegSet
	params      []*lir.Ins
	epilogue    uintptr
	maxOutgoing int32
	loopSites   []uintptr
	newExits    []emittedExit
	newPending  []pendingSite
}

type emittedExit struct {
	stub  uintptr
	site  uintptr
	guard *lir.GuardRecord
}

type pendingSite struct {
	target uint32
	site   uintptr
}

// NewAssembler returns an Assembler emitting into pages of alloc.
func NewAssembler(alloc codepage.Allocator, cfg Config) *Assembler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Assembler{
		cfg:     cfg,
		logger:  logger,
		e:       codepage.NewEmitter(alloc, logger),
		exits:   map[uintptr]*lir.GuardRecord{},
		pending: map[uint32][]uintptr{},
	}
}

// Config returns the configuration of the session.
func (a *Assembler) Config() Config { return a.cfg }

// Emitter returns the emitter owning the code pages.
func (a *Assembler) Emitter() *codepage.Emitter { return a.e }

// Pages returns every code and exit page of the session.
func (a *Assembler) Pages() []*codepage.Page { return a.e.Pages() }

// Exits returns the exit stubs emitted so far, keyed by the address of their first instruction.
func (a *Assembler) Exits() map[uintptr]*lir.GuardRecord { return a.exits }

// PendingSites returns the jumps waiting for the fragment with the given ID to be compiled.
func (a *Assembler) PendingSites(id uint32) []uintptr { return a.pending[id] }

// Close releases every page of the session. Code emitted by the session must not run afterwards.
func (a *Assembler) Close() error {
	a.exits = map[uintptr]*lir.GuardRecord{}
	a.pending = map[uint32][]uintptr{}
	return a.e.Close()
}

// Compile emits the machine code of f and sets f.Start and f.Entry.
//
// On error, such as exhausted executable memory, everything emitted for f is rolled back, the
// pages of the session are executable again and the session stays usable. Fragments the back end
// cannot handle, such as double arithmetic without VFP, panic after the same roll back.
func (a *Assembler) Compile(f *lir.Fragment) (err error) {
	if err = validate(f); err != nil {
		return err
	}
	a.e.RecordStartingInstructionPointer()
	if err = a.e.Unseal(); err != nil {
		return fmt.Errorf("compiling fragment %d: %w", f.ID, errors.Join(err, a.e.Seal()))
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		a.frag = nil
		rollbackErr := a.rollback()
		rerr, ok := r.(error)
		if !ok || !errors.Is(rerr, codepage.ErrOutOfExecutableMemory) {
			panic(r)
		}
		if rollbackErr != nil {
			rerr = errors.Join(rerr, rollbackErr)
		}
		err = fmt.Errorf("compiling fragment %d: %w", f.ID, rerr)
	}()

	a.begin(f)
	a.genEpilogue()
	a.genBody()
	a.genParams()
	bodyStart := a.e.Here()
	start, entry := a.genPrologue(bodyStart)
	for _, site := range a.loopSites {
		a.patch(site, bodyStart)
	}
	a.regs.Check()

	if err = a.e.Seal(); err != nil {
		a.frag = nil
		return fmt.Errorf("compiling fragment %d: %w", f.ID, errors.Join(err, a.rollback()))
	}
	f.Start, f.Entry = start, entry
	a.commit()
	a.logger.Debug("compiled fragment", "id", f.ID, "name", f.Name,
		"start", fmt.Sprintf("%#x", start), "entry", fmt.Sprintf("%#x", entry),
		"slots", a.frame.Slots(), "outgoing", a.maxOutgoing, "exits", len(a.newExits))
	a.frag = nil
	return nil
}

func validate(f *lir.Fragment) error {
	if len(f.Code) == 0 || f.Code[len(f.Code)-1].Op != lir.OpX {
		return fmt.Errorf("fragment %d: %w", f.ID, lir.ErrUnterminated)
	}
	for i, ins := range f.Code {
		if ins.ID() != i {
			return fmt.Errorf("fragment %d: instruction %d was not built for this fragment", f.ID, i)
		}
		if ins.Op == lir.OpParamI && i > 0 && f.Code[i-1].Op != lir.OpParamI {
			return fmt.Errorf("fragment %d: parameter %d after other instructions", f.ID, i)
		}
	}
	return nil
}

func (a *Assembler) begin(f *lir.Fragment) {
	a.frag = f
	a.gpRegs = regalloc.AllocatableSet(a.cfg.VFP) & regalloc.GPRegs
	if f.ExplicitSavedRegs {
		a.gpRegs &^= regalloc.CalleeSaved
	}
	a.vfpRegs = regalloc.AllocatableSet(a.cfg.VFP) & regalloc.VFPRegs
	if a.regs == nil {
		a.regs = regalloc.NewRegisters[*lir.Ins](a.gpRegs | a.vfpRegs)
	} else {
		a.regs.Reset(a.gpRegs | a.vfpRegs)
	}
	a.frame.Reset()
	a.resv = make([]regalloc.Reservation, len(f.Code))
	a.uses = make([]int, len(f.Code))
	a.params = a.params[:0]
	for i, ins := range f.Code {
		a.resv[i] = regalloc.NewReservation()
		for _, o := range ins.Operands() {
			a.uses[o.ID()]++
		}
		if ins.Op == lir.OpParamI {
			a.params = append(a.params, ins)
		}
	}
	a.maxOutgoing = 0
	a.loopSites = a.loopSites[:0]
	a.newExits = a.newExits[:0]
	a.newPending = a.newPending[:0]
}

// rollback discards everything emitted since the compilation started and makes the remaining
// pages executable again.
func (a *Assembler) rollback() error {
	return errors.Join(a.e.ResetInstructionPointer(), a.e.Seal())
}

// commit publishes the exits and pending jumps of the fragment which was just compiled.
func (a *Assembler) commit() {
	for _, x := range a.newExits {
		x.guard.PatchSite = x.site
		a.exits[x.stub] = x.guard
	}
	for _, p := range a.newPending {
		a.pending[p.target] = append(a.pending[p.target], p.site)
	}
}

// savedRegs returns the registers pushed by the prologue.
func (a *Assembler) savedRegs() []asm_arm.Register {
	var ret []asm_arm.Register
	if !a.frag.ExplicitSavedRegs {
		regalloc.CalleeSaved.Range(func(r asm_arm.Register) { ret = append(ret, r) })
	}
	return ret
}

// bug aborts the compilation of a fragment the back end cannot handle.
func bug(format string, args ...interface{}) {
	panic("BUG: " + fmt.Sprintf(format, args...))
}
