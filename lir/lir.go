// Package lir is the low level, linear intermediate representation consumed by the ARM back end.
//
// A trace is a straight sequence of instructions in SSA form: operands always refer to earlier
// instructions. Control only leaves the sequence through exits, either back to the trace monitor
// or into another compiled fragment (possibly the fragment itself, which forms a loop).
package lir

import (
	"fmt"
	"math"
	"strings"
)

// Ins is one instruction of a trace.
type Ins struct {
	Op Opcode
	// A and B are the operands of the instruction, see Opcode.Operands.
	A, B *Ins
	// Imm is the constant of OpImmI, the parameter index of OpParamI, or the displacement
	// of loads and stores.
	Imm  int32
	ImmQ int64
	ImmD float64
	// Call and Args are set for calls.
	Call *CallInfo
	Args []*Ins
	// Guard is set for exits.
	Guard *GuardRecord

	id int
}

// ID returns the position of the instruction in its fragment.
func (i *Ins) ID() int { return i.id }

// Type returns the type of the value the instruction produces.
func (i *Ins) Type() Type { return i.Op.Type() }

// Operands returns the instructions i reads.
func (i *Ins) Operands() []*Ins {
	if i.Op.IsCall() {
		return i.Args
	}
	switch i.Op.Operands() {
	case 1:
		return []*Ins{i.A}
	case 2:
		return []*Ins{i.A, i.B}
	default:
		return nil
	}
}

// Bits64 returns the bit pattern of a 64-bit constant.
func (i *Ins) Bits64() uint64 {
	switch i.Op {
	case OpImmQ:
		return uint64(i.ImmQ)
	case OpImmD:
		return math.Float64bits(i.ImmD)
	default:
		panic(fmt.Sprintf("BUG: %s is not a 64-bit constant", i.Op))
	}
}

// String implements fmt.Stringer.
func (i *Ins) String() string {
	var sb strings.Builder
	if i.Type() != TypeV {
		fmt.Fprintf(&sb, "v%d = ", i.id)
	}
	sb.WriteString(i.Op.String())
	switch {
	case i.Op == OpImmI, i.Op == OpParamI:
		fmt.Fprintf(&sb, " %d", i.Imm)
	case i.Op == OpImmQ:
		fmt.Fprintf(&sb, " %d", i.ImmQ)
	case i.Op == OpImmD:
		fmt.Fprintf(&sb, " %g", i.ImmD)
	case i.Op.IsLoad():
		fmt.Fprintf(&sb, " v%d[%d]", i.A.id, i.Imm)
	case i.Op.IsStore():
		fmt.Fprintf(&sb, " v%d, v%d[%d]", i.A.id, i.B.id, i.Imm)
	case i.Op.IsCall():
		sb.WriteString(" " + i.Call.Name)
		for _, a := range i.Args {
			fmt.Fprintf(&sb, " v%d", a.id)
		}
	default:
		for _, o := range i.Operands() {
			fmt.Fprintf(&sb, " v%d", o.id)
		}
	}
	if i.Guard != nil {
		fmt.Fprintf(&sb, " -> guard %d", i.Guard.ID)
	}
	return sb.String()
}

// CallInfo describes the target of a call. It is never mutated by the back end.
type CallInfo struct {
	Name string
	// Addr is the absolute address of the function.
	Addr uintptr
	// Args are the types of the arguments in declaration order.
	Args []Type
	// Ret is the type of the result, TypeV if none.
	Ret Type
}

// Fragment is a compiled trace. Start and Entry are zero until the fragment is compiled.
type Fragment struct {
	ID   uint32
	Name string
	Code []*Ins
	// ExplicitSavedRegs tells the back end that the fragment code takes care of the callee
	// saved registers R4-R10: the prologue does not save them and they are never allocated.
	ExplicitSavedRegs bool

	// Start is the address of the first instruction executed when the fragment is called.
	Start uintptr
	// Entry is where other fragments jump to, after the frame is set up.
	Entry uintptr
}

// Compiled returns true once the back end has set the entry of the fragment.
func (f *Fragment) Compiled() bool { return f.Entry != 0 }

// String implements fmt.Stringer.
func (f *Fragment) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fragment %d %q\n", f.ID, f.Name)
	for _, ins := range f.Code {
		sb.WriteString("  " + ins.String() + "\n")
	}
	return sb.String()
}

// SideExit is where an exit goes.
type SideExit struct {
	// Target is the fragment to continue in. When nil, or not compiled yet, the exit returns
	// to the caller of the fragment with the guard payload as result.
	Target *Fragment
}

// GuardRecord is the run time identity of one exit.
type GuardRecord struct {
	ID uint32
	// Payload is returned by the fragment when the exit leaves it.
	Payload uint32
	Exit    *SideExit
	// Origin is the exit instruction.
	Origin *Ins
	// PatchSite is the address of the patchable jump of the exit once emitted, zero if the
	// exit has none (for example when it already jumps straight to a compiled fragment).
	PatchSite uintptr
}
