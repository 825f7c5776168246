// Package abi computes where the arguments of a call go under the two supported ARM calling
// conventions.
package abi

import (
	"fmt"

	"github.com/tetratelabs/armjit/internal/asm/arm"
	"github.com/tetratelabs/armjit/lir"
)

// Variant selects the argument passing convention.
type Variant byte

const (
	// EABI is the ARM EABI (AAPCS) convention: 64-bit arguments start at an even register, or
	// on an 8-byte aligned stack slot once the registers are exhausted.
	EABI Variant = iota
	// Legacy is the old ARM APCS convention: 64-bit arguments take the next registers even if
	// that splits them between R3 and the stack, and all stack slots are 4-byte aligned.
	Legacy
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case EABI:
		return "eabi"
	case Legacy:
		return "legacy"
	default:
		return fmt.Sprintf("variant(%d)", byte(v))
	}
}

// ParseVariant is the inverse of Variant.String.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "eabi":
		return EABI, nil
	case "legacy":
		return Legacy, nil
	default:
		return 0, fmt.Errorf("unknown ABI %q, want eabi or legacy", s)
	}
}

// ArgLocation is where one argument goes. A 32-bit argument uses one register or one stack
// word. A 64-bit argument uses two registers (low word first), two stack words, or under
// Legacy, R3 for the low word and one stack word for the high word.
type ArgLocation struct {
	Type lir.Type
	// Regs are the argument registers in word order, arm.NilRegister when unused.
	Regs [2]arm.Register
	// StackOffset is the SP-relative offset of the first stack word, -1 when unused.
	StackOffset int32
}

// RegWords returns the number of words passed in registers.
func (l *ArgLocation) RegWords() int {
	n := 0
	for _, r := range l.Regs {
		if r != arm.NilRegister {
			n++
		}
	}
	return n
}

// StackWords returns the number of words passed on the stack.
func (l *ArgLocation) StackWords() int {
	if l.StackOffset < 0 {
		return 0
	}
	return l.Type.Size()/4 - l.RegWords()
}

// String implements fmt.Stringer.
func (l ArgLocation) String() string {
	var parts []string
	for _, r := range l.Regs {
		if r != arm.NilRegister {
			parts = append(parts, r.String())
		}
	}
	if l.StackOffset >= 0 {
		parts = append(parts, fmt.Sprintf("[sp+%d]", l.StackOffset))
	}
	ret := ""
	for i, p := range parts {
		if i > 0 {
			ret += ":"
		}
		ret += p
	}
	return ret
}

// Layout returns the location of each argument in declaration order and the size of the
// outgoing stack area rounded up to 8 bytes.
func (v Variant) Layout(args []lir.Type) (locs []ArgLocation, stackSize int32) {
	locs = make([]ArgLocation, len(args))
	next := 0 // next argument register index.
	var sp int32
	for i, t := range args {
		loc := ArgLocation{Type: t, Regs: [2]arm.Register{arm.NilRegister, arm.NilRegister}, StackOffset: -1}
		switch {
		case t == lir.TypeI:
			if next < 4 {
				loc.Regs[0] = arm.Register(next)
				next++
			} else {
				loc.StackOffset = sp
				sp += 4
			}
		case t.Is64() && v == EABI:
			next += next & 1
			if next <= 2 {
				loc.Regs = [2]arm.Register{arm.Register(next), arm.Register(next + 1)}
				next += 2
			} else {
				// Registers are never back-filled once a 64-bit argument went to the stack.
				next = 4
				sp = (sp + 7) &^ 7
				loc.StackOffset = sp
				sp += 8
			}
		case t.Is64() && v == Legacy:
			switch {
			case next <= 2:
				loc.Regs = [2]arm.Register{arm.Register(next), arm.Register(next + 1)}
				next += 2
			case next == 3:
				loc.Regs[0] = arm.R3
				loc.StackOffset = sp
				next, sp = 4, sp+4
			default:
				loc.StackOffset = sp
				sp += 8
			}
		default:
			panic(fmt.Sprintf("BUG: invalid argument type %s under %s", t, v))
		}
		locs[i] = loc
	}
	return locs, (sp + 7) &^ 7
}

// ResultRegs returns the registers holding a result of type t: R0 for 32-bit results and
// R0:R1 for 64-bit ones.
func ResultRegs(t lir.Type) []arm.Register {
	switch t {
	case lir.TypeV:
		return nil
	case lir.TypeI:
		return []arm.Register{arm.R0}
	default:
		return []arm.Register{arm.R0, arm.R1}
	}
}
