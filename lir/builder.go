package lir

import (
	"errors"
	"fmt"
)

// Builder appends instructions to a fragment, checking operand types.
//
// Errors are sticky: after the first invalid instruction, the remaining calls are ignored and
// Finish returns that error.
type Builder struct {
	f         *Fragment
	nextGuard uint32
	done      bool
	err       error
}

// NewBuilder returns a Builder appending to f.
func NewBuilder(f *Fragment) *Builder {
	return &Builder{f: f, nextGuard: 1}
}

// Fragment returns the fragment being built.
func (b *Builder) Fragment() *Fragment { return b.f }

func (b *Builder) failf(format string, args ...interface{}) {
	if b.err == nil {
		b.err = fmt.Errorf("fragment %d, ins %d: %s", b.f.ID, len(b.f.Code), fmt.Sprintf(format, args...))
	}
}

func (b *Builder) push(ins *Ins) *Ins {
	if b.err != nil {
		return ins
	}
	if b.done {
		b.failf("instruction after the final exit")
		return ins
	}
	ins.id = len(b.f.Code)
	b.f.Code = append(b.f.Code, ins)
	return ins
}

func (b *Builder) checkOperand(op Opcode, ins *Ins, want Type) {
	switch {
	case ins == nil:
		b.failf("%s: missing operand", op)
	case ins.id >= len(b.f.Code) || b.f.Code[ins.id] != ins:
		b.failf("%s: operand is not an earlier instruction of this fragment", op)
	case ins.Type() != want:
		b.failf("%s: operand v%d has type %s, want %s", op, ins.id, ins.Type(), want)
	}
}

// operandType returns the type of the operands of op (the stored value for stores).
func operandType(op Opcode) Type {
	switch {
	case op >= OpAddD && op <= OpNegD, op == OpD2I, op.IsCmpD():
		return TypeD
	case op.IsStore():
		return op.StoredType()
	default:
		return TypeI
	}
}

// ImmI appends a 32-bit constant.
func (b *Builder) ImmI(v int32) *Ins { return b.push(&Ins{Op: OpImmI, Imm: v}) }

// ImmQ appends a 64-bit integer constant.
func (b *Builder) ImmQ(v int64) *Ins { return b.push(&Ins{Op: OpImmQ, ImmQ: v}) }

// ImmD appends a double constant.
func (b *Builder) ImmD(v float64) *Ins { return b.push(&Ins{Op: OpImmD, ImmD: v}) }

// Param appends the fragment argument number i. Parameters come first, each at most once.
func (b *Builder) Param(i int) *Ins {
	switch {
	case i < 0 || i > 3:
		b.failf("parameter index %d out of range", i)
	case b.err == nil:
		for _, ins := range b.f.Code {
			if ins.Op != OpParamI {
				b.failf("parameters must precede the other instructions")
				break
			}
			if ins.Imm == int32(i) {
				b.failf("parameter %d declared twice", i)
				break
			}
		}
	}
	return b.push(&Ins{Op: OpParamI, Imm: int32(i)})
}

// Ins1 appends a unary operation.
func (b *Builder) Ins1(op Opcode, a *Ins) *Ins {
	if op.Operands() != 1 || op.IsLoad() || op.IsExit() {
		b.failf("%s is not a unary operation", op)
	} else {
		b.checkOperand(op, a, operandType(op))
	}
	return b.push(&Ins{Op: op, A: a})
}

// Ins2 appends a binary operation.
func (b *Builder) Ins2(op Opcode, x, y *Ins) *Ins {
	if op.Operands() != 2 || op.IsStore() {
		b.failf("%s is not a binary operation", op)
	} else {
		b.checkOperand(op, x, operandType(op))
		b.checkOperand(op, y, operandType(op))
	}
	return b.push(&Ins{Op: op, A: x, B: y})
}

// Load appends a load from base+disp.
func (b *Builder) Load(op Opcode, base *Ins, disp int32) *Ins {
	if !op.IsLoad() {
		b.failf("%s is not a load", op)
	} else {
		b.checkOperand(op, base, TypeI)
	}
	return b.push(&Ins{Op: op, A: base, Imm: disp})
}

// Store appends a store of value to base+disp.
func (b *Builder) Store(op Opcode, value, base *Ins, disp int32) *Ins {
	if !op.IsStore() {
		b.failf("%s is not a store", op)
	} else {
		b.checkOperand(op, value, op.StoredType())
		b.checkOperand(op, base, TypeI)
	}
	return b.push(&Ins{Op: op, A: value, B: base, Imm: disp})
}

// Call appends a call to ci.
func (b *Builder) Call(ci *CallInfo, args ...*Ins) *Ins {
	var op Opcode
	switch ci.Ret {
	case TypeV:
		op = OpCallV
	case TypeI:
		op = OpCallI
	case TypeQ:
		op = OpCallQ
	case TypeD:
		op = OpCallD
	}
	if len(args) != len(ci.Args) {
		b.failf("call %s: %d arguments, want %d", ci.Name, len(args), len(ci.Args))
	} else {
		for i, a := range args {
			if ci.Args[i] == TypeV {
				b.failf("call %s: argument %d has no type", ci.Name, i)
			}
			b.checkOperand(op, a, ci.Args[i])
		}
	}
	return b.push(&Ins{Op: op, Call: ci, Args: args})
}

func (b *Builder) guard(exit *SideExit, payload uint32) *GuardRecord {
	g := &GuardRecord{ID: b.nextGuard, Payload: payload, Exit: exit}
	b.nextGuard++
	return g
}

// Guard appends an OpXT or OpXF on cond and returns its record.
func (b *Builder) Guard(op Opcode, cond *Ins, exit *SideExit, payload uint32) *GuardRecord {
	if op != OpXT && op != OpXF {
		b.failf("%s is not a guard", op)
	} else {
		b.checkOperand(op, cond, TypeI)
	}
	g := b.guard(exit, payload)
	g.Origin = b.push(&Ins{Op: op, A: cond, Guard: g})
	return g
}

// Exit appends the final, unconditional exit.
func (b *Builder) Exit(exit *SideExit, payload uint32) *GuardRecord {
	g := b.guard(exit, payload)
	g.Origin = b.push(&Ins{Op: OpX, Guard: g})
	b.done = true
	return g
}

// Loop appends the final exit jumping back to the start of the fragment.
func (b *Builder) Loop() *GuardRecord {
	return b.Exit(&SideExit{Target: b.f}, 0)
}

// ErrUnterminated is returned by Finish when the fragment does not end with an exit.
var ErrUnterminated = errors.New("fragment does not end with an exit")

// Finish validates the fragment and returns the first error encountered while building it.
func (b *Builder) Finish() error {
	if b.err != nil {
		return b.err
	}
	if !b.done {
		return fmt.Errorf("fragment %d: %w", b.f.ID, ErrUnterminated)
	}
	return nil
}
