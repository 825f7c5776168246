package arm

import (
	asm_arm "github.com/tetratelabs/armjit/internal/asm/arm"
	"github.com/tetratelabs/armjit/internal/regalloc"
	"github.com/tetratelabs/armjit/lir"
)

// While walking a fragment backward, the state of the registers and of the reservations is the
// one right after the instruction being generated. Finding a register for an operand moves the
// state to right before it: the definition of the operand will later write that register.
//
// Code emitted by the helpers below before the word of the current instruction executes after
// it, which is how spills are restored for the consumers further down the trace.

func (a *Assembler) res(ins *lir.Ins) *regalloc.Reservation { return &a.resv[ins.ID()] }

// isUsed returns true if a later instruction expects the value of ins somewhere.
func (a *Assembler) isUsed(ins *lir.Ins) bool {
	r := a.res(ins)
	return r.HasReg() || r.HasSlot()
}

func isConst(ins *lir.Ins) bool { return ins.Op.IsImm() }

// inVFP returns true if values of type t live in VFP registers.
func (a *Assembler) inVFP(t lir.Type) bool { return t.Is64() && a.cfg.VFP }

func (a *Assembler) regsFor(ins *lir.Ins) regalloc.RegSet {
	if ins.Type().Is64() {
		if !a.cfg.VFP {
			bug("%s has no register without VFP", ins)
		}
		return a.vfpRegs
	}
	return a.gpRegs
}

// preferred returns the registers where ins is cheapest to produce.
func preferred(ins *lir.Ins) regalloc.RegSet {
	switch ins.Op {
	case lir.OpParamI:
		return regalloc.NewRegSet(regalloc.ArgRegs[ins.Imm])
	case lir.OpCallI:
		return regalloc.NewRegSet(asm_arm.R0)
	}
	return 0
}

// findRegFor returns a register of allow holding the value of ins when the current instruction
// executes.
func (a *Assembler) findRegFor(ins *lir.Ins, allow regalloc.RegSet) asm_arm.Register {
	r := a.res(ins)
	if !r.HasReg() {
		return a.allocReg(ins, allow)
	}
	if allow.Has(r.Reg) {
		return r.Reg
	}
	// The consumers after this point expect ins in a register which is not allowed here: the
	// definition now targets another register, copied to the old one after this instruction.
	old := r.Reg
	a.regs.Retire(old)
	r.Reg = asm_arm.NilRegister
	reg := a.allocReg(ins, allow)
	a.mov(old, reg)
	return reg
}

// findRegs is findRegFor for the two operands of a binary instruction.
func (a *Assembler) findRegs(x, y *lir.Ins, allow regalloc.RegSet) (rx, ry asm_arm.Register) {
	if x == y {
		rx = a.findRegFor(x, allow)
		return rx, rx
	}
	xAllow := allow
	if ry := a.res(y).Reg; ry != asm_arm.NilRegister {
		xAllow = xAllow.Remove(ry)
	}
	rx = a.findRegFor(x, xAllow)
	ry = a.findRegFor(y, allow.Remove(rx))
	return
}

// allocReg assigns a register of allow to ins, evicting another value if none is free.
func (a *Assembler) allocReg(ins *lir.Ins, allow regalloc.RegSet) asm_arm.Register {
	if allow.Empty() {
		bug("no register allowed for %s", ins)
	}
	reg, ok := a.regs.AllocateFromMask(a.regs.Hint(preferred(ins), allow), ins)
	if !ok {
		a.evict(a.victim(allow))
		reg, _ = a.regs.AllocateFromMask(allow, ins)
	}
	a.res(ins).Reg = reg
	return reg
}

// victim chooses the register of allow to give up: constants first since they are rematerialized
// for free, otherwise the value defined earliest, which would keep the register the longest.
func (a *Assembler) victim(allow regalloc.RegSet) asm_arm.Register {
	candidates := allow & a.regs.Used()
	if candidates.Empty() {
		bug("no register of %s can be evicted", allow)
	}
	best := asm_arm.NilRegister
	var bestIns *lir.Ins
	candidates.Range(func(r asm_arm.Register) {
		v := a.regs.Active(r)
		switch {
		case bestIns == nil:
		case isConst(v) && !isConst(bestIns):
		case isConst(v) == isConst(bestIns) && v.ID() < bestIns.ID():
		default:
			return
		}
		best, bestIns = r, v
	})
	return best
}

// evict frees reg. The value it held is reloaded into reg right after the current instruction,
// from its stack slot or by rematerializing the constant.
func (a *Assembler) evict(reg asm_arm.Register) {
	v := a.regs.Retire(reg)
	a.res(v).Reg = asm_arm.NilRegister
	switch v.Op {
	case lir.OpImmI:
		a.loadImm(reg, uint32(v.Imm))
	case lir.OpImmQ, lir.OpImmD:
		a.loadImm64(reg, v.Bits64())
	default:
		a.loadSlot(reg, a.slotFor(v))
	}
}

// slotFor returns the stack slot of ins, allocating it if needed.
func (a *Assembler) slotFor(ins *lir.Ins) int32 {
	r := a.res(ins)
	if !r.HasSlot() {
		r.Disp = a.frame.Alloc(ins.Type().Size())
	}
	return r.Disp
}

// prepareResultReg returns the register of allow where the current instruction must produce
// its result, and stores it to the stack slot of the result if there is one.
func (a *Assembler) prepareResultReg(ins *lir.Ins, allow regalloc.RegSet) asm_arm.Register {
	r := a.res(ins)
	var rr asm_arm.Register
	switch {
	case r.HasReg() && allow.Has(r.Reg):
		rr = r.Reg
	case r.HasReg():
		old := r.Reg
		a.regs.Retire(old)
		r.Reg = asm_arm.NilRegister
		rr = a.allocReg(ins, allow)
		a.mov(old, rr)
	default:
		rr = a.allocReg(ins, allow)
	}
	if r.HasSlot() {
		a.storeSlot(rr, r.Disp)
	}
	return rr
}

// freeResourcesOf releases the register and the slot of ins once its definition is emitted.
func (a *Assembler) freeResourcesOf(ins *lir.Ins) {
	r := a.res(ins)
	if r.HasReg() {
		if v := a.regs.Retire(r.Reg); v != ins {
			bug("%s held %s instead of %s", r.Reg, v, ins)
		}
	}
	if r.HasSlot() {
		a.frame.Free(r.Disp, ins.Type().Size())
	}
	*r = regalloc.NewReservation()
}
