package arm

import (
	asm_arm "github.com/tetratelabs/armjit/internal/asm/arm"
	"github.com/tetratelabs/armjit/internal/regalloc"
	"github.com/tetratelabs/armjit/lir"
)

// genBody generates every instruction but the parameters, last to first.
func (a *Assembler) genBody() {
	code := a.frag.Code
	for i := len(code) - 1; i >= 0; i-- {
		ins := code[i]
		switch {
		case ins.Op == lir.OpParamI:
		case ins.Op.IsPure() && !a.isUsed(ins):
		default:
			a.gen(ins)
		}
	}
}

func (a *Assembler) gen(ins *lir.Ins) {
	switch op := ins.Op; {
	case op == lir.OpImmI:
		rr := a.prepareResultReg(ins, a.gpRegs)
		a.loadImm(rr, uint32(ins.Imm))
		a.freeResourcesOf(ins)
	case op == lir.OpImmQ, op == lir.OpImmD:
		a.genImm64(ins)
	case op >= lir.OpAddI && op <= lir.OpNotI:
		a.genALU(ins)
	case op.IsCmp():
		a.genCmp(ins)
	case op >= lir.OpAddD && op <= lir.OpNegD:
		a.genFPU(ins)
	case op == lir.OpI2D:
		a.genI2D(ins)
	case op == lir.OpD2I:
		a.genD2I(ins)
	case op.IsLoad():
		a.genLoad(ins)
	case op.IsStore():
		a.genStore(ins)
	case op.IsCall():
		a.genCall(ins)
	case op == lir.OpXT, op == lir.OpXF:
		a.genGuard(ins)
	case op == lir.OpX:
		a.genExit(ins.Guard, false)
	default:
		bug("cannot generate %s", ins)
	}
}

func (a *Assembler) requireVFP(ins *lir.Ins) {
	if !a.cfg.VFP {
		bug("%s needs VFP", ins)
	}
}

func (a *Assembler) genImm64(ins *lir.Ins) {
	if a.cfg.VFP {
		rr := a.prepareResultReg(ins, a.vfpRegs)
		a.loadImm64(rr, ins.Bits64())
	} else {
		a.storeConst64(asm_arm.FP, a.res(ins).Disp, ins.Bits64())
	}
	a.freeResourcesOf(ins)
}

var aluOps = map[lir.Opcode]asm_arm.DataOp{
	lir.OpAddI: asm_arm.ADD,
	lir.OpSubI: asm_arm.SUB,
	lir.OpAndI: asm_arm.AND,
	lir.OpOrI:  asm_arm.ORR,
	lir.OpXorI: asm_arm.EOR,
}

var shiftOps = map[lir.Opcode]asm_arm.ShiftType{
	lir.OpLshI:  asm_arm.LSL,
	lir.OpRshI:  asm_arm.ASR,
	lir.OpRshUI: asm_arm.LSR,
}

func (a *Assembler) genALU(ins *lir.Ins) {
	rr := a.prepareResultReg(ins, a.gpRegs)
	allow := a.gpRegs.Remove(rr)
	x, y := ins.A, ins.B
	switch op := ins.Op; op {
	case lir.OpAddI, lir.OpSubI, lir.OpAndI, lir.OpOrI, lir.OpXorI:
		dop := aluOps[op]
		switch {
		case y.Op == lir.OpImmI:
			a.aluImm(dop, rr, a.findRegFor(x, allow), uint32(y.Imm))
		case x.Op == lir.OpImmI && op == lir.OpSubI:
			a.aluImm(asm_arm.RSB, rr, a.findRegFor(y, allow), uint32(x.Imm))
		case x.Op == lir.OpImmI:
			a.aluImm(dop, rr, a.findRegFor(y, allow), uint32(x.Imm))
		default:
			rx, ry := a.findRegs(x, y, allow)
			a.aluReg(dop, rr, rx, ry)
		}
	case lir.OpMulI:
		rx, ry := a.findRegs(x, y, allow)
		a.put(asm_arm.EncodeMul(asm_arm.AL, false, rr, rx, ry))
	case lir.OpLshI, lir.OpRshI, lir.OpRshUI:
		shift := shiftOps[op]
		if y.Op == lir.OpImmI {
			rx := a.findRegFor(x, allow)
			if amount := uint32(y.Imm) & 31; amount == 0 {
				a.mov(rr, rx)
			} else {
				a.put(asm_arm.EncodeDataProcessingReg(asm_arm.AL, asm_arm.MOV, false, rr, asm_arm.R0, rx, shift, amount))
			}
			break
		}
		// Shift amounts are taken modulo 32.
		rx, ry := a.findRegs(x, y, allow)
		a.put(asm_arm.EncodeDataProcessingRegShiftReg(asm_arm.AL, asm_arm.MOV, false, rr, asm_arm.R0, rx, shift, valueScratch))
		a.aluImm(asm_arm.AND, valueScratch, ry, 31)
	case lir.OpNegI:
		a.aluImm(asm_arm.RSB, rr, a.findRegFor(x, allow), 0)
	case lir.OpNotI:
		a.aluReg(asm_arm.MVN, rr, asm_arm.R0, a.findRegFor(x, allow))
	}
	a.freeResourcesOf(ins)
}

// condOf returns the condition under which the comparison op holds, after a CMP for integers
// or a VCMP and VMRS for doubles. The double conditions are false for unordered operands, and so
// are the inverse of the conditions of the negated comparisons.
func condOf(op lir.Opcode) asm_arm.Cond {
	switch op {
	case lir.OpEqI, lir.OpEqD:
		return asm_arm.EQ
	case lir.OpLtI:
		return asm_arm.LT
	case lir.OpGtI, lir.OpGtD:
		return asm_arm.GT
	case lir.OpLeI:
		return asm_arm.LE
	case lir.OpGeI, lir.OpGeD:
		return asm_arm.GE
	case lir.OpLtUI:
		return asm_arm.LO
	case lir.OpGtUI:
		return asm_arm.HI
	case lir.OpLeUI, lir.OpLeD:
		return asm_arm.LS
	case lir.OpGeUI:
		return asm_arm.HS
	case lir.OpLtD:
		return asm_arm.MI
	}
	bug("%s is not a comparison", op)
	return asm_arm.AL
}

// genFlags emits the comparison cmp, setting the condition flags. Integer operands are found
// in allow.
func (a *Assembler) genFlags(cmp *lir.Ins, allow regalloc.RegSet) {
	x, y := cmp.A, cmp.B
	switch {
	case cmp.Op.IsCmpD():
		a.requireVFP(cmp)
		a.put(asm_arm.EncodeVMRS(asm_arm.AL))
		dx, dy := a.findRegs(x, y, a.vfpRegs)
		a.put(asm_arm.EncodeVCmp(asm_arm.AL, dx, dy))
	case y.Op == lir.OpImmI:
		a.aluImm(asm_arm.CMP, asm_arm.R0, a.findRegFor(x, allow), uint32(y.Imm))
	default:
		rx, ry := a.findRegs(x, y, allow)
		a.aluReg(asm_arm.CMP, asm_arm.R0, rx, ry)
	}
}

// genCmp materializes a comparison as 0 or 1.
func (a *Assembler) genCmp(ins *lir.Ins) {
	rr := a.prepareResultReg(ins, a.gpRegs)
	a.put(asm_arm.EncodeDataProcessingImm(condOf(ins.Op), asm_arm.MOV, false, rr, asm_arm.R0, 1, 0))
	a.put(asm_arm.EncodeDataProcessingImm(asm_arm.AL, asm_arm.MOV, false, rr, asm_arm.R0, 0, 0))
	a.genFlags(ins, a.gpRegs.Remove(rr))
	a.freeResourcesOf(ins)
}

// genGuard emits a conditional branch to the exit stub of the guard. A comparison only used
// by the guard is fused into it.
func (a *Assembler) genGuard(ins *lir.Ins) {
	stub := a.genExit(ins.Guard, true)
	cond := ins.A
	if cond.Op.IsCmp() && a.uses[cond.ID()] == 1 && !a.isUsed(cond) {
		cc := condOf(cond.Op)
		if ins.Op == lir.OpXF {
			cc = cc.Invert()
		}
		a.branchCond(cc, stub)
		a.genFlags(cond, a.gpRegs)
		return
	}
	cc := asm_arm.NE
	if ins.Op == lir.OpXF {
		cc = asm_arm.EQ
	}
	a.branchCond(cc, stub)
	a.aluImm(asm_arm.CMP, asm_arm.R0, a.findRegFor(cond, a.gpRegs), 0)
}

var fpuOps = map[lir.Opcode]asm_arm.VFPOp{
	lir.OpAddD: asm_arm.VADD,
	lir.OpSubD: asm_arm.VSUB,
	lir.OpMulD: asm_arm.VMUL,
	lir.OpDivD: asm_arm.VDIV,
}

func (a *Assembler) genFPU(ins *lir.Ins) {
	a.requireVFP(ins)
	rr := a.prepareResultReg(ins, a.vfpRegs)
	allow := a.vfpRegs.Remove(rr)
	if ins.Op == lir.OpNegD {
		a.put(asm_arm.EncodeVFPUnary(asm_arm.AL, asm_arm.VNEG, rr, a.findRegFor(ins.A, allow)))
	} else {
		dx, dy := a.findRegs(ins.A, ins.B, allow)
		a.put(asm_arm.EncodeVFPBinary(asm_arm.AL, fpuOps[ins.Op], rr, dx, dy))
	}
	a.freeResourcesOf(ins)
}

func (a *Assembler) genI2D(ins *lir.Ins) {
	a.requireVFP(ins)
	rr := a.prepareResultReg(ins, a.vfpRegs)
	a.put(asm_arm.EncodeVCvtF64FromS32(asm_arm.AL, rr, vfpScratch))
	a.put(asm_arm.EncodeVMovToSingle(asm_arm.AL, vfpScratch, a.findRegFor(ins.A, a.gpRegs)))
	a.freeResourcesOf(ins)
}

func (a *Assembler) genD2I(ins *lir.Ins) {
	a.requireVFP(ins)
	rr := a.prepareResultReg(ins, a.gpRegs)
	a.put(asm_arm.EncodeVMovFromSingle(asm_arm.AL, rr, vfpScratch))
	a.put(asm_arm.EncodeVCvtS32FromF64(asm_arm.AL, vfpScratch, a.findRegFor(ins.A, a.vfpRegs)))
	a.freeResourcesOf(ins)
}

var halfLoads = map[lir.Opcode]asm_arm.HalfKind{
	lir.OpLdSB: asm_arm.LDRSB,
	lir.OpLdUS: asm_arm.LDRH,
	lir.OpLdSS: asm_arm.LDRSH,
}

func (a *Assembler) genLoad(ins *lir.Ins) {
	base, disp := ins.A, ins.Imm
	switch ins.Op {
	case lir.OpLdI, lir.OpLdUB:
		rr := a.prepareResultReg(ins, a.gpRegs)
		rb := a.findRegFor(base, a.gpRegs.Remove(rr))
		a.ldst(true, ins.Op == lir.OpLdUB, rr, rb, disp)
	case lir.OpLdSB, lir.OpLdUS, lir.OpLdSS:
		rr := a.prepareResultReg(ins, a.gpRegs)
		rb := a.findRegFor(base, a.gpRegs.Remove(rr))
		a.ldstHalf(halfLoads[ins.Op], rr, rb, disp)
	default:
		if a.cfg.VFP {
			rr := a.prepareResultReg(ins, a.vfpRegs)
			a.vldst(true, rr, a.findRegFor(base, a.gpRegs), disp)
		} else {
			slot := a.res(ins).Disp
			rb := a.findRegFor(base, a.gpRegs)
			a.copyWord(asm_arm.FP, slot+4, rb, disp+4)
			a.copyWord(asm_arm.FP, slot, rb, disp)
		}
	}
	a.freeResourcesOf(ins)
}

func (a *Assembler) genStore(ins *lir.Ins) {
	v, base, disp := ins.A, ins.B, ins.Imm
	switch ins.Op {
	case lir.OpStI, lir.OpStB, lir.OpStS:
		var rv, rb asm_arm.Register
		if v.Op == lir.OpImmI {
			rv, rb = valueScratch, a.findRegFor(base, a.gpRegs)
		} else {
			rv, rb = a.findRegs(v, base, a.gpRegs)
		}
		if ins.Op == lir.OpStS {
			a.ldstHalf(asm_arm.STRH, rv, rb, disp)
		} else {
			a.ldst(false, ins.Op == lir.OpStB, rv, rb, disp)
		}
		if v.Op == lir.OpImmI {
			a.loadImm(valueScratch, uint32(v.Imm))
		}
	default:
		switch {
		case isConst(v):
			a.storeConst64(a.findRegFor(base, a.gpRegs), disp, v.Bits64())
		case a.fromVFP(v):
			dv := a.findRegFor(v, a.vfpRegs)
			a.vldst(false, dv, a.findRegFor(base, a.gpRegs), disp)
		default:
			slot := a.slotFor(v)
			rb := a.findRegFor(base, a.gpRegs)
			a.copyWord(rb, disp+4, asm_arm.FP, slot+4)
			a.copyWord(rb, disp, asm_arm.FP, slot)
		}
	}
}
