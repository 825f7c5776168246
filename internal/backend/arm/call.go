package arm

import (
	asm_arm "github.com/tetratelabs/armjit/internal/asm/arm"
	"github.com/tetratelabs/armjit/internal/abi"
	"github.com/tetratelabs/armjit/internal/regalloc"
	"github.com/tetratelabs/armjit/lir"
)

// genCall emits
//
//	<arguments>
//	<ip = address>
//	blx ip
//	<result>
//
// Values living in caller saved registers across the call are reloaded after it, once the result
// has been moved out of the result registers.
func (a *Assembler) genCall(ins *lir.Ins) {
	ci := ins.Call
	locs, stackSize := a.cfg.ABI.Layout(ci.Args)
	if stackSize > a.maxOutgoing {
		a.maxOutgoing = stackSize
	}

	clobbered := a.regs.Used() & regalloc.CallerSaved
	if r := a.res(ins); r.HasReg() {
		clobbered = clobbered.Remove(r.Reg)
	}
	clobbered.Range(a.evict)
	if a.isUsed(ins) {
		a.genCallResult(ins)
	}

	a.put(asm_arm.EncodeBLX(asm_arm.AL, valueScratch))
	a.loadImm(valueScratch, asm_arm.AbsoluteAddress(ci.Addr))

	// Stack arguments come last in declaration order, so they are marshalled before any
	// argument register is reserved.
	for i := len(ins.Args) - 1; i >= 0; i-- {
		a.genArg(ins.Args[i], locs[i])
	}
}

func (a *Assembler) genCallResult(ins *lir.Ins) {
	rr := abi.ResultRegs(ins.Type())
	switch {
	case ins.Type() == lir.TypeI:
		a.prepareResultReg(ins, regalloc.NewRegSet(rr[0]))
	case a.inVFP(ins.Type()):
		d := a.prepareResultReg(ins, a.vfpRegs)
		a.put(asm_arm.EncodeVMovFromCorePair(asm_arm.AL, d, rr[0], rr[1]))
	default:
		disp := a.res(ins).Disp
		a.ldst(false, false, rr[1], asm_arm.FP, disp+4)
		a.ldst(false, false, rr[0], asm_arm.FP, disp)
	}
	a.freeResourcesOf(ins)
}

func (a *Assembler) genArg(arg *lir.Ins, loc abi.ArgLocation) {
	switch {
	case loc.Type.Is64():
		a.genArg64(arg, loc)
	case loc.Regs[0] != asm_arm.NilRegister:
		a.argToReg(arg, loc.Regs[0])
	default:
		a.argToStack(arg, loc.StackOffset)
	}
}

// argToReg places a 32-bit argument in r.
func (a *Assembler) argToReg(arg *lir.Ins, r asm_arm.Register) {
	res := a.res(arg)
	switch {
	case res.HasReg():
		a.mov(r, res.Reg)
	case arg.Op == lir.OpImmI:
		a.loadImm(r, uint32(arg.Imm))
	default:
		a.regs.Assign(r, arg)
		res.Reg = r
	}
}

// argToStack stores a 32-bit argument at SP+off.
func (a *Assembler) argToStack(arg *lir.Ins, off int32) {
	res := a.res(arg)
	switch {
	case arg.Op == lir.OpImmI:
		a.ldst(false, false, valueScratch, asm_arm.SP, off)
		a.loadImm(valueScratch, uint32(arg.Imm))
	case res.HasReg():
		a.ldst(false, false, res.Reg, asm_arm.SP, off)
	default:
		a.copyWord(asm_arm.SP, off, asm_arm.FP, a.slotFor(arg))
	}
}

// fromVFP returns true if a 64-bit argument is best read from a VFP register.
func (a *Assembler) fromVFP(arg *lir.Ins) bool {
	res := a.res(arg)
	return a.cfg.VFP && (res.HasReg() || !res.HasSlot())
}

// genArg64 places a 64-bit argument in two registers, R3 and the stack, or the stack.
func (a *Assembler) genArg64(arg *lir.Ins, loc abi.ArgLocation) {
	var bits uint64
	if isConst(arg) {
		bits = arg.Bits64()
	}
	lo, hi := loc.Regs[0], loc.Regs[1]
	switch {
	case hi != asm_arm.NilRegister:
		switch {
		case isConst(arg):
			a.loadImm(hi, uint32(bits>>32))
			a.loadImm(lo, uint32(bits))
		case a.fromVFP(arg):
			d := a.findRegFor(arg, a.vfpRegs)
			a.put(asm_arm.EncodeVMovToCorePair(asm_arm.AL, lo, hi, d))
		default:
			disp := a.slotFor(arg)
			a.loadSlot(hi, disp+4)
			a.loadSlot(lo, disp)
		}
	case lo != asm_arm.NilRegister:
		// The high word goes through IP to the stack.
		a.ldst(false, false, valueScratch, asm_arm.SP, loc.StackOffset)
		switch {
		case isConst(arg):
			a.loadImm(valueScratch, uint32(bits>>32))
			a.loadImm(lo, uint32(bits))
		case a.fromVFP(arg):
			d := a.findRegFor(arg, a.vfpRegs)
			a.put(asm_arm.EncodeVMovToCorePair(asm_arm.AL, lo, valueScratch, d))
		default:
			disp := a.slotFor(arg)
			a.loadSlot(valueScratch, disp+4)
			a.loadSlot(lo, disp)
		}
	default:
		off := loc.StackOffset
		switch {
		case isConst(arg):
			a.storeConst64(asm_arm.SP, off, bits)
		case a.fromVFP(arg):
			d := a.findRegFor(arg, a.vfpRegs)
			a.vldst(false, d, asm_arm.SP, off)
		default:
			disp := a.slotFor(arg)
			a.copyWord(asm_arm.SP, off+4, asm_arm.FP, disp+4)
			a.copyWord(asm_arm.SP, off, asm_arm.FP, disp)
		}
	}
}
