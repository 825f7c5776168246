package arm

import (
	asm_arm "github.com/tetratelabs/armjit/internal/asm/arm"
)

// Scratch registers. IP carries values (constants that do not fit an instruction, words copied
// between memory locations); LR carries addresses whose displacement does not fit an instruction.
// Neither is ever allocated, and LR is saved by the prologue.
const (
	valueScratch   = asm_arm.IP
	addressScratch = asm_arm.LR
	// vfpScratch is the single precision register used by conversions: S14, the low half of D7.
	vfpScratch = 14
)

// Every helper below emits backward: the word emitted last executes first. Helpers made of
// several instructions therefore emit their last instruction first.

func (a *Assembler) put(w uint32) uintptr { return a.e.Put(w) }

// mov emits "mov rd, rm" for two registers of the same bank, nothing if they are equal.
func (a *Assembler) mov(rd, rm asm_arm.Register) {
	switch {
	case rd == rm:
	case rd.IsVFP() && rm.IsVFP():
		a.put(asm_arm.EncodeVFPUnary(asm_arm.AL, asm_arm.VMOV, rd, rm))
	case rd.IsGP() && rm.IsGP():
		a.put(asm_arm.EncodeMov(asm_arm.AL, rd, rm))
	default:
		bug("move between %s and %s", rd, rm)
	}
}

// loadImm loads v into rd with the shortest available sequence: a single MOV or MVN, MOVW and
// MOVT on ARMv7, otherwise a PC relative load from the literal pool of the current page.
func (a *Assembler) loadImm(rd asm_arm.Register, v uint32) {
	if imm8, rot, ok := asm_arm.EncodeRotatedImmediate(v); ok {
		a.put(asm_arm.EncodeDataProcessingImm(asm_arm.AL, asm_arm.MOV, false, rd, asm_arm.R0, imm8, rot))
		return
	}
	if imm8, rot, ok := asm_arm.EncodeRotatedImmediate(^v); ok {
		a.put(asm_arm.EncodeDataProcessingImm(asm_arm.AL, asm_arm.MVN, false, rd, asm_arm.R0, imm8, rot))
		return
	}
	if a.cfg.ARMv7 {
		if hi := v >> 16; hi != 0 {
			a.put(asm_arm.EncodeMovt(asm_arm.AL, rd, hi))
		}
		a.put(asm_arm.EncodeMovw(asm_arm.AL, rd, v&0xffff))
		return
	}
	a.loadLiteral(rd, v)
}

// loadLiteral emits "ldr rd, [pc, #off]" reading v from the literal pool of the current page.
func (a *Assembler) loadLiteral(rd asm_arm.Register, v uint32) {
	a.e.Reserve(2)
	s := a.e.Current()
	at := s.Here() - asm_arm.InstructionSize
	pc := at + 8
	// The literal cursor only grows, so literals are skipped until the offset fits 12 bits.
	if lowest := pc - 4092; s.Literal() < lowest {
		s.SkipLiterals(lowest)
	}
	lit := s.PutLiteral(v)
	a.put(asm_arm.EncodeLoadStoreImm(asm_arm.AL, true, false, rd, asm_arm.PC, int32(int64(lit)-int64(pc))))
}

// loadImm64 loads the 64-bit pattern v into the VFP register dd with constants kept inline:
//
//	vldr dd, [pc, #0]
//	b    1f
//	.word lo, hi
//	1:
func (a *Assembler) loadImm64(dd asm_arm.Register, v uint64) {
	a.e.Reserve(4)
	h := a.e.Here()
	a.put(uint32(v >> 32))
	a.put(uint32(v))
	a.put(asm_arm.EncodeBranch(asm_arm.AL, false, h-12, h))
	a.put(asm_arm.EncodeVLoadStore(asm_arm.AL, true, dd, asm_arm.PC, 0))
}

// alternative returns the equivalent operation taking the complement or the negation of v.
func alternative(op asm_arm.DataOp, v uint32) (asm_arm.DataOp, uint32, bool) {
	switch op {
	case asm_arm.ADD:
		return asm_arm.SUB, -v, true
	case asm_arm.SUB:
		return asm_arm.ADD, -v, true
	case asm_arm.CMP:
		return asm_arm.CMN, -v, true
	case asm_arm.CMN:
		return asm_arm.CMP, -v, true
	case asm_arm.AND:
		return asm_arm.BIC, ^v, true
	case asm_arm.BIC:
		return asm_arm.AND, ^v, true
	case asm_arm.MOV:
		return asm_arm.MVN, ^v, true
	case asm_arm.MVN:
		return asm_arm.MOV, ^v, true
	}
	return op, v, false
}

// aluImm emits "<op> rd, rn, #v", falling back to the complementary operation or to loading v
// into IP.
func (a *Assembler) aluImm(op asm_arm.DataOp, rd, rn asm_arm.Register, v uint32) {
	if imm8, rot, ok := asm_arm.EncodeRotatedImmediate(v); ok {
		a.put(asm_arm.EncodeDataProcessingImm(asm_arm.AL, op, false, rd, rn, imm8, rot))
		return
	}
	if alt, av, ok := alternative(op, v); ok {
		if imm8, rot, ok := asm_arm.EncodeRotatedImmediate(av); ok {
			a.put(asm_arm.EncodeDataProcessingImm(asm_arm.AL, alt, false, rd, rn, imm8, rot))
			return
		}
	}
	if rn == valueScratch {
		bug("%s with an immediate operand on %s", op, rn)
	}
	a.put(asm_arm.EncodeDataProcessingReg(asm_arm.AL, op, false, rd, rn, valueScratch, asm_arm.LSL, 0))
	a.loadImm(valueScratch, v)
}

// aluReg emits "<op> rd, rn, rm".
func (a *Assembler) aluReg(op asm_arm.DataOp, rd, rn, rm asm_arm.Register) {
	a.put(asm_arm.EncodeDataProcessingReg(asm_arm.AL, op, false, rd, rn, rm, asm_arm.LSL, 0))
}

func inRange(disp, limit int32) bool { return disp >= -limit && disp <= limit }

// ldst emits a word or byte load/store of rt at rb+disp.
func (a *Assembler) ldst(load, byteSized bool, rt, rb asm_arm.Register, disp int32) {
	if inRange(disp, asm_arm.MaxLoadStoreOffset) {
		a.put(asm_arm.EncodeLoadStoreImm(asm_arm.AL, load, byteSized, rt, rb, disp))
		return
	}
	a.put(asm_arm.EncodeLoadStoreReg(asm_arm.AL, load, byteSized, rt, rb, addressScratch))
	a.loadImm(addressScratch, uint32(disp))
}

// ldstHalf emits one of the halfword and signed byte loads/stores of rt at rb+disp.
func (a *Assembler) ldstHalf(kind asm_arm.HalfKind, rt, rb asm_arm.Register, disp int32) {
	if inRange(disp, asm_arm.MaxHalfLoadStoreOffset) {
		a.put(asm_arm.EncodeLoadStoreHalfImm(asm_arm.AL, kind, rt, rb, disp))
		return
	}
	a.put(asm_arm.EncodeLoadStoreHalfImm(asm_arm.AL, kind, rt, addressScratch, 0))
	a.aluReg(asm_arm.ADD, addressScratch, rb, addressScratch)
	a.loadImm(addressScratch, uint32(disp))
}

// vldst emits "vldr|vstr dd, [rb, #disp]".
func (a *Assembler) vldst(load bool, dd, rb asm_arm.Register, disp int32) {
	if disp&3 == 0 && inRange(disp, asm_arm.MaxVFPLoadStoreOffset) {
		a.put(asm_arm.EncodeVLoadStore(asm_arm.AL, load, dd, rb, disp))
		return
	}
	a.put(asm_arm.EncodeVLoadStore(asm_arm.AL, load, dd, addressScratch, 0))
	a.aluReg(asm_arm.ADD, addressScratch, rb, addressScratch)
	a.loadImm(addressScratch, uint32(disp))
}

// copyWord copies the word at src+srcDisp to dst+dstDisp through IP.
func (a *Assembler) copyWord(dst asm_arm.Register, dstDisp int32, src asm_arm.Register, srcDisp int32) {
	a.ldst(false, false, valueScratch, dst, dstDisp)
	a.ldst(true, false, valueScratch, src, srcDisp)
}

// storeConst64 stores the 64-bit pattern v at base+disp through IP.
func (a *Assembler) storeConst64(base asm_arm.Register, disp int32, v uint64) {
	a.ldst(false, false, valueScratch, base, disp+4)
	a.loadImm(valueScratch, uint32(v>>32))
	a.ldst(false, false, valueScratch, base, disp)
	a.loadImm(valueScratch, uint32(v))
}

// loadSlot loads r from the FP relative stack slot at disp.
func (a *Assembler) loadSlot(r asm_arm.Register, disp int32) {
	if r.IsVFP() {
		a.vldst(true, r, asm_arm.FP, disp)
	} else {
		a.ldst(true, false, r, asm_arm.FP, disp)
	}
}

// storeSlot stores r to the FP relative stack slot at disp.
func (a *Assembler) storeSlot(r asm_arm.Register, disp int32) {
	if r.IsVFP() {
		a.vldst(false, r, asm_arm.FP, disp)
	} else {
		a.ldst(false, false, r, asm_arm.FP, disp)
	}
}
