// Package arm encodes and decodes 32-bit ARM (A32) and VFPv2 instructions.
//
// All the functions in this package are pure: they pack already resolved operands into
// instruction words and never touch memory. Invalid operands are programming errors and panic.
//
// See https://developer.arm.com/documentation/ddi0406/c/Application-Level-Architecture/ARM-Instruction-Set-Encoding
package arm

import (
	"fmt"
	"math"
	"math/bits"
)

const (
	// InstructionSize is the size of every ARM instruction in bytes.
	InstructionSize = 4

	// MaxLoadStoreOffset is the magnitude limit of the 12-bit immediate of LDR/STR.
	MaxLoadStoreOffset = 4095
	// MaxHalfLoadStoreOffset is the magnitude limit of the split 8-bit immediate of LDRH/STRH.
	MaxHalfLoadStoreOffset = 255
	// MaxVFPLoadStoreOffset is the magnitude limit of the word scaled 8-bit immediate of VLDR/VSTR.
	MaxVFPLoadStoreOffset = 1020

	// pcBias is how far ahead of the executing instruction PC reads.
	pcBias = 8

	minBranchOffset = -(1 << 25)
	maxBranchOffset = (1 << 25) - 4
)

// Well known constant encodings.
const (
	// LongJump is "ldr pc, [pc, #-4]": the next word holds the absolute target.
	LongJump uint32 = 0xe51ff004
	// BKPT is "bkpt #0", used as the filler of a short two word jump.
	BKPT uint32 = 0xe1200070
	// NOP is "mov r0, r0".
	NOP uint32 = 0xe1a00000
)

// EncodeRotatedImmediate searches for an 8-bit base and an even right rotation which
// reproduce v. ok is false when v has no such representation.
func EncodeRotatedImmediate(v uint32) (imm8, rot uint32, ok bool) {
	for rot = 0; rot < 32; rot += 2 {
		// v == ror(base, rot) <=> base == rol(v, rot).
		if base := bits.RotateLeft32(v, int(rot)); base <= 0xff {
			return base, rot, true
		}
	}
	return 0, 0, false
}

// IsRotatedImmediate returns true if v can be embedded in a data-processing instruction.
func IsRotatedImmediate(v uint32) bool {
	_, _, ok := EncodeRotatedImmediate(v)
	return ok
}

func checkGP(regs ...Register) {
	for _, r := range regs {
		if !r.IsGP() {
			panic(fmt.Sprintf("BUG: %s is not a general purpose register", r))
		}
	}
}

func checkVFP(regs ...Register) {
	for _, r := range regs {
		if !r.IsVFP() {
			panic(fmt.Sprintf("BUG: %s is not a VFP register", r))
		}
	}
}

func boolBit(b bool, shift uint) uint32 {
	if b {
		return 1 << shift
	}
	return 0
}

// EncodeDataProcessingImm encodes "<op>{s}<cond> rd, rn, #ror(imm8, rot)".
//
// See "Data-processing (immediate)" A5.2.3.
func EncodeDataProcessingImm(cond Cond, op DataOp, s bool, rd, rn Register, imm8, rot uint32) uint32 {
	checkGP(rd, rn)
	if imm8 > 0xff || rot&1 != 0 || rot > 30 {
		panic(fmt.Sprintf("BUG: invalid rotated immediate imm8=%#x rot=%d", imm8, rot))
	}
	if op.isCompare() {
		s, rd = true, R0
	}
	if op.isMove() {
		rn = R0
	}
	return uint32(cond)<<28 | 1<<25 | uint32(op)<<21 | boolBit(s, 20) |
		rn.Bits()<<16 | rd.Bits()<<12 | (rot/2)<<8 | imm8
}

// EncodeDataProcessingReg encodes "<op>{s}<cond> rd, rn, rm, <shift> #amount".
//
// See "Data-processing (register)" A5.2.1.
func EncodeDataProcessingReg(cond Cond, op DataOp, s bool, rd, rn, rm Register, shift ShiftType, amount uint32) uint32 {
	checkGP(rd, rn, rm)
	if amount > 31 {
		panic(fmt.Sprintf("BUG: invalid shift amount %d", amount))
	}
	if op.isCompare() {
		s, rd = true, R0
	}
	if op.isMove() {
		rn = R0
	}
	return uint32(cond)<<28 | uint32(op)<<21 | boolBit(s, 20) |
		rn.Bits()<<16 | rd.Bits()<<12 | amount<<7 | uint32(shift)<<5 | rm.Bits()
}

// EncodeDataProcessingRegShiftReg encodes "<op>{s}<cond> rd, rn, rm, <shift> rs".
//
// See "Data-processing (register-shifted register)" A5.2.2.
func EncodeDataProcessingRegShiftReg(cond Cond, op DataOp, s bool, rd, rn, rm Register, shift ShiftType, rs Register) uint32 {
	checkGP(rd, rn, rm, rs)
	if op.isCompare() {
		s, rd = true, R0
	}
	if op.isMove() {
		rn = R0
	}
	return uint32(cond)<<28 | uint32(op)<<21 | boolBit(s, 20) |
		rn.Bits()<<16 | rd.Bits()<<12 | rs.Bits()<<8 | uint32(shift)<<5 | 1<<4 | rm.Bits()
}

// EncodeMov encodes "mov<cond> rd, rm".
func EncodeMov(cond Cond, rd, rm Register) uint32 {
	return EncodeDataProcessingReg(cond, MOV, false, rd, R0, rm, LSL, 0)
}

// EncodeMul encodes "mul{s}<cond> rd, rm, rs".
func EncodeMul(cond Cond, s bool, rd, rm, rs Register) uint32 {
	checkGP(rd, rm, rs)
	return uint32(cond)<<28 | boolBit(s, 20) | rd.Bits()<<16 | rs.Bits()<<8 | 0b1001<<4 | rm.Bits()
}

// EncodeLoadStoreImm encodes "ldr|str{b}<cond> rt, [rn, #offset]".
//
// See "Load/store word and unsigned byte" A5.3.
func EncodeLoadStoreImm(cond Cond, load, byteSized bool, rt, rn Register, offset int32) uint32 {
	checkGP(rt, rn)
	up := offset >= 0
	if !up {
		offset = -offset
	}
	if offset > MaxLoadStoreOffset {
		panic(fmt.Sprintf("BUG: load/store offset %d out of range", offset))
	}
	return uint32(cond)<<28 | 0b01<<26 | 1<<24 | boolBit(up, 23) | boolBit(byteSized, 22) | boolBit(load, 20) |
		rn.Bits()<<16 | rt.Bits()<<12 | uint32(offset)
}

// EncodeLoadStoreReg encodes "ldr|str{b}<cond> rt, [rn, rm]".
func EncodeLoadStoreReg(cond Cond, load, byteSized bool, rt, rn, rm Register) uint32 {
	checkGP(rt, rn, rm)
	return uint32(cond)<<28 | 0b011<<25 | 1<<24 | 1<<23 | boolBit(byteSized, 22) | boolBit(load, 20) |
		rn.Bits()<<16 | rt.Bits()<<12 | rm.Bits()
}

// HalfKind selects one of the "extra" load/store instructions.
type HalfKind uint32

const (
	// STRH stores a halfword.
	STRH HalfKind = iota
	// LDRH loads a zero-extended halfword.
	LDRH
	// LDRSB loads a sign-extended byte.
	LDRSB
	// LDRSH loads a sign-extended halfword.
	LDRSH
)

// EncodeLoadStoreHalfImm encodes "strh|ldrh|ldrsb|ldrsh<cond> rt, [rn, #offset]".
//
// See "Extra load/store instructions" A5.2.8.
func EncodeLoadStoreHalfImm(cond Cond, kind HalfKind, rt, rn Register, offset int32) uint32 {
	checkGP(rt, rn)
	up := offset >= 0
	if !up {
		offset = -offset
	}
	if offset > MaxHalfLoadStoreOffset {
		panic(fmt.Sprintf("BUG: halfword load/store offset %d out of range", offset))
	}
	var load bool
	var op2 uint32
	switch kind {
	case STRH:
		op2 = 0b1011
	case LDRH:
		load, op2 = true, 0b1011
	case LDRSB:
		load, op2 = true, 0b1101
	case LDRSH:
		load, op2 = true, 0b1111
	default:
		panic(fmt.Sprintf("BUG: invalid halfword kind %d", kind))
	}
	imm := uint32(offset)
	return uint32(cond)<<28 | 1<<24 | boolBit(up, 23) | 1<<22 | boolBit(load, 20) |
		rn.Bits()<<16 | rt.Bits()<<12 | (imm>>4)<<8 | op2<<4 | imm&0xf
}

// RegisterList returns the 16-bit register list of LDM/STM for the given registers.
func RegisterList(regs ...Register) (list uint32) {
	checkGP(regs...)
	for _, r := range regs {
		list |= 1 << r.Bits()
	}
	return
}

// EncodePush encodes "push<cond> {list}", i.e. "stmdb sp!, {list}".
func EncodePush(cond Cond, list uint32) uint32 {
	if list == 0 || list > 0xffff {
		panic(fmt.Sprintf("BUG: invalid register list %#x", list))
	}
	return uint32(cond)<<28 | 0x092d0000 | list
}

// EncodePop encodes "pop<cond> {list}", i.e. "ldmia sp!, {list}".
func EncodePop(cond Cond, list uint32) uint32 {
	if list == 0 || list > 0xffff {
		panic(fmt.Sprintf("BUG: invalid register list %#x", list))
	}
	return uint32(cond)<<28 | 0x08bd0000 | list
}

// BranchOffset returns the byte offset encoded by a branch at "at" reaching target.
func BranchOffset(at, target uintptr) int64 {
	return int64(target) - int64(at) - pcBias
}

// BranchInRange returns true if a single B/BL instruction at "at" can reach target.
func BranchInRange(at, target uintptr) bool {
	off := BranchOffset(at, target)
	return off&3 == 0 && off >= minBranchOffset && off <= maxBranchOffset
}

// EncodeBranch encodes "b|bl<cond> target" for an instruction placed at "at".
//
// See "Branch, branch with link, and block data transfer" A5.5.
func EncodeBranch(cond Cond, link bool, at, target uintptr) uint32 {
	if !BranchInRange(at, target) {
		panic(fmt.Sprintf("BUG: branch from %#x to %#x is out of range", at, target))
	}
	imm24 := uint32(BranchOffset(at, target)>>2) & 0xffffff
	return uint32(cond)<<28 | 0b101<<25 | boolBit(link, 24) | imm24
}

// EncodeBX encodes "bx<cond> rm".
func EncodeBX(cond Cond, rm Register) uint32 {
	checkGP(rm)
	return uint32(cond)<<28 | 0x012fff10 | rm.Bits()
}

// EncodeBLX encodes "blx<cond> rm".
func EncodeBLX(cond Cond, rm Register) uint32 {
	checkGP(rm)
	return uint32(cond)<<28 | 0x012fff30 | rm.Bits()
}

// EncodeLongJumpCond encodes "ldr<cond> pc, [pc, #offset]".
func EncodeLongJumpCond(cond Cond, offset int32) uint32 {
	return EncodeLoadStoreImm(cond, true, false, PC, PC, offset)
}

// AbsoluteAddress returns target as the 32-bit word stored in literal pools and long jumps.
func AbsoluteAddress(target uintptr) uint32 {
	if uint64(target) > math.MaxUint32 {
		panic(fmt.Sprintf("BUG: address %#x does not fit in 32 bits", target))
	}
	return uint32(target)
}

// EncodeMovw encodes "movw<cond> rd, #imm16" (ARMv7).
func EncodeMovw(cond Cond, rd Register, imm16 uint32) uint32 {
	checkGP(rd)
	if imm16 > 0xffff {
		panic(fmt.Sprintf("BUG: movw immediate %#x out of range", imm16))
	}
	return uint32(cond)<<28 | 0x03000000 | (imm16>>12)<<16 | rd.Bits()<<12 | imm16&0xfff
}

// EncodeMovt encodes "movt<cond> rd, #imm16" (ARMv7).
func EncodeMovt(cond Cond, rd Register, imm16 uint32) uint32 {
	checkGP(rd)
	if imm16 > 0xffff {
		panic(fmt.Sprintf("BUG: movt immediate %#x out of range", imm16))
	}
	return uint32(cond)<<28 | 0x03400000 | (imm16>>12)<<16 | rd.Bits()<<12 | imm16&0xfff
}

// VFPOp is a double precision VFP data-processing operation.
type VFPOp uint32

const (
	VADD VFPOp = 0x0e300b00
	VSUB VFPOp = 0x0e300b40
	VMUL VFPOp = 0x0e200b00
	VDIV VFPOp = 0x0e800b00

	VMOV  VFPOp = 0x0eb00b40
	VNEG  VFPOp = 0x0eb10b40
	VABS  VFPOp = 0x0eb00bc0
	VSQRT VFPOp = 0x0eb10bc0
)

// EncodeVFPBinary encodes "<op>.f64<cond> dd, dn, dm" for VADD, VSUB, VMUL and VDIV.
//
// See "Floating-point data-processing instructions" A7.5.
func EncodeVFPBinary(cond Cond, op VFPOp, dd, dn, dm Register) uint32 {
	checkVFP(dd, dn, dm)
	switch op {
	case VADD, VSUB, VMUL, VDIV:
	default:
		panic(fmt.Sprintf("BUG: %#x is not a binary VFP op", uint32(op)))
	}
	return uint32(cond)<<28 | uint32(op) | dn.Bits()<<16 | dd.Bits()<<12 | dm.Bits()
}

// EncodeVFPUnary encodes "<op>.f64<cond> dd, dm" for VMOV, VNEG, VABS and VSQRT.
func EncodeVFPUnary(cond Cond, op VFPOp, dd, dm Register) uint32 {
	checkVFP(dd, dm)
	switch op {
	case VMOV, VNEG, VABS, VSQRT:
	default:
		panic(fmt.Sprintf("BUG: %#x is not a unary VFP op", uint32(op)))
	}
	return uint32(cond)<<28 | uint32(op) | dd.Bits()<<12 | dm.Bits()
}

// EncodeVCmp encodes "vcmp.f64<cond> dd, dm".
func EncodeVCmp(cond Cond, dd, dm Register) uint32 {
	checkVFP(dd, dm)
	return uint32(cond)<<28 | 0x0eb40b40 | dd.Bits()<<12 | dm.Bits()
}

// EncodeVMRS encodes "vmrs<cond> APSR_nzcv, fpscr" which copies the VFP flags to the CPSR.
func EncodeVMRS(cond Cond) uint32 {
	return uint32(cond)<<28 | 0x0ef1fa10
}

// EncodeVLoadStore encodes "vldr|vstr<cond> dd, [rn, #offset]".
func EncodeVLoadStore(cond Cond, load bool, dd, rn Register, offset int32) uint32 {
	checkVFP(dd)
	checkGP(rn)
	up := offset >= 0
	if !up {
		offset = -offset
	}
	if offset > MaxVFPLoadStoreOffset || offset&3 != 0 {
		panic(fmt.Sprintf("BUG: VFP load/store offset %d out of range", offset))
	}
	return uint32(cond)<<28 | 0x0d000b00 | boolBit(up, 23) | boolBit(load, 20) |
		rn.Bits()<<16 | dd.Bits()<<12 | uint32(offset>>2)
}

// EncodeVMovToCorePair encodes "vmov<cond> rt, rt2, dm".
func EncodeVMovToCorePair(cond Cond, rt, rt2, dm Register) uint32 {
	checkGP(rt, rt2)
	checkVFP(dm)
	return uint32(cond)<<28 | 0x0c500b10 | rt2.Bits()<<16 | rt.Bits()<<12 | dm.Bits()
}

// EncodeVMovFromCorePair encodes "vmov<cond> dm, rt, rt2".
func EncodeVMovFromCorePair(cond Cond, dm, rt, rt2 Register) uint32 {
	checkGP(rt, rt2)
	checkVFP(dm)
	return uint32(cond)<<28 | 0x0c400b10 | rt2.Bits()<<16 | rt.Bits()<<12 | dm.Bits()
}

func checkSingle(s uint32) {
	if s > 31 {
		panic(fmt.Sprintf("BUG: invalid single precision register s%d", s))
	}
}

// EncodeVMovToSingle encodes "vmov<cond> s<sn>, rt".
func EncodeVMovToSingle(cond Cond, sn uint32, rt Register) uint32 {
	checkGP(rt)
	checkSingle(sn)
	return uint32(cond)<<28 | 0x0e000a10 | (sn>>1)<<16 | rt.Bits()<<12 | (sn&1)<<7
}

// EncodeVMovFromSingle encodes "vmov<cond> rt, s<sn>".
func EncodeVMovFromSingle(cond Cond, rt Register, sn uint32) uint32 {
	checkGP(rt)
	checkSingle(sn)
	return uint32(cond)<<28 | 0x0e100a10 | (sn>>1)<<16 | rt.Bits()<<12 | (sn&1)<<7
}

// EncodeVCvtF64FromS32 encodes "vcvt.f64.s32<cond> dd, s<sm>".
func EncodeVCvtF64FromS32(cond Cond, dd Register, sm uint32) uint32 {
	checkVFP(dd)
	checkSingle(sm)
	return uint32(cond)<<28 | 0x0eb80bc0 | dd.Bits()<<12 | (sm&1)<<5 | sm>>1
}

// EncodeVCvtS32FromF64 encodes "vcvt.s32.f64<cond> s<sd>, dm", rounding toward zero.
func EncodeVCvtS32FromF64(cond Cond, sd uint32, dm Register) uint32 {
	checkVFP(dm)
	checkSingle(sd)
	return uint32(cond)<<28 | 0x0ebd0bc0 | (sd&1)<<22 | (sd>>1)<<12 | dm.Bits()
}

// SingleOf returns the index of the low single precision half of d.
func SingleOf(d Register) uint32 {
	checkVFP(d)
	return d.Bits() * 2
}
