package arm

import (
	"fmt"
	"math/bits"
	"strings"
)

// CondOf returns the condition field of an instruction word.
func CondOf(w uint32) Cond { return Cond(w >> 28) }

// DecodeRotatedImmediate returns the constant carried by a data-processing immediate word.
func DecodeRotatedImmediate(w uint32) uint32 {
	imm8, rot := w&0xff, ((w>>8)&0xf)*2
	return bits.RotateLeft32(imm8, -int(rot))
}

// IsBranch returns true if w is a B or BL instruction.
func IsBranch(w uint32) bool {
	return CondOf(w) != 0xf && (w>>25)&0b111 == 0b101
}

// IsBranchLink returns true if w is a BL instruction.
func IsBranchLink(w uint32) bool {
	return IsBranch(w) && w&(1<<24) != 0
}

// DecodeBranchTarget returns the absolute target of the B/BL word w placed at "at".
func DecodeBranchTarget(w uint32, at uintptr) uintptr {
	if !IsBranch(w) {
		panic(fmt.Sprintf("BUG: %#08x is not a branch", w))
	}
	off := int64(int32(w<<8) >> 6) // sign-extend imm24 and scale by 4.
	return uintptr(int64(at) + pcBias + off)
}

// IsLongJump returns true if w is an "ldr<cond> pc, [pc, #imm]".
func IsLongJump(w uint32) bool {
	return CondOf(w) != 0xf && w&0x0f7ff000 == 0x051ff000
}

// DecodeLoadStoreImm decodes a word produced by EncodeLoadStoreImm.
func DecodeLoadStoreImm(w uint32) (load, byteSized bool, rt, rn Register, offset int32, ok bool) {
	if (w>>26)&0b11 != 0b01 || w&(1<<25) != 0 || w&(1<<24) == 0 || w&(1<<21) != 0 {
		return
	}
	load, byteSized = w&(1<<20) != 0, w&(1<<22) != 0
	rt, rn = Register((w>>12)&0xf), Register((w>>16)&0xf)
	offset = int32(w & 0xfff)
	if w&(1<<23) == 0 {
		offset = -offset
	}
	ok = true
	return
}

// Disassemble renders the word w placed at "at" in a UAL-like syntax. PC-relative branches
// are rendered with their absolute target so that the output does not depend on placement.
// Words which are not produced by this package are rendered as ".word".
func Disassemble(w uint32, at uintptr) string {
	c := CondOf(w)
	switch {
	case c == 0xf:
		// The unconditional space is never emitted.
	case w == BKPT:
		return "bkpt #0"
	case IsBranch(w):
		mn := "b"
		if IsBranchLink(w) {
			mn = "bl"
		}
		return fmt.Sprintf("%s%s %#x", mn, c, DecodeBranchTarget(w, at))
	case w&0x0ffffff0 == 0x012fff10:
		return fmt.Sprintf("bx%s %s", c, Register(w&0xf))
	case w&0x0ffffff0 == 0x012fff30:
		return fmt.Sprintf("blx%s %s", c, Register(w&0xf))
	case w&0x0fff0000 == 0x092d0000:
		return fmt.Sprintf("push%s {%s}", c, formatList(w&0xffff))
	case w&0x0fff0000 == 0x08bd0000:
		return fmt.Sprintf("pop%s {%s}", c, formatList(w&0xffff))
	case w&0x0ff00000 == 0x03000000:
		return fmt.Sprintf("movw%s %s, #%#x", c, Register((w>>12)&0xf), (w>>4)&0xf000|w&0xfff)
	case w&0x0ff00000 == 0x03400000:
		return fmt.Sprintf("movt%s %s, #%#x", c, Register((w>>12)&0xf), (w>>4)&0xf000|w&0xfff)
	case w&0x0fe000f0 == 0x00000090:
		return fmt.Sprintf("mul%s %s, %s, %s", c, Register((w>>16)&0xf), Register(w&0xf), Register((w>>8)&0xf))
	case (w>>26)&0b11 == 0b01:
		return disassembleLoadStore(w, at)
	case w&0x0e000090 == 0x00000090 && w&0x60 != 0:
		return disassembleHalf(w)
	case (w>>26)&0b11 == 0b00:
		return disassembleDataProcessing(w)
	case w&0x0fffffff == 0x0ef1fa10:
		return fmt.Sprintf("vmrs%s APSR_nzcv, fpscr", c)
	case w&0x0e000f00 == 0x0c000b00 || w&0x0f000e00 == 0x0e000a00:
		return disassembleVFP(w)
	}
	return fmt.Sprintf(".word %#08x", w)
}

func formatList(list uint32) string {
	var regs []string
	for i := 0; i < 16; i++ {
		if list&(1<<i) != 0 {
			regs = append(regs, Register(i).String())
		}
	}
	return strings.Join(regs, ", ")
}

var shiftNames = [...]string{"lsl", "lsr", "asr", "ror"}

func disassembleDataProcessing(w uint32) string {
	c := CondOf(w)
	op := DataOp((w >> 21) & 0xf)
	s := ""
	if w&(1<<20) != 0 && !op.isCompare() {
		s = "s"
	}
	rd, rn := Register((w>>12)&0xf), Register((w>>16)&0xf)
	var operand2 string
	if w&(1<<25) != 0 {
		operand2 = fmt.Sprintf("#%#x", DecodeRotatedImmediate(w))
	} else {
		rm := Register(w & 0xf)
		shift := shiftNames[(w>>5)&0b11]
		switch {
		case w&(1<<4) != 0:
			operand2 = fmt.Sprintf("%s, %s %s", rm, shift, Register((w>>8)&0xf))
		case (w>>7)&0x1f != 0:
			operand2 = fmt.Sprintf("%s, %s #%d", rm, shift, (w>>7)&0x1f)
		default:
			operand2 = rm.String()
		}
	}
	switch {
	case op.isCompare():
		return fmt.Sprintf("%s%s %s, %s", op, c, rn, operand2)
	case op.isMove():
		return fmt.Sprintf("%s%s%s %s, %s", op, s, c, rd, operand2)
	default:
		return fmt.Sprintf("%s%s%s %s, %s, %s", op, s, c, rd, rn, operand2)
	}
}

func disassembleLoadStore(w uint32, at uintptr) string {
	c := CondOf(w)
	mn := "str"
	if w&(1<<20) != 0 {
		mn = "ldr"
	}
	if w&(1<<22) != 0 {
		mn += "b"
	}
	rt, rn := Register((w>>12)&0xf), Register((w>>16)&0xf)
	if w&(1<<25) != 0 {
		return fmt.Sprintf("%s%s %s, [%s, %s]", mn, c, rt, rn, Register(w&0xf))
	}
	_, _, _, _, off, _ := DecodeLoadStoreImm(w)
	if rn == PC {
		return fmt.Sprintf("%s%s %s, [%#x]", mn, c, rt, uintptr(int64(at)+pcBias+int64(off)))
	}
	return fmt.Sprintf("%s%s %s, [%s, #%d]", mn, c, rt, rn, off)
}

func disassembleHalf(w uint32) string {
	c := CondOf(w)
	var mn string
	switch load, op2 := w&(1<<20) != 0, (w>>4)&0xf; {
	case !load && op2 == 0b1011:
		mn = "strh"
	case load && op2 == 0b1011:
		mn = "ldrh"
	case load && op2 == 0b1101:
		mn = "ldrsb"
	case load && op2 == 0b1111:
		mn = "ldrsh"
	default:
		return fmt.Sprintf(".word %#08x", w)
	}
	off := int32((w>>4)&0xf0 | w&0xf)
	if w&(1<<23) == 0 {
		off = -off
	}
	return fmt.Sprintf("%s%s %s, [%s, #%d]", mn, c, Register((w>>12)&0xf), Register((w>>16)&0xf), off)
}

func disassembleVFP(w uint32) string {
	c := CondOf(w)
	d := func(shift uint) Register { return D0 + Register((w>>shift)&0xf) }
	switch {
	case w&0x0ff00ff0 == 0x0c500b10:
		return fmt.Sprintf("vmov%s %s, %s, %s", c, Register((w>>12)&0xf), Register((w>>16)&0xf), d(0))
	case w&0x0ff00ff0 == 0x0c400b10:
		return fmt.Sprintf("vmov%s %s, %s, %s", c, d(0), Register((w>>12)&0xf), Register((w>>16)&0xf))
	case w&0x0f200f00 == 0x0d000b00:
		mn := "vstr"
		if w&(1<<20) != 0 {
			mn = "vldr"
		}
		off := int32(w&0xff) * 4
		if w&(1<<23) == 0 {
			off = -off
		}
		return fmt.Sprintf("%s%s %s, [%s, #%d]", mn, c, d(12), Register((w>>16)&0xf), off)
	case w&0x0ff00f7f == 0x0e000a10:
		return fmt.Sprintf("vmov%s s%d, %s", c, (w>>15)&0x1e|(w>>7)&1, Register((w>>12)&0xf))
	case w&0x0ff00f7f == 0x0e100a10:
		return fmt.Sprintf("vmov%s %s, s%d", c, Register((w>>12)&0xf), (w>>15)&0x1e|(w>>7)&1)
	case w&0x0fff0fd0 == 0x0eb80bc0:
		return fmt.Sprintf("vcvt%s.f64.s32 %s, s%d", c, d(12), (w&0xf)<<1|(w>>5)&1)
	case w&0x0fbf0ff0 == 0x0ebd0bc0:
		return fmt.Sprintf("vcvt%s.s32.f64 s%d, %s", c, (w>>11)&0x1e|(w>>22)&1, d(0))
	case w&0x0fff0ff0 == 0x0eb40b40:
		return fmt.Sprintf("vcmp%s.f64 %s, %s", c, d(12), d(0))
	}
	for _, u := range []struct {
		op   VFPOp
		name string
	}{{VMOV, "vmov"}, {VNEG, "vneg"}, {VABS, "vabs"}, {VSQRT, "vsqrt"}} {
		if w&0x0fff0ff0 == uint32(u.op) {
			return fmt.Sprintf("%s%s.f64 %s, %s", u.name, c, d(12), d(0))
		}
	}
	for _, b := range []struct {
		op   VFPOp
		name string
	}{{VADD, "vadd"}, {VSUB, "vsub"}, {VMUL, "vmul"}, {VDIV, "vdiv"}} {
		if w&0x0ff00ff0 == uint32(b.op) {
			return fmt.Sprintf("%s%s.f64 %s, %s, %s", b.name, c, d(12), d(16), d(0))
		}
	}
	return fmt.Sprintf(".word %#08x", w)
}
