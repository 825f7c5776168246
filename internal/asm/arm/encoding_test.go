package arm

import (
	"encoding/binary"
	"encoding/hex"
	"math/bits"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func hexWord(w uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], w)
	return hex.EncodeToString(b[:])
}

func TestEncode(t *testing.T) {
	for _, tc := range []struct {
		want string
		w    uint32
	}{
		{want: "e28120ff", w: EncodeDataProcessingImm(AL, ADD, false, R2, R1, 0xff, 0)},
		{want: "e3a00001", w: EncodeDataProcessingImm(AL, MOV, false, R0, R5, 1, 0)},
		{want: "e3e00000", w: EncodeDataProcessingImm(AL, MVN, false, R0, R0, 0, 0)},
		{want: "e24dd010", w: EncodeDataProcessingImm(AL, SUB, false, SP, SP, 0x10, 0)},
		{want: "e3510000", w: EncodeDataProcessingImm(AL, CMP, false, R7, R1, 0, 0)},
		{want: "e1a0b00d", w: EncodeMov(AL, FP, SP)},
		{want: "e1a00002", w: EncodeMov(AL, R0, R2)},
		{want: "e1500001", w: EncodeDataProcessingReg(AL, CMP, false, R0, R0, R1, LSL, 0)},
		{want: "e0810002", w: EncodeDataProcessingReg(AL, ADD, false, R0, R1, R2, LSL, 0)},
		{want: "e1a00181", w: EncodeDataProcessingReg(AL, MOV, false, R0, R0, R1, LSL, 3)},
		{want: "e1a00211", w: EncodeDataProcessingRegShiftReg(AL, MOV, false, R0, R0, R1, LSL, R2)},
		{want: "e0000291", w: EncodeMul(AL, false, R0, R1, R2)},
		{want: "e5910004", w: EncodeLoadStoreImm(AL, true, false, R0, R1, 4)},
		{want: "e50b0008", w: EncodeLoadStoreImm(AL, false, false, R0, FP, -8)},
		{want: "e5d10000", w: EncodeLoadStoreImm(AL, true, true, R0, R1, 0)},
		{want: "e791000c", w: EncodeLoadStoreReg(AL, true, false, R0, R1, IP)},
		{want: "e1d100b2", w: EncodeLoadStoreHalfImm(AL, LDRH, R0, R1, 2)},
		{want: "e15100f2", w: EncodeLoadStoreHalfImm(AL, LDRSH, R0, R1, -2)},
		{want: "e92d4010", w: EncodePush(AL, RegisterList(R4, LR))},
		{want: "e8bd8010", w: EncodePop(AL, RegisterList(R4, PC))},
		{want: "eafffffe", w: EncodeBranch(AL, false, 0x1000, 0x1000)},
		{want: "eb0003fe", w: EncodeBranch(AL, true, 0x1000, 0x2000)},
		{want: "0a0003fe", w: EncodeBranch(EQ, false, 0x1000, 0x2000)},
		{want: "e12fff1e", w: EncodeBX(AL, LR)},
		{want: "e12fff3c", w: EncodeBLX(AL, IP)},
		{want: "e3010234", w: EncodeMovw(AL, R0, 0x1234)},
		{want: "e34d0ead", w: EncodeMovt(AL, R0, 0xdead)},
		{want: "e51ff004", w: EncodeLongJumpCond(AL, -4)},
		{want: "059ff000", w: EncodeLongJumpCond(EQ, 0)},
		{want: "ee310b02", w: EncodeVFPBinary(AL, VADD, D0, D1, D2)},
		{want: "ee310b42", w: EncodeVFPBinary(AL, VSUB, D0, D1, D2)},
		{want: "ee210b02", w: EncodeVFPBinary(AL, VMUL, D0, D1, D2)},
		{want: "ee810b02", w: EncodeVFPBinary(AL, VDIV, D0, D1, D2)},
		{want: "eeb10b41", w: EncodeVFPUnary(AL, VNEG, D0, D1)},
		{want: "eeb40b41", w: EncodeVCmp(AL, D0, D1)},
		{want: "eef1fa10", w: EncodeVMRS(AL)},
		{want: "ed910b02", w: EncodeVLoadStore(AL, true, D0, R1, 8)},
		{want: "ed0b1b04", w: EncodeVLoadStore(AL, false, D1, FP, -16)},
		{want: "ec510b12", w: EncodeVMovToCorePair(AL, R0, R1, D2)},
		{want: "ec410b12", w: EncodeVMovFromCorePair(AL, D2, R0, R1)},
		{want: "ee070a10", w: EncodeVMovToSingle(AL, 14, R0)},
		{want: "ee170a10", w: EncodeVMovFromSingle(AL, R0, 14)},
		{want: "eeb80bc7", w: EncodeVCvtF64FromS32(AL, D0, 14)},
		{want: "eebd7bc0", w: EncodeVCvtS32FromF64(AL, 14, D0)},
	} {
		tc := tc
		t.Run(tc.want, func(t *testing.T) {
			require.Equal(t, tc.want, hexWord(tc.w))
		})
	}
}

func TestEncodeRotatedImmediate(t *testing.T) {
	for _, tc := range []struct {
		v  uint32
		ok bool
	}{
		{v: 0, ok: true},
		{v: 0xff, ok: true},
		{v: 0x100, ok: true},
		{v: 0x3fc, ok: true},
		{v: 0xff000000, ok: true},
		{v: 0xf000000f, ok: true},
		{v: 0x1fe, ok: false},
		{v: 0x101, ok: false},
		{v: 0xffffffff, ok: false},
		{v: 0x12345678, ok: false},
	} {
		imm8, rot, ok := EncodeRotatedImmediate(tc.v)
		require.Equal(t, tc.ok, ok, "%#x", tc.v)
		if ok {
			require.LessOrEqual(t, imm8, uint32(0xff))
			require.Equal(t, tc.v, bits.RotateLeft32(imm8, -int(rot)))
		}
	}
}

func TestEncodeRotatedImmediate_roundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	check := func(v uint32) {
		imm8, rot, ok := EncodeRotatedImmediate(v)
		if !ok {
			return
		}
		require.LessOrEqual(t, imm8, uint32(0xff))
		require.Zero(t, rot&1)
		require.Equal(t, v, bits.RotateLeft32(imm8, -int(rot)))
		w := EncodeDataProcessingImm(AL, ORR, false, R3, R4, imm8, rot)
		require.Equal(t, v, DecodeRotatedImmediate(w))
	}
	// Every representable value is some byte rotated by an even amount.
	for base := uint32(0); base <= 0xff; base++ {
		for rot := 0; rot < 32; rot += 2 {
			v := bits.RotateLeft32(base, -rot)
			require.True(t, IsRotatedImmediate(v), "%#x", v)
			check(v)
		}
	}
	for i := 0; i < 10000; i++ {
		check(r.Uint32())
	}
}

func TestBranchInRange(t *testing.T) {
	const at = uintptr(0x0400_0000)
	for _, tc := range []struct {
		target uintptr
		exp    bool
	}{
		{target: at, exp: true},
		{target: at + 8 + maxBranchOffset, exp: true},
		{target: at + 8 + maxBranchOffset + 4, exp: false},
		{target: at + 8 - (1 << 25), exp: true},
		{target: at + 8 - (1 << 25) - 4, exp: false},
		{target: at + 2, exp: false},
	} {
		require.Equal(t, tc.exp, BranchInRange(at, tc.target), "%#x", tc.target)
	}
}

func TestDecodeBranchTarget(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	const at = uintptr(0x0400_0000)
	for i := 0; i < 1000; i++ {
		off := (r.Int63n(1<<25) - 1<<24) &^ 3
		target := uintptr(int64(at) + 8 + off)
		for _, link := range []bool{false, true} {
			w := EncodeBranch(AL, link, at, target)
			require.True(t, IsBranch(w))
			require.Equal(t, link, IsBranchLink(w))
			require.Equal(t, target, DecodeBranchTarget(w, at))
		}
	}
}

func TestEncodeBranch_outOfRangePanics(t *testing.T) {
	require.Panics(t, func() { EncodeBranch(AL, false, 0, 1<<26) })
}

func TestIsLongJump(t *testing.T) {
	require.True(t, IsLongJump(LongJump))
	require.True(t, IsLongJump(EncodeLongJumpCond(NE, 0)))
	require.False(t, IsLongJump(EncodeLoadStoreImm(AL, true, false, R0, PC, -4)))
	require.False(t, IsLongJump(EncodeLoadStoreImm(AL, false, false, PC, PC, -4)))
	require.False(t, IsLongJump(BKPT))
}

func TestCond_Invert(t *testing.T) {
	require.Equal(t, NE, EQ.Invert())
	require.Equal(t, GE, LT.Invert())
	require.Equal(t, LS, HI.Invert())
	require.Panics(t, func() { AL.Invert() })
}

func TestDisassemble(t *testing.T) {
	for _, tc := range []struct {
		w   uint32
		exp string
	}{
		{w: EncodeDataProcessingImm(AL, ADD, false, R2, R1, 0xff, 0), exp: "add r2, r1, #0xff"},
		{w: EncodeDataProcessingImm(AL, SUB, true, R2, R1, 1, 0), exp: "subs r2, r1, #0x1"},
		{w: EncodeDataProcessingImm(NE, MOV, false, R0, R0, 1, 0), exp: "movne r0, #0x1"},
		{w: EncodeDataProcessingReg(AL, CMP, false, R0, R3, R4, LSL, 0), exp: "cmp r3, r4"},
		{w: EncodeDataProcessingRegShiftReg(AL, MOV, false, R0, R0, R1, ASR, R2), exp: "mov r0, r1, asr r2"},
		{w: EncodeMov(AL, SP, FP), exp: "mov sp, fp"},
		{w: EncodeLoadStoreImm(AL, true, false, R0, FP, -12), exp: "ldr r0, [fp, #-12]"},
		{w: EncodeLoadStoreImm(AL, true, false, R0, PC, -16), exp: "ldr r0, [0xff8]"},
		{w: EncodeLoadStoreHalfImm(AL, LDRSB, R1, R2, 3), exp: "ldrsb r1, [r2, #3]"},
		{w: EncodePush(AL, RegisterList(R4, R5, FP, LR)), exp: "push {r4, r5, fp, lr}"},
		{w: EncodeBranch(AL, false, 0x1000, 0x2000), exp: "b 0x2000"},
		{w: EncodeBranch(LT, true, 0x1000, 0x800), exp: "bllt 0x800"},
		{w: EncodeMovw(AL, R3, 0xbeef), exp: "movw r3, #0xbeef"},
		{w: EncodeMul(AL, false, R0, R1, R2), exp: "mul r0, r1, r2"},
		{w: EncodeVFPBinary(AL, VMUL, D1, D2, D3), exp: "vmul.f64 d1, d2, d3"},
		{w: EncodeVLoadStore(AL, true, D4, FP, -8), exp: "vldr d4, [fp, #-8]"},
		{w: EncodeVMovToCorePair(AL, R0, R1, D6), exp: "vmov r0, r1, d6"},
		{w: EncodeVCvtS32FromF64(AL, 14, D3), exp: "vcvt.s32.f64 s14, d3"},
		{w: EncodeVMRS(AL), exp: "vmrs APSR_nzcv, fpscr"},
		{w: BKPT, exp: "bkpt #0"},
		{w: 0xf57ff01f, exp: ".word 0xf57ff01f"},
	} {
		require.Equal(t, tc.exp, Disassemble(tc.w, 0x1000))
	}
}
