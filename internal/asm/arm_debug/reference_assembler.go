package armdebug

import (
	"bytes"
	"encoding/binary"
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm"

	asm_arm "github.com/tetratelabs/armjit/internal/asm/arm"
)

// ReferenceAssembler emits instructions with Go's official ARM assembler (via golang-asm) so that
// tests can ensure our encoder produces exactly the same words.
//
// Go's assembler may add a prologue or literal pools around the requested instructions, so the
// output must be compared with Contains rather than byte for byte.
type ReferenceAssembler struct {
	b *goasm.Builder
}

// NewReferenceAssembler returns a new ReferenceAssembler.
func NewReferenceAssembler() (*ReferenceAssembler, error) {
	b, err := goasm.NewBuilder("arm", 1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new assembly builder: %w", err)
	}
	return &ReferenceAssembler{b: b}, nil
}

var castAsGolangAsmRegister = [...]int16{
	asm_arm.R0:  arm.REG_R0,
	asm_arm.R1:  arm.REG_R1,
	asm_arm.R2:  arm.REG_R2,
	asm_arm.R3:  arm.REG_R3,
	asm_arm.R4:  arm.REG_R4,
	asm_arm.R5:  arm.REG_R5,
	asm_arm.R6:  arm.REG_R6,
	asm_arm.R7:  arm.REG_R7,
	asm_arm.R8:  arm.REG_R8,
	asm_arm.R9:  arm.REG_R9,
	asm_arm.R10: arm.REG_R10,
	asm_arm.R11: arm.REG_R11,
	asm_arm.R12: arm.REG_R12,
	asm_arm.R13: arm.REG_R13,
	asm_arm.R14: arm.REG_R14,
	asm_arm.R15: arm.REG_R15,
}

var castAsGolangAsmInstruction = map[asm_arm.DataOp]obj.As{
	asm_arm.AND: arm.AAND,
	asm_arm.EOR: arm.AEOR,
	asm_arm.SUB: arm.ASUB,
	asm_arm.RSB: arm.ARSB,
	asm_arm.ADD: arm.AADD,
	asm_arm.ORR: arm.AORR,
	asm_arm.BIC: arm.ABIC,
}

func reg(r asm_arm.Register) int16 {
	if !r.IsGP() {
		panic(fmt.Sprintf("BUG: %s is not supported by the reference assembler", r))
	}
	return castAsGolangAsmRegister[r]
}

// CompileTwoRegistersToRegister emits "<op> rd, rn, rm".
func (a *ReferenceAssembler) CompileTwoRegistersToRegister(op asm_arm.DataOp, rd, rn, rm asm_arm.Register) {
	as, ok := castAsGolangAsmInstruction[op]
	if !ok {
		panic(fmt.Sprintf("BUG: %s is not supported by the reference assembler", op))
	}
	inst := a.b.NewProg()
	inst.As = as
	inst.From.Type = obj.TYPE_REG
	inst.From.Reg = reg(rm)
	inst.Reg = reg(rn)
	inst.To.Type = obj.TYPE_REG
	inst.To.Reg = reg(rd)
	a.b.AddInstruction(inst)
}

// CompileConstToRegister emits "MOVW $value, rd".
func (a *ReferenceAssembler) CompileConstToRegister(value int64, rd asm_arm.Register) {
	inst := a.b.NewProg()
	inst.As = arm.AMOVW
	inst.From.Type = obj.TYPE_CONST
	inst.From.Offset = value
	inst.To.Type = obj.TYPE_REG
	inst.To.Reg = reg(rd)
	a.b.AddInstruction(inst)
}

// CompileMemoryToRegister emits "MOVW offset(base), rt", i.e. "ldr rt, [base, #offset]".
func (a *ReferenceAssembler) CompileMemoryToRegister(base asm_arm.Register, offset int64, rt asm_arm.Register) {
	inst := a.b.NewProg()
	inst.As = arm.AMOVW
	inst.From.Type = obj.TYPE_MEM
	inst.From.Reg = reg(base)
	inst.From.Offset = offset
	inst.To.Type = obj.TYPE_REG
	inst.To.Reg = reg(rt)
	a.b.AddInstruction(inst)
}

// CompileRegisterToMemory emits "MOVW rt, offset(base)", i.e. "str rt, [base, #offset]".
func (a *ReferenceAssembler) CompileRegisterToMemory(rt, base asm_arm.Register, offset int64) {
	inst := a.b.NewProg()
	inst.As = arm.AMOVW
	inst.From.Type = obj.TYPE_REG
	inst.From.Reg = reg(rt)
	inst.To.Type = obj.TYPE_MEM
	inst.To.Reg = reg(base)
	inst.To.Offset = offset
	a.b.AddInstruction(inst)
}

// Assemble returns the machine code assembled so far.
func (a *ReferenceAssembler) Assemble() []byte {
	return a.b.Assemble()
}

// Contains returns true if code contains the given words consecutively in little endian order.
func Contains(code []byte, words ...uint32) bool {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return bytes.Contains(code, buf)
}
