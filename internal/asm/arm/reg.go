package arm

import "fmt"

// Register is a physical ARM register. General purpose registers occupy 0-15 and the
// VFP double precision registers D0-D15 occupy 16-31 so that both banks fit in one bitset.
type Register byte

const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	D0
	D1
	D2
	D3
	D4
	D5
	D6
	D7
	D8
	D9
	D10
	D11
	D12
	D13
	D14
	D15

	// NilRegister is used to indicate the absence of a register.
	NilRegister Register = 0xff
)

// Aliases following the AAPCS naming.
const (
	FP = R11
	IP = R12
	SP = R13
	LR = R14
	PC = R15
)

// IsGP returns true if r is a general purpose register.
func (r Register) IsGP() bool { return r <= R15 }

// IsVFP returns true if r is a VFP double precision register.
func (r Register) IsVFP() bool { return r >= D0 && r <= D15 }

// Bits returns the 4-bit register number used in instruction fields.
func (r Register) Bits() uint32 {
	switch {
	case r.IsGP():
		return uint32(r)
	case r.IsVFP():
		return uint32(r - D0)
	default:
		panic(fmt.Sprintf("BUG: invalid register %d", r))
	}
}

// String implements fmt.Stringer.
func (r Register) String() string {
	switch {
	case r == FP:
		return "fp"
	case r == IP:
		return "ip"
	case r == SP:
		return "sp"
	case r == LR:
		return "lr"
	case r == PC:
		return "pc"
	case r.IsGP():
		return fmt.Sprintf("r%d", r)
	case r.IsVFP():
		return fmt.Sprintf("d%d", r-D0)
	case r == NilRegister:
		return "nil"
	default:
		return fmt.Sprintf("reg(%d)", byte(r))
	}
}

// Cond is the 4-bit condition field at the top of every ARM instruction.
type Cond uint32

const (
	EQ Cond = iota
	NE
	CS
	CC
	MI
	PL
	VS
	VC
	HI
	LS
	GE
	LT
	GT
	LE
	AL
)

// Aliases for the unsigned comparisons.
const (
	HS = CS
	LO = CC
)

// Invert returns the condition which holds exactly when c does not.
func (c Cond) Invert() Cond {
	if c == AL {
		panic("BUG: AL has no inverse")
	}
	return c ^ 1
}

var condNames = [...]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le", ""}

// String implements fmt.Stringer.
func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return "nv"
}

// ShiftType selects the barrel shifter operation of a register operand.
type ShiftType uint32

const (
	LSL ShiftType = iota
	LSR
	ASR
	ROR
)

// DataOp is the opcode field of a data-processing instruction.
type DataOp uint32

const (
	AND DataOp = iota
	EOR
	SUB
	RSB
	ADD
	ADC
	SBC
	RSC
	TST
	TEQ
	CMP
	CMN
	ORR
	MOV
	BIC
	MVN
)

var dataOpNames = [...]string{
	"and", "eor", "sub", "rsb", "add", "adc", "sbc", "rsc",
	"tst", "teq", "cmp", "cmn", "orr", "mov", "bic", "mvn",
}

// String implements fmt.Stringer.
func (o DataOp) String() string { return dataOpNames[o&0xf] }

// isCompare returns true for the opcodes which only set flags.
func (o DataOp) isCompare() bool { return o >= TST && o <= CMN }

// isMove returns true for the opcodes which ignore the first operand.
func (o DataOp) isMove() bool { return o == MOV || o == MVN }
