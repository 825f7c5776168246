package lir

// Type is the type of the value an instruction produces.
type Type byte

const (
	// TypeV is the type of instructions without a value.
	TypeV Type = iota
	// TypeI is a 32-bit integer or pointer.
	TypeI
	// TypeQ is a 64-bit integer. It can be loaded, stored and passed around but not computed on.
	TypeQ
	// TypeD is a 64-bit IEEE 754 double.
	TypeD
)

// Size returns the size of a value of type t in bytes.
func (t Type) Size() int {
	switch t {
	case TypeI:
		return 4
	case TypeQ, TypeD:
		return 8
	default:
		return 0
	}
}

// Is64 returns true for the 64-bit types.
func (t Type) Is64() bool { return t == TypeQ || t == TypeD }

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeV:
		return "v"
	case TypeI:
		return "i"
	case TypeQ:
		return "q"
	case TypeD:
		return "d"
	default:
		return "?"
	}
}

// Opcode is the operation of an instruction.
type Opcode uint16

const (
	OpInvalid Opcode = iota

	// OpImmI is a 32-bit constant in Imm.
	OpImmI
	// OpImmQ is a 64-bit integer constant in ImmQ.
	OpImmQ
	// OpImmD is a double constant in ImmD.
	OpImmD
	// OpParamI is the fragment argument number Imm (0-3).
	OpParamI

	OpAddI
	OpSubI
	OpMulI
	OpAndI
	OpOrI
	OpXorI
	OpLshI
	OpRshI
	OpRshUI
	OpNegI
	OpNotI

	// Integer comparisons produce 1 or 0.
	OpEqI
	OpLtI
	OpGtI
	OpLeI
	OpGeI
	OpLtUI
	OpGtUI
	OpLeUI
	OpGeUI

	OpAddD
	OpSubD
	OpMulD
	OpDivD
	OpNegD
	// OpI2D converts a signed integer to a double.
	OpI2D
	// OpD2I converts a double to a signed integer, rounding toward zero.
	OpD2I

	// Double comparisons produce 1 or 0. Unordered operands compare false.
	OpEqD
	OpLtD
	OpGtD
	OpLeD
	OpGeD

	// Loads read from A+Imm. Unused loads are dropped like the other pure instructions.
	OpLdI
	OpLdUB
	OpLdSB
	OpLdUS
	OpLdSS
	OpLdQ
	OpLdD

	// Stores write A to B+Imm.
	OpStI
	OpStB
	OpStS
	OpStQ
	OpStD

	// Calls invoke Call with Args.
	OpCallV
	OpCallI
	OpCallQ
	OpCallD

	// OpXT leaves the fragment through Guard when A is non-zero.
	OpXT
	// OpXF leaves the fragment through Guard when A is zero.
	OpXF
	// OpX unconditionally leaves the fragment through Guard.
	OpX

	opcodeEnd
)

type opInfo struct {
	name     string
	typ      Type
	operands int
	pure     bool
}

var opInfos = [opcodeEnd]opInfo{
	OpInvalid: {name: "invalid"},
	OpImmI:    {name: "immi", typ: TypeI, pure: true},
	OpImmQ:    {name: "immq", typ: TypeQ, pure: true},
	OpImmD:    {name: "immd", typ: TypeD, pure: true},
	OpParamI:  {name: "parami", typ: TypeI, pure: true},
	OpAddI:    {name: "addi", typ: TypeI, operands: 2, pure: true},
	OpSubI:    {name: "subi", typ: TypeI, operands: 2, pure: true},
	OpMulI:    {name: "muli", typ: TypeI, operands: 2, pure: true},
	OpAndI:    {name: "andi", typ: TypeI, operands: 2, pure: true},
	OpOrI:     {name: "ori", typ: TypeI, operands: 2, pure: true},
	OpXorI:    {name: "xori", typ: TypeI, operands: 2, pure: true},
	OpLshI:    {name: "lshi", typ: TypeI, operands: 2, pure: true},
	OpRshI:    {name: "rshi", typ: TypeI, operands: 2, pure: true},
	OpRshUI:   {name: "rshui", typ: TypeI, operands: 2, pure: true},
	OpNegI:    {name: "negi", typ: TypeI, operands: 1, pure: true},
	OpNotI:    {name: "noti", typ: TypeI, operands: 1, pure: true},
	OpEqI:     {name: "eqi", typ: TypeI, operands: 2, pure: true},
	OpLtI:     {name: "lti", typ: TypeI, operands: 2, pure: true},
	OpGtI:     {name: "gti", typ: TypeI, operands: 2, pure: true},
	OpLeI:     {name: "lei", typ: TypeI, operands: 2, pure: true},
	OpGeI:     {name: "gei", typ: TypeI, operands: 2, pure: true},
	OpLtUI:    {name: "ltui", typ: TypeI, operands: 2, pure: true},
	OpGtUI:    {name: "gtui", typ: TypeI, operands: 2, pure: true},
	OpLeUI:    {name: "leui", typ: TypeI, operands: 2, pure: true},
	OpGeUI:    {name: "geui", typ: TypeI, operands: 2, pure: true},
	OpAddD:    {name: "addd", typ: TypeD, operands: 2, pure: true},
	OpSubD:    {name: "subd", typ: TypeD, operands: 2, pure: true},
	OpMulD:    {name: "muld", typ: TypeD, operands: 2, pure: true},
	OpDivD:    {name: "divd", typ: TypeD, operands: 2, pure: true},
	OpNegD:    {name: "negd", typ: TypeD, operands: 1, pure: true},
	OpI2D:     {name: "i2d", typ: TypeD, operands: 1, pure: true},
	OpD2I:     {name: "d2i", typ: TypeI, operands: 1, pure: true},
	OpEqD:     {name: "eqd", typ: TypeI, operands: 2, pure: true},
	OpLtD:     {name: "ltd", typ: TypeI, operands: 2, pure: true},
	OpGtD:     {name: "gtd", typ: TypeI, operands: 2, pure: true},
	OpLeD:     {name: "led", typ: TypeI, operands: 2, pure: true},
	OpGeD:     {name: "ged", typ: TypeI, operands: 2, pure: true},
	OpLdI:     {name: "ldi", typ: TypeI, operands: 1, pure: true},
	OpLdUB:    {name: "ldub", typ: TypeI, operands: 1, pure: true},
	OpLdSB:    {name: "ldsb", typ: TypeI, operands: 1, pure: true},
	OpLdUS:    {name: "ldus", typ: TypeI, operands: 1, pure: true},
	OpLdSS:    {name: "ldss", typ: TypeI, operands: 1, pure: true},
	OpLdQ:     {name: "ldq", typ: TypeQ, operands: 1, pure: true},
	OpLdD:     {name: "ldd", typ: TypeD, operands: 1, pure: true},
	OpStI:     {name: "sti", operands: 2},
	OpStB:     {name: "stb", operands: 2},
	OpStS:     {name: "sts", operands: 2},
	OpStQ:     {name: "stq", operands: 2},
	OpStD:     {name: "std", operands: 2},
	OpCallV:   {name: "callv"},
	OpCallI:   {name: "calli", typ: TypeI},
	OpCallQ:   {name: "callq", typ: TypeQ},
	OpCallD:   {name: "calld", typ: TypeD},
	OpXT:      {name: "xt", operands: 1},
	OpXF:      {name: "xf", operands: 1},
	OpX:       {name: "x"},
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if o < opcodeEnd {
		return opInfos[o].name
	}
	return "invalid"
}

// OpcodeByName returns the opcode whose String is name.
func OpcodeByName(name string) (Opcode, bool) {
	for o := OpInvalid + 1; o < opcodeEnd; o++ {
		if opInfos[o].name == name {
			return o, true
		}
	}
	return OpInvalid, false
}

// Type returns the type of the value produced by o.
func (o Opcode) Type() Type { return opInfos[o].typ }

// Operands returns the number of instruction operands A, B used by o. Calls use Args instead.
func (o Opcode) Operands() int { return opInfos[o].operands }

// IsPure returns true if o has no side effect, so that it can be skipped when its value is unused.
func (o Opcode) IsPure() bool { return opInfos[o].pure }

// IsImm returns true for the constants.
func (o Opcode) IsImm() bool { return o == OpImmI || o == OpImmQ || o == OpImmD }

// IsCmpI returns true for the integer comparisons.
func (o Opcode) IsCmpI() bool { return o >= OpEqI && o <= OpGeUI }

// IsCmpD returns true for the double comparisons.
func (o Opcode) IsCmpD() bool { return o >= OpEqD && o <= OpGeD }

// IsCmp returns true for all comparisons.
func (o Opcode) IsCmp() bool { return o.IsCmpI() || o.IsCmpD() }

// IsLoad returns true for the loads.
func (o Opcode) IsLoad() bool { return o >= OpLdI && o <= OpLdD }

// IsStore returns true for the stores.
func (o Opcode) IsStore() bool { return o >= OpStI && o <= OpStD }

// IsCall returns true for the calls.
func (o Opcode) IsCall() bool { return o >= OpCallV && o <= OpCallD }

// IsExit returns true for the guards and the unconditional exit.
func (o Opcode) IsExit() bool { return o == OpXT || o == OpXF || o == OpX }

// StoredType returns the type of the value stored by a store.
func (o Opcode) StoredType() Type {
	switch o {
	case OpStI, OpStB, OpStS:
		return TypeI
	case OpStQ:
		return TypeQ
	case OpStD:
		return TypeD
	default:
		return TypeV
	}
}
