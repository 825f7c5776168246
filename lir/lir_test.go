package lir

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpcode_names(t *testing.T) {
	for o := OpInvalid + 1; o < opcodeEnd; o++ {
		require.NotEmpty(t, o.String(), int(o))
		actual, ok := OpcodeByName(o.String())
		require.True(t, ok, o.String())
		require.Equal(t, o, actual)
	}
	_, ok := OpcodeByName("nope")
	require.False(t, ok)
	require.Equal(t, "invalid", opcodeEnd.String())
}

func TestOpcode_classes(t *testing.T) {
	require.True(t, OpLtUI.IsCmpI())
	require.True(t, OpGeD.IsCmpD())
	require.False(t, OpAddD.IsCmp())
	require.True(t, OpLdSS.IsLoad())
	require.True(t, OpStQ.IsStore())
	require.Equal(t, TypeQ, OpStQ.StoredType())
	require.True(t, OpCallD.IsCall())
	require.True(t, OpX.IsExit())
	require.True(t, OpAddI.IsPure())
	require.True(t, OpLdI.IsPure())
	require.False(t, OpStI.IsPure())
	require.False(t, OpCallI.IsPure())
	require.Equal(t, 8, TypeD.Size())
	require.Equal(t, 4, TypeI.Size())
	require.Zero(t, TypeV.Size())
}

func TestBuilder(t *testing.T) {
	f := &Fragment{ID: 1, Name: "sum"}
	b := NewBuilder(f)
	p := b.Param(0)
	one := b.ImmI(1)
	sum := b.Ins2(OpAddI, p, one)
	b.Store(OpStI, sum, p, 8)
	cmp := b.Ins2(OpLtI, sum, b.ImmI(100))
	g := b.Guard(OpXF, cmp, &SideExit{}, 7)
	lp := b.Loop()
	require.NoError(t, b.Finish())

	require.Len(t, f.Code, 8)
	require.Equal(t, 2, sum.ID())
	require.Equal(t, f.Code[6], g.Origin)
	require.Equal(t, uint32(1), g.ID)
	require.Equal(t, uint32(2), lp.ID)
	require.Equal(t, f, lp.Exit.Target)
	require.Equal(t, []*Ins{p, one}, sum.Operands())
	require.Equal(t, "v2 = addi v0 v1", sum.String())
	require.Equal(t, "sti v2, v0[8]", f.Code[3].String())
	require.Equal(t, "xf v5 -> guard 1", f.Code[6].String())
	require.Contains(t, f.String(), "fragment 1 \"sum\"")
	require.False(t, f.Compiled())
}

func TestBuilder_calls(t *testing.T) {
	f := &Fragment{ID: 2}
	b := NewBuilder(f)
	ci := &CallInfo{Name: "pow", Args: []Type{TypeD, TypeI}, Ret: TypeD}
	d, i := b.ImmD(2), b.ImmI(10)
	call := b.Call(ci, d, i)
	require.Equal(t, OpCallD, call.Op)
	require.Equal(t, TypeD, call.Type())
	require.Equal(t, "v2 = calld pow v0 v1", call.String())
	b.Exit(&SideExit{}, 0)
	require.NoError(t, b.Finish())
}

func TestBuilder_errors(t *testing.T) {
	other := NewBuilder(&Fragment{ID: 9}).ImmI(1)
	for _, tc := range []struct {
		name  string
		build func(b *Builder)
		exp   string
	}{
		{
			name:  "type mismatch",
			build: func(b *Builder) { b.Ins2(OpAddD, b.ImmI(1), b.ImmD(1)) },
			exp:   "fragment 3, ins 2: addd: operand v0 has type i, want d",
		},
		{
			name:  "not binary",
			build: func(b *Builder) { b.Ins2(OpNegI, b.ImmI(1), b.ImmI(1)) },
			exp:   "fragment 3, ins 2: negi is not a binary operation",
		},
		{
			name:  "foreign operand",
			build: func(b *Builder) { b.Ins1(OpNegI, other) },
			exp:   "fragment 3, ins 0: negi: operand is not an earlier instruction of this fragment",
		},
		{
			name:  "missing operand",
			build: func(b *Builder) { b.Load(OpLdI, nil, 0) },
			exp:   "fragment 3, ins 0: ldi: missing operand",
		},
		{
			name:  "argument count",
			build: func(b *Builder) { b.Call(&CallInfo{Name: "f", Args: []Type{TypeI}}) },
			exp:   "fragment 3, ins 0: call f: 0 arguments, want 1",
		},
		{
			name:  "param",
			build: func(b *Builder) { b.Param(4) },
			exp:   "fragment 3, ins 0: parameter index 4 out of range",
		},
		{
			name:  "param after code",
			build: func(b *Builder) { b.Ins1(OpNegI, b.ImmI(1)); b.Param(0) },
			exp:   "fragment 3, ins 2: parameters must precede the other instructions",
		},
		{
			name:  "param twice",
			build: func(b *Builder) { b.Param(1); b.Param(1) },
			exp:   "fragment 3, ins 1: parameter 1 declared twice",
		},
		{
			name: "after exit",
			build: func(b *Builder) {
				b.Exit(&SideExit{}, 0)
				b.ImmI(1)
			},
			exp: "fragment 3, ins 1: instruction after the final exit",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder(&Fragment{ID: 3})
			tc.build(b)
			require.EqualError(t, b.Finish(), tc.exp)
		})
	}
}

func TestBuilder_unterminated(t *testing.T) {
	b := NewBuilder(&Fragment{ID: 4})
	b.ImmI(1)
	err := b.Finish()
	require.True(t, errors.Is(err, ErrUnterminated))
}
