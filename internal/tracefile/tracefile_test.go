package tracefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/armjit/lir"
)

const sumLoop = `
calls:
  - name: sum
    addr: 0x20000000
    args: [i, i]
    ret: i
  - name: tick
    addr: 0x20000100
fragments:
  - id: 1
    name: entry
    code:
      - parami 0
      - v1 = ldi v0[8]
      - immi 0xffffffff
      - calli sum v1 v2
      - sti v3, v0[16]
      - callv tick
      - eqi v3 v2
      - xt v6 exit=2 payload=7
      - x exit=2
  - id: 2
    name: loop
    explicitSavedRegs: true
    code:
      - parami 0
      - immd 1.5
      - v2 = ldd v0[0x20]
      - addd v1 v2
      - std v3, v0[0x20]
      - loop
`

func TestParse(t *testing.T) {
	tr, err := Parse([]byte(sumLoop))
	require.NoError(t, err)

	require.Equal(t, &lir.CallInfo{Name: "sum", Addr: 0x2000_0000, Args: []lir.Type{lir.TypeI, lir.TypeI}, Ret: lir.TypeI}, tr.Calls["sum"])
	require.Equal(t, &lir.CallInfo{Name: "tick", Addr: 0x2000_0100, Ret: lir.TypeV}, tr.Calls["tick"])

	require.Equal(t, 2, len(tr.Fragments))
	entry, loop := tr.Fragments[0], tr.Fragments[1]
	require.Equal(t, entry, tr.Fragment(1))
	require.Equal(t, loop, tr.Fragment(2))
	require.Nil(t, tr.Fragment(3))
	require.Equal(t, "entry", entry.Name)
	require.False(t, entry.ExplicitSavedRegs)
	require.True(t, loop.ExplicitSavedRegs)

	require.Equal(t, 9, len(entry.Code))
	require.Equal(t, int32(8), entry.Code[1].Imm)
	require.Equal(t, int32(-1), entry.Code[2].Imm)
	require.Equal(t, tr.Calls["sum"], entry.Code[3].Call)
	require.Equal(t, []*lir.Ins{entry.Code[1], entry.Code[2]}, entry.Code[3].Args)

	guard := entry.Code[7].Guard
	require.Equal(t, lir.OpXT, entry.Code[7].Op)
	require.Equal(t, uint32(7), guard.Payload)
	require.Equal(t, loop, guard.Exit.Target)
	final := entry.Code[8].Guard
	require.Equal(t, uint32(0), final.Payload)
	require.Equal(t, loop, final.Exit.Target)

	require.Equal(t, 1.5, loop.Code[1].ImmD)
	require.Equal(t, int32(0x20), loop.Code[2].Imm)
	require.Equal(t, lir.OpX, loop.Code[5].Op)
	require.Equal(t, loop, loop.Code[5].Guard.Exit.Target)
}

// TestParse_printed checks that the printed form of a fragment reads back as the same code.
func TestParse_printed(t *testing.T) {
	tr, err := Parse([]byte(sumLoop))
	require.NoError(t, err)

	for _, f := range tr.Fragments {
		var code []string
		for _, ins := range f.Code {
			code = append(code, ins.String())
		}
		// Exits print their guard but not their target.
		code[len(code)-1] = "loop"
		file := &File{Fragments: []Fragment{{ID: f.ID, Code: code}}}
		for name, ci := range tr.Calls {
			c := Call{Name: name, Addr: uint64(ci.Addr), Ret: ci.Ret.String()}
			for _, a := range ci.Args {
				c.Args = append(c.Args, a.String())
			}
			file.Calls = append(file.Calls, c)
		}
		if f.ID == 1 {
			// The guard of fragment 1 goes to fragment 2, which is not in this file.
			code[7] = "xt v6 payload=7"
		}

		again, err := file.Build()
		require.NoError(t, err, strings.Join(code, "\n"))
		actual := again.Fragments[0]
		require.Equal(t, len(f.Code), len(actual.Code))
		for i, ins := range f.Code {
			require.Equal(t, ins.Op, actual.Code[i].Op, i)
			require.Equal(t, ins.Imm, actual.Code[i].Imm, i)
			require.Equal(t, ins.ImmD, actual.Code[i].ImmD, i)
		}
	}
}

func TestParse_errors(t *testing.T) {
	for _, tc := range []struct {
		name, calls, code, expErr string
	}{
		{name: "unknown opcode", code: "- frob v0", expErr: `unknown opcode "frob"`},
		{name: "unknown value", code: "- parami 0\n- addi v0 v5", expErr: `unknown value "v5"`},
		{name: "not a value", code: "- parami 0\n- addi v0 3", expErr: `"3" is not a value`},
		{name: "missing operand", code: "- parami 0\n- addi v0", expErr: "missing operand"},
		{name: "extra operand", code: "- parami 0\n- negi v0 v0", expErr: `unexpected "v0"`},
		{name: "wrong definition", code: "- v1 = immi 3", expErr: "defines v1, want v0"},
		{name: "unknown call", code: "- calli nope", expErr: `unknown call "nope"`},
		{
			name:   "call result",
			calls:  "calls:\n  - name: f\n    addr: 4\n    ret: d\n",
			code:   "- calli f",
			expErr: "f returns d, not i",
		},
		{
			name:   "argument type",
			calls:  "calls:\n  - name: f\n    addr: 4\n    args: [v]\n",
			code:   "- x",
			expErr: `call f: invalid argument type "v"`,
		},
		{
			name:   "call address",
			calls:  "calls:\n  - name: f\n    addr: 0x100000000\n",
			code:   "- x",
			expErr: "call f: address 0x100000000 does not fit in 32 bits",
		},
		{name: "unknown exit", code: "- x exit=9", expErr: "exit to unknown fragment 9"},
		{name: "unknown attribute", code: "- x color=3", expErr: `unknown attribute "color"`},
		{name: "immediate out of range", code: "- immi 0x100000000", expErr: "out of range"},
		{name: "type mismatch", code: "- immd 1\n- negi v0\n- x", expErr: "operand v0 has type d, want i"},
		{name: "unterminated", code: "- immi 1", expErr: lir.ErrUnterminated.Error()},
		{name: "empty", code: "- \"\"", expErr: "empty instruction"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			doc := tc.calls + "fragments:\n  - id: 1\n    code:\n" + indent(tc.code, "      ")
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expErr)
		})
	}
}

func TestParse_duplicates(t *testing.T) {
	_, err := Parse([]byte("fragments:\n  - id: 1\n    code: [x]\n  - id: 1\n    code: [x]\n"))
	require.EqualError(t, err, "fragment 1: duplicate id")

	_, err = Parse([]byte("calls:\n  - name: f\n  - name: f\nfragments: []\n"))
	require.EqualError(t, err, `call "f": duplicate or empty name`)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sumLoop), 0o600))
	tr, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, len(tr.Fragments))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("fragments: {"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse "+path)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}
