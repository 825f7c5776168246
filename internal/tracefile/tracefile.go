// Package tracefile reads traces written in YAML so that they can be compiled without a front end.
//
// A trace file declares the functions the code calls and the fragments, each instruction being
// written the way lir.Ins.String prints it:
//
//	calls:
//	  - name: sum
//	    addr: 0x20000000
//	    args: [i, i]
//	    ret: i
//	fragments:
//	  - id: 1
//	    name: loop
//	    code:
//	      - parami 0
//	      - v1 = ldi v0[8]
//	      - calli sum v0 v1
//	      - sti v2, v0[16]
//	      - xt v2 exit=2 payload=7
//	      - loop
//
// Guards and the final exit take an optional "exit=<fragment id>" and "payload=<n>". The
// keyword "loop" ends a fragment with a jump back to its own start.
package tracefile

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tetratelabs/armjit/lir"
)

// File is the YAML document.
type File struct {
	Calls     []Call     `yaml:"calls,omitempty"`
	Fragments []Fragment `yaml:"fragments"`
}

// Call declares a function which instructions can call by name.
type Call struct {
	Name string   `yaml:"name"`
	Addr uint64   `yaml:"addr"`
	Args []string `yaml:"args,omitempty"`
	Ret  string   `yaml:"ret,omitempty"`
}

// Fragment is the source of one fragment.
type Fragment struct {
	ID                uint32   `yaml:"id"`
	Name              string   `yaml:"name,omitempty"`
	ExplicitSavedRegs bool     `yaml:"explicitSavedRegs,omitempty"`
	Code              []string `yaml:"code"`
}

// Trace is a loaded trace file.
type Trace struct {
	Calls map[string]*lir.CallInfo
	// Fragments are in file order, which is the order they should be compiled in.
	Fragments []*lir.Fragment
}

// Fragment returns the fragment with the given ID, nil if none.
func (t *Trace) Fragment(id uint32) *lir.Fragment {
	for _, f := range t.Fragments {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Load reads and builds the trace file at path.
func Load(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}

// Parse builds the trace in data.
func Parse(data []byte) (*Trace, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Build()
}

// Build converts the document into fragments.
func (file *File) Build() (*Trace, error) {
	t := &Trace{Calls: map[string]*lir.CallInfo{}}
	for _, c := range file.Calls {
		if _, ok := t.Calls[c.Name]; ok || c.Name == "" {
			return nil, fmt.Errorf("call %q: duplicate or empty name", c.Name)
		}
		if c.Addr > math.MaxUint32 {
			return nil, fmt.Errorf("call %s: address %#x does not fit in 32 bits", c.Name, c.Addr)
		}
		ci := &lir.CallInfo{Name: c.Name, Addr: uintptr(c.Addr), Ret: lir.TypeV}
		var err error
		if c.Ret != "" {
			if ci.Ret, err = parseType(c.Ret); err != nil {
				return nil, fmt.Errorf("call %s: %w", c.Name, err)
			}
		}
		for _, a := range c.Args {
			typ, err := parseType(a)
			if err != nil || typ == lir.TypeV {
				return nil, fmt.Errorf("call %s: invalid argument type %q", c.Name, a)
			}
			ci.Args = append(ci.Args, typ)
		}
		t.Calls[c.Name] = ci
	}

	// Fragments are created up front so that exits can refer to any of them.
	for _, src := range file.Fragments {
		if t.Fragment(src.ID) != nil {
			return nil, fmt.Errorf("fragment %d: duplicate id", src.ID)
		}
		t.Fragments = append(t.Fragments, &lir.Fragment{ID: src.ID, Name: src.Name, ExplicitSavedRegs: src.ExplicitSavedRegs})
	}
	for i, src := range file.Fragments {
		if err := t.build(t.Fragments[i], src.Code); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parseType(s string) (lir.Type, error) {
	for typ := lir.TypeV; typ <= lir.TypeD; typ++ {
		if typ.String() == s {
			return typ, nil
		}
	}
	return lir.TypeV, fmt.Errorf("unknown type %q", s)
}

func (t *Trace) build(f *lir.Fragment, code []string) error {
	b := lir.NewBuilder(f)
	for i, line := range code {
		if err := t.buildIns(b, line); err != nil {
			return fmt.Errorf("fragment %d, line %d %q: %w", f.ID, i, line, err)
		}
	}
	return b.Finish()
}

// lineParser consumes the fields of one instruction.
type lineParser struct {
	f      *lir.Fragment
	fields []string
}

func (p *lineParser) next() (string, error) {
	if len(p.fields) == 0 {
		return "", fmt.Errorf("missing operand")
	}
	s := p.fields[0]
	p.fields = p.fields[1:]
	return s, nil
}

func (p *lineParser) value() (*lir.Ins, error) {
	s, err := p.next()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(s, "v") {
		return nil, fmt.Errorf("%q is not a value", s)
	}
	id, err := strconv.Atoi(s[1:])
	if err != nil || id < 0 || id >= len(p.f.Code) {
		return nil, fmt.Errorf("unknown value %q", s)
	}
	return p.f.Code[id], nil
}

func (p *lineParser) integer(bits int) (int64, error) {
	s, err := p.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 0, bits)
	if err != nil {
		// Hexadecimal constants may be written as their unsigned bit pattern.
		u, uerr := strconv.ParseUint(s, 0, bits)
		if uerr != nil {
			return 0, err
		}
		v = int64(u)
		if bits == 32 {
			v = int64(int32(u))
		}
	}
	return v, nil
}

// exit parses the trailing exit=<id> payload=<n> of exits.
func (t *Trace) exit(p *lineParser) (*lir.SideExit, uint32, error) {
	var exit *lir.SideExit
	var payload uint32
	for _, kv := range p.fields {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, 0, fmt.Errorf("unexpected %q", kv)
		}
		n, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", k, err)
		}
		switch k {
		case "exit":
			target := t.Fragment(uint32(n))
			if target == nil {
				return nil, 0, fmt.Errorf("exit to unknown fragment %d", n)
			}
			exit = &lir.SideExit{Target: target}
		case "payload":
			payload = uint32(n)
		default:
			return nil, 0, fmt.Errorf("unknown attribute %q", k)
		}
	}
	p.fields = nil
	return exit, payload, nil
}

func (t *Trace) buildIns(b *lir.Builder, line string) (err error) {
	fields := strings.Fields(strings.NewReplacer("[", " ", "]", " ", ",", " ").Replace(line))
	// Drop the "vN =" printed before instructions with a value, and "-> guard N" after exits.
	if len(fields) > 2 && fields[1] == "=" {
		if want := fmt.Sprintf("v%d", len(b.Fragment().Code)); fields[0] != want {
			return fmt.Errorf("defines %s, want %s", fields[0], want)
		}
		fields = fields[2:]
	}
	for i, s := range fields {
		if s == "->" {
			fields = fields[:i]
			break
		}
	}
	if len(fields) == 0 {
		return fmt.Errorf("empty instruction")
	}
	if fields[0] == "loop" {
		if len(fields) != 1 {
			return fmt.Errorf("loop takes no operand")
		}
		b.Loop()
		return nil
	}

	op, ok := lir.OpcodeByName(fields[0])
	if !ok {
		return fmt.Errorf("unknown opcode %q", fields[0])
	}
	p := &lineParser{f: b.Fragment(), fields: fields[1:]}
	switch {
	case op == lir.OpImmI:
		var v int64
		if v, err = p.integer(32); err == nil {
			b.ImmI(int32(v))
		}
	case op == lir.OpImmQ:
		var v int64
		if v, err = p.integer(64); err == nil {
			b.ImmQ(v)
		}
	case op == lir.OpImmD:
		var s string
		if s, err = p.next(); err == nil {
			var v float64
			if v, err = strconv.ParseFloat(s, 64); err == nil {
				b.ImmD(v)
			}
		}
	case op == lir.OpParamI:
		var v int64
		if v, err = p.integer(32); err == nil {
			b.Param(int(v))
		}
	case op.IsLoad():
		var base *lir.Ins
		var disp int64
		if base, err = p.value(); err == nil {
			if disp, err = p.integer(32); err == nil {
				b.Load(op, base, int32(disp))
			}
		}
	case op.IsStore():
		var value, base *lir.Ins
		var disp int64
		if value, err = p.value(); err != nil {
			return err
		}
		if base, err = p.value(); err != nil {
			return err
		}
		if disp, err = p.integer(32); err == nil {
			b.Store(op, value, base, int32(disp))
		}
	case op.IsCall():
		err = t.buildCall(b, op, p)
	case op == lir.OpXT || op == lir.OpXF:
		var cond *lir.Ins
		if cond, err = p.value(); err != nil {
			return err
		}
		exit, payload, err := t.exit(p)
		if err != nil {
			return err
		}
		b.Guard(op, cond, exit, payload)
	case op == lir.OpX:
		exit, payload, err := t.exit(p)
		if err != nil {
			return err
		}
		b.Exit(exit, payload)
	case op.Operands() == 1:
		var a *lir.Ins
		if a, err = p.value(); err == nil {
			b.Ins1(op, a)
		}
	case op.Operands() == 2:
		var x, y *lir.Ins
		if x, err = p.value(); err != nil {
			return err
		}
		if y, err = p.value(); err == nil {
			b.Ins2(op, x, y)
		}
	default:
		return fmt.Errorf("%s cannot be written in a trace file", op)
	}
	if err == nil && len(p.fields) > 0 {
		err = fmt.Errorf("unexpected %q", strings.Join(p.fields, " "))
	}
	return err
}

func (t *Trace) buildCall(b *lir.Builder, op lir.Opcode, p *lineParser) error {
	name, err := p.next()
	if err != nil {
		return err
	}
	ci, ok := t.Calls[name]
	if !ok {
		return fmt.Errorf("unknown call %q", name)
	}
	if ci.Ret != op.Type() {
		return fmt.Errorf("%s returns %s, not %s", name, ci.Ret, op.Type())
	}
	var args []*lir.Ins
	for len(p.fields) > 0 {
		a, err := p.value()
		if err != nil {
			return err
		}
		args = append(args, a)
	}
	b.Call(ci, args...)
	return nil
}
