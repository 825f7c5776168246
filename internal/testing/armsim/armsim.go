// Package armsim is a small interpreter for the subset of 32-bit ARM and VFP instructions emitted
// by the back end. It is only meant for tests: it lets them run generated code on any host.
package armsim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
)

const (
	// ReturnAddress is the LR value installed by Call. Execution stops when PC reaches it.
	ReturnAddress uint32 = 0xfffffff0

	// StackTop is the initial SP value installed by Call.
	StackTop uint32 = 0x7000_0000
	// StackSize is the size of the stack mapped below StackTop.
	StackSize = 64 * 1024

	defaultMaxSteps = 1_000_000
)

const (
	pc = 15
	lr = 14
	sp = 13
)

// ErrBreakpoint is returned when a BKPT instruction is executed.
var ErrBreakpoint = errors.New("breakpoint")

type region struct {
	base uint32
	mem  []byte
}

// HostFunc emulates a native function called by generated code. It reads its arguments from
// the machine (R0-R3 and the stack) and writes its result to R0 (and R1).
type HostFunc func(m *Machine)

// Machine is the state of the simulated CPU.
type Machine struct {
	R [16]uint32
	// D holds the VFP double precision registers. Single precision register S(2n) is the low
	// half of D(n) and S(2n+1) the high half.
	D [16]uint64

	N, Z, C, V bool
	// fpscr flags, copied to N, Z, C and V by VMRS.
	fN, fZ, fC, fV bool

	// Steps is the number of instructions executed so far, MaxSteps the limit.
	Steps, MaxSteps int

	regions []region
	hosts   map[uint32]HostFunc
}

// New returns a Machine with a mapped stack.
func New() *Machine {
	m := &Machine{MaxSteps: defaultMaxSteps, hosts: map[uint32]HostFunc{}}
	m.Alloc(StackTop-StackSize, StackSize)
	return m
}

// Map makes mem visible at addr. The memory is shared, not copied.
func (m *Machine) Map(addr uint32, mem []byte) {
	m.regions = append(m.regions, region{base: addr, mem: mem})
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].base < m.regions[j].base })
}

// Alloc maps size zeroed bytes at addr and returns them.
func (m *Machine) Alloc(addr uint32, size int) []byte {
	mem := make([]byte, size)
	m.Map(addr, mem)
	return mem
}

// RegisterHostFunc installs f at addr. Jumping to addr runs f and returns to LR.
func (m *Machine) RegisterHostFunc(addr uint32, f HostFunc) {
	m.hosts[addr] = f
}

func (m *Machine) slice(addr uint32, size int) ([]byte, error) {
	for i := range m.regions {
		r := &m.regions[i]
		if addr >= r.base && uint64(addr)+uint64(size) <= uint64(r.base)+uint64(len(r.mem)) {
			off := addr - r.base
			return r.mem[off : off+uint32(size)], nil
		}
	}
	return nil, fmt.Errorf("unmapped access of %d bytes at %#x", size, addr)
}

// Load32 reads the word at addr.
func (m *Machine) Load32(addr uint32) (uint32, error) {
	b, err := m.slice(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Store32 writes the word at addr.
func (m *Machine) Store32(addr, v uint32) error {
	b, err := m.slice(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// Load64 reads the little endian double word at addr.
func (m *Machine) Load64(addr uint32) (uint64, error) {
	lo, err := m.Load32(addr)
	if err != nil {
		return 0, err
	}
	hi, err := m.Load32(addr + 4)
	return uint64(hi)<<32 | uint64(lo), err
}

// Store64 writes the little endian double word at addr.
func (m *Machine) Store64(addr uint32, v uint64) error {
	if err := m.Store32(addr, uint32(v)); err != nil {
		return err
	}
	return m.Store32(addr+4, uint32(v>>32))
}

// StackArg returns the word at SP+offset, as seen by a HostFunc.
func (m *Machine) StackArg(offset uint32) uint32 {
	v, err := m.Load32(m.R[sp] + offset)
	if err != nil {
		panic(err)
	}
	return v
}

// Call runs the code at entry with args in R0-R3 until it returns, and returns R0.
func (m *Machine) Call(entry uint32, args ...uint32) (uint32, error) {
	if len(args) > 4 {
		return 0, fmt.Errorf("too many arguments: %d", len(args))
	}
	for i, a := range args {
		m.R[i] = a
	}
	m.R[sp] = StackTop
	m.R[lr] = ReturnAddress
	m.R[pc] = entry
	if err := m.Run(); err != nil {
		return 0, err
	}
	return m.R[0], nil
}

// Run executes instructions from R15 until PC reaches ReturnAddress.
func (m *Machine) Run() error {
	for m.R[pc] != ReturnAddress {
		if m.Steps >= m.MaxSteps {
			return fmt.Errorf("step limit %d reached at %#x", m.MaxSteps, m.R[pc])
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step executes one instruction.
func (m *Machine) Step() error {
	at := m.R[pc]
	m.Steps++
	if f, ok := m.hosts[at]; ok {
		f(m)
		m.R[pc] = m.R[lr]
		return nil
	}
	w, err := m.Load32(at)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	m.R[pc] = at + 4
	if !m.passes(w >> 28) {
		return nil
	}
	if err := m.execute(w, at); err != nil {
		return fmt.Errorf("%#08x at %#x: %w", w, at, err)
	}
	return nil
}

func (m *Machine) passes(cond uint32) bool {
	switch cond {
	case 0x0:
		return m.Z
	case 0x1:
		return !m.Z
	case 0x2:
		return m.C
	case 0x3:
		return !m.C
	case 0x4:
		return m.N
	case 0x5:
		return !m.N
	case 0x6:
		return m.V
	case 0x7:
		return !m.V
	case 0x8:
		return m.C && !m.Z
	case 0x9:
		return !m.C || m.Z
	case 0xa:
		return m.N == m.V
	case 0xb:
		return m.N != m.V
	case 0xc:
		return !m.Z && m.N == m.V
	case 0xd:
		return m.Z || m.N != m.V
	default:
		return true
	}
}

// reg returns the value of register r read by the instruction at "at".
func (m *Machine) reg(r, at uint32) uint32 {
	if r == pc {
		return at + 8
	}
	return m.R[r]
}

func (m *Machine) execute(w, at uint32) error {
	switch {
	case w>>28 == 0xf:
		return errors.New("unsupported unconditional instruction")
	case w&0x0ffffff0 == 0x01200070:
		return ErrBreakpoint
	case w&0x0ffffff0 == 0x012fff10:
		m.R[pc] = m.R[w&0xf]
	case w&0x0ffffff0 == 0x012fff30:
		target := m.R[w&0xf]
		m.R[lr] = at + 4
		m.R[pc] = target
	case w&0x0fe000f0 == 0x00000090:
		m.mul(w)
	case w&0x0e000090 == 0x00000090 && w&0x60 != 0:
		return m.half(w, at)
	case w&0x0ff00000 == 0x03000000:
		m.R[(w>>12)&0xf] = (w>>4)&0xf000 | w&0xfff
	case w&0x0ff00000 == 0x03400000:
		rd := (w >> 12) & 0xf
		m.R[rd] = m.R[rd]&0xffff | ((w>>4)&0xf000|w&0xfff)<<16
	case (w>>26)&3 == 0:
		m.dataProcessing(w, at)
	case (w>>26)&3 == 1:
		return m.loadStore(w, at)
	case w&0x0e000000 == 0x08000000:
		return m.blockTransfer(w)
	case w&0x0e000000 == 0x0a000000:
		if w&(1<<24) != 0 {
			m.R[lr] = at + 4
		}
		m.R[pc] = at + 8 + uint32(int32(w<<8)>>6)
	case w&0x0fffffff == 0x0ef1fa10:
		m.N, m.Z, m.C, m.V = m.fN, m.fZ, m.fC, m.fV
	default:
		return m.vfp(w, at)
	}
	return nil
}

func (m *Machine) mul(w uint32) {
	rd, rs, rm := (w>>16)&0xf, (w>>8)&0xf, w&0xf
	res := m.R[rm] * m.R[rs]
	m.R[rd] = res
	if w&(1<<20) != 0 {
		m.N, m.Z = int32(res) < 0, res == 0
	}
}

// shift applies the barrel shifter and returns the result and the carry out.
func (m *Machine) shift(v uint32, typ, amount uint32, byReg bool) (uint32, bool) {
	if byReg {
		if amount == 0 {
			return v, m.C
		}
		switch typ {
		case 0:
			switch {
			case amount < 32:
				return v << amount, v&(1<<(32-amount)) != 0
			case amount == 32:
				return 0, v&1 != 0
			default:
				return 0, false
			}
		case 1:
			switch {
			case amount < 32:
				return v >> amount, v&(1<<(amount-1)) != 0
			case amount == 32:
				return 0, v&(1<<31) != 0
			default:
				return 0, false
			}
		case 2:
			if amount >= 32 {
				return uint32(int32(v) >> 31), v&(1<<31) != 0
			}
			return uint32(int32(v) >> amount), v&(1<<(amount-1)) != 0
		default:
			amount &= 31
			if amount == 0 {
				return v, v&(1<<31) != 0
			}
			return bits.RotateLeft32(v, -int(amount)), v&(1<<(amount-1)) != 0
		}
	}
	switch typ {
	case 0:
		if amount == 0 {
			return v, m.C
		}
		return v << amount, v&(1<<(32-amount)) != 0
	case 1:
		if amount == 0 {
			return 0, v&(1<<31) != 0
		}
		return v >> amount, v&(1<<(amount-1)) != 0
	case 2:
		if amount == 0 {
			return uint32(int32(v) >> 31), v&(1<<31) != 0
		}
		return uint32(int32(v) >> amount), v&(1<<(amount-1)) != 0
	default:
		if amount == 0 { // RRX
			var c uint32
			if m.C {
				c = 1 << 31
			}
			return c | v>>1, v&1 != 0
		}
		return bits.RotateLeft32(v, -int(amount)), v&(1<<(amount-1)) != 0
	}
}

func (m *Machine) dataProcessing(w, at uint32) {
	op, s := (w>>21)&0xf, w&(1<<20) != 0
	rn, rd := (w>>16)&0xf, (w>>12)&0xf

	var op2 uint32
	var carry bool
	if w&(1<<25) != 0 {
		rot := ((w >> 8) & 0xf) * 2
		op2 = bits.RotateLeft32(w&0xff, -int(rot))
		carry = m.C
		if rot != 0 {
			carry = op2&(1<<31) != 0
		}
	} else if w&(1<<4) != 0 {
		op2, carry = m.shift(m.reg(w&0xf, at), (w>>5)&3, m.R[(w>>8)&0xf]&0xff, true)
	} else {
		op2, carry = m.shift(m.reg(w&0xf, at), (w>>5)&3, (w>>7)&0x1f, false)
	}

	a := m.reg(rn, at)
	var res uint32
	logical := true
	var c, v bool
	sub := func(x, y uint32, borrowIn bool) uint32 {
		var b uint32
		if borrowIn {
			b = 1
		}
		r := x - y - b
		c = uint64(x) >= uint64(y)+uint64(b)
		v = ((x^y)&(x^r))>>31 != 0
		logical = false
		return r
	}
	add := func(x, y uint32, carryIn bool) uint32 {
		var ci uint32
		if carryIn {
			ci = 1
		}
		r := x + y + ci
		c = uint64(x)+uint64(y)+uint64(ci) > math.MaxUint32
		v = (^(x^y)&(x^r))>>31 != 0
		logical = false
		return r
	}
	switch op {
	case 0x0, 0x8:
		res = a & op2
	case 0x1, 0x9:
		res = a ^ op2
	case 0x2, 0xa:
		res = sub(a, op2, false)
	case 0x3:
		res = sub(op2, a, false)
	case 0x4, 0xb:
		res = add(a, op2, false)
	case 0x5:
		res = add(a, op2, m.C)
	case 0x6:
		res = sub(a, op2, !m.C)
	case 0x7:
		res = sub(op2, a, !m.C)
	case 0xc:
		res = a | op2
	case 0xd:
		res = op2
	case 0xe:
		res = a &^ op2
	case 0xf:
		res = ^op2
	}
	if s {
		m.N, m.Z = int32(res) < 0, res == 0
		if logical {
			m.C = carry
		} else {
			m.C, m.V = c, v
		}
	}
	if op < 0x8 || op > 0xb {
		m.R[rd] = res
	}
}

func (m *Machine) loadStore(w, at uint32) error {
	if w&(1<<24) == 0 || w&(1<<21) != 0 {
		return errors.New("unsupported addressing mode")
	}
	rn, rt := (w>>16)&0xf, (w>>12)&0xf
	var off uint32
	if w&(1<<25) != 0 {
		if w&0xff0 != 0 {
			return errors.New("unsupported shifted register offset")
		}
		off = m.R[w&0xf]
	} else {
		off = w & 0xfff
	}
	addr := m.reg(rn, at)
	if w&(1<<23) != 0 {
		addr += off
	} else {
		addr -= off
	}
	load, byteSized := w&(1<<20) != 0, w&(1<<22) != 0
	if byteSized {
		b, err := m.slice(addr, 1)
		if err != nil {
			return err
		}
		if load {
			m.R[rt] = uint32(b[0])
		} else {
			b[0] = byte(m.R[rt])
		}
		return nil
	}
	if load {
		v, err := m.Load32(addr)
		if err != nil {
			return err
		}
		m.R[rt] = v
		return nil
	}
	return m.Store32(addr, m.reg(rt, at))
}

func (m *Machine) half(w, at uint32) error {
	if w&(1<<24) == 0 || w&(1<<21) != 0 || w&(1<<22) == 0 {
		return errors.New("unsupported halfword addressing mode")
	}
	rn, rt := (w>>16)&0xf, (w>>12)&0xf
	off := (w>>4)&0xf0 | w&0xf
	addr := m.reg(rn, at)
	if w&(1<<23) != 0 {
		addr += off
	} else {
		addr -= off
	}
	load, op2 := w&(1<<20) != 0, (w>>5)&3
	switch {
	case !load && op2 == 1:
		b, err := m.slice(addr, 2)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(b, uint16(m.R[rt]))
	case load && op2 == 1:
		b, err := m.slice(addr, 2)
		if err != nil {
			return err
		}
		m.R[rt] = uint32(binary.LittleEndian.Uint16(b))
	case load && op2 == 2:
		b, err := m.slice(addr, 1)
		if err != nil {
			return err
		}
		m.R[rt] = uint32(int32(int8(b[0])))
	case load && op2 == 3:
		b, err := m.slice(addr, 2)
		if err != nil {
			return err
		}
		m.R[rt] = uint32(int32(int16(binary.LittleEndian.Uint16(b))))
	default:
		return errors.New("unsupported halfword instruction")
	}
	return nil
}

func (m *Machine) blockTransfer(w uint32) error {
	rn, list := (w>>16)&0xf, w&0xffff
	n := uint32(bits.OnesCount32(list))
	base := m.R[rn]
	var addr uint32
	switch (w >> 23) & 3 { // P, U
	case 0b01: // IA
		addr = base
	case 0b11: // IB
		addr = base + 4
	case 0b00: // DA
		addr = base - 4*n + 4
	case 0b10: // DB
		addr = base - 4*n
	}
	load := w&(1<<20) != 0
	var newPC uint32
	jump := false
	for r := uint32(0); r < 16; r++ {
		if list&(1<<r) == 0 {
			continue
		}
		if load {
			v, err := m.Load32(addr)
			if err != nil {
				return err
			}
			if r == pc {
				newPC, jump = v, true
			} else {
				m.R[r] = v
			}
		} else if err := m.Store32(addr, m.R[r]); err != nil {
			return err
		}
		addr += 4
	}
	if w&(1<<21) != 0 {
		if w&(1<<23) != 0 {
			m.R[rn] = base + 4*n
		} else {
			m.R[rn] = base - 4*n
		}
	}
	if jump {
		m.R[pc] = newPC
	}
	return nil
}

// S returns the single precision register n as raw bits.
func (m *Machine) S(n uint32) uint32 {
	d := m.D[n/2]
	if n&1 == 0 {
		return uint32(d)
	}
	return uint32(d >> 32)
}

// SetS sets the single precision register n to raw bits v.
func (m *Machine) SetS(n, v uint32) {
	d := &m.D[n/2]
	if n&1 == 0 {
		*d = *d&^0xffffffff | uint64(v)
	} else {
		*d = *d&0xffffffff | uint64(v)<<32
	}
}

// F64 returns D(n) as a float64.
func (m *Machine) F64(n int) float64 { return math.Float64frombits(m.D[n]) }

func (m *Machine) vfp(w, at uint32) error {
	dd, dn, dm := (w>>12)&0xf, (w>>16)&0xf, w&0xf
	f := func(r uint32) float64 { return math.Float64frombits(m.D[r]) }
	set := func(r uint32, v float64) { m.D[r] = math.Float64bits(v) }
	switch {
	case w&0x0f200f00 == 0x0d000b00:
		addr := m.reg(dn, at)
		if dn == pc {
			addr &^= 3
		}
		off := (w & 0xff) * 4
		if w&(1<<23) != 0 {
			addr += off
		} else {
			addr -= off
		}
		if w&(1<<20) != 0 {
			v, err := m.Load64(addr)
			if err != nil {
				return err
			}
			m.D[dd] = v
			return nil
		}
		return m.Store64(addr, m.D[dd])
	case w&0x0ff00ff0 == 0x0c500b10:
		m.R[dd], m.R[dn] = uint32(m.D[dm]), uint32(m.D[dm]>>32)
	case w&0x0ff00ff0 == 0x0c400b10:
		m.D[dm] = uint64(m.R[dn])<<32 | uint64(m.R[dd])
	case w&0x0ff00f7f == 0x0e000a10:
		m.SetS(dn<<1|(w>>7)&1, m.R[dd])
	case w&0x0ff00f7f == 0x0e100a10:
		m.R[dd] = m.S(dn<<1 | (w>>7)&1)
	case w&0x0fff0fd0 == 0x0eb80bc0:
		set(dd, float64(int32(m.S(dm<<1|(w>>5)&1))))
	case w&0x0fbf0fd0 == 0x0ebd0bc0:
		m.SetS(dd<<1|(w>>22)&1, uint32(toInt32(f(dm))))
	case w&0x0fff0ff0 == 0x0eb40b40:
		a, b := f(dd), f(dm)
		switch {
		case math.IsNaN(a) || math.IsNaN(b):
			m.fN, m.fZ, m.fC, m.fV = false, false, true, true
		case a == b:
			m.fN, m.fZ, m.fC, m.fV = false, true, true, false
		case a < b:
			m.fN, m.fZ, m.fC, m.fV = true, false, false, false
		default:
			m.fN, m.fZ, m.fC, m.fV = false, false, true, false
		}
	case w&0x0fff0ff0 == 0x0eb00b40:
		m.D[dd] = m.D[dm]
	case w&0x0fff0ff0 == 0x0eb10b40:
		m.D[dd] = m.D[dm] ^ 1<<63
	case w&0x0fff0ff0 == 0x0eb00bc0:
		m.D[dd] = m.D[dm] &^ (1 << 63)
	case w&0x0fff0ff0 == 0x0eb10bc0:
		set(dd, math.Sqrt(f(dm)))
	case w&0x0ff00ff0 == 0x0e300b00:
		set(dd, f(dn)+f(dm))
	case w&0x0ff00ff0 == 0x0e300b40:
		set(dd, f(dn)-f(dm))
	case w&0x0ff00ff0 == 0x0e200b00:
		set(dd, f(dn)*f(dm))
	case w&0x0ff00ff0 == 0x0e800b00:
		set(dd, f(dn)/f(dm))
	default:
		return errors.New("unsupported instruction")
	}
	return nil
}

// toInt32 converts like VCVT.S32.F64: toward zero, saturating, NaN to zero.
func toInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}
