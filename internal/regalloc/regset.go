// Package regalloc provides the register bookkeeping used by the backward code generator:
// register sets, the free/active register state, reservations and stack slots.
package regalloc

import (
	"math/bits"
	"strings"

	"github.com/tetratelabs/armjit/internal/asm/arm"
)

// RegSet represents a set of registers. Bit i is arm.Register(i): general purpose registers
// occupy bits 0-15 and VFP registers bits 16-31.
type RegSet uint64

const (
	// GPRegs is the set of all general purpose registers.
	GPRegs RegSet = 0xffff
	// VFPRegs is the set of all VFP double precision registers.
	VFPRegs RegSet = 0xffff << 16
)

// NewRegSet returns a new RegSet with the given registers.
func NewRegSet(regs ...arm.Register) RegSet {
	var ret RegSet
	for _, r := range regs {
		ret = ret.Add(r)
	}
	return ret
}

// Has returns true if r is in the set.
func (rs RegSet) Has(r arm.Register) bool {
	return r < 64 && rs&(1<<uint(r)) != 0
}

// Add returns the set with r added.
func (rs RegSet) Add(r arm.Register) RegSet {
	if r >= 64 {
		return rs
	}
	return rs | 1<<uint(r)
}

// Remove returns the set with r removed.
func (rs RegSet) Remove(r arm.Register) RegSet {
	if r >= 64 {
		return rs
	}
	return rs &^ (1 << uint(r))
}

// Empty returns true if the set has no register.
func (rs RegSet) Empty() bool { return rs == 0 }

// Len returns the number of registers in the set.
func (rs RegSet) Len() int { return bits.OnesCount64(uint64(rs)) }

// Highest returns the register with the highest number in the set, or arm.NilRegister.
func (rs RegSet) Highest() arm.Register {
	if rs == 0 {
		return arm.NilRegister
	}
	return arm.Register(63 - bits.LeadingZeros64(uint64(rs)))
}

// Range calls f for each register of the set in increasing order.
func (rs RegSet) Range(f func(r arm.Register)) {
	for rest := uint64(rs); rest != 0; rest &= rest - 1 {
		f(arm.Register(bits.TrailingZeros64(rest)))
	}
}

// String implements fmt.Stringer.
func (rs RegSet) String() string {
	var ret []string
	rs.Range(func(r arm.Register) {
		ret = append(ret, r.String())
	})
	return "{" + strings.Join(ret, ", ") + "}"
}

var (
	// CallerSaved are the registers a call may clobber.
	CallerSaved = NewRegSet(arm.R0, arm.R1, arm.R2, arm.R3, arm.IP, arm.LR,
		arm.D0, arm.D1, arm.D2, arm.D3, arm.D4, arm.D5, arm.D6, arm.D7)
	// CalleeSaved are the general purpose registers saved by the fragment prologue.
	CalleeSaved = NewRegSet(arm.R4, arm.R5, arm.R6, arm.R7, arm.R8, arm.R9, arm.R10)
	// ArgRegs are the argument registers in order.
	ArgRegs = [...]arm.Register{arm.R0, arm.R1, arm.R2, arm.R3}
)

// AllocatableSet returns the registers available to the allocator: R0-R10, plus D0-D6 when
// VFP is present. FP, IP, SP, LR, PC and D7 (the VFP scratch) are never allocated.
func AllocatableSet(vfp bool) RegSet {
	ret := NewRegSet(arm.R0, arm.R1, arm.R2, arm.R3, arm.R4, arm.R5, arm.R6, arm.R7, arm.R8, arm.R9, arm.R10)
	if vfp {
		ret |= NewRegSet(arm.D0, arm.D1, arm.D2, arm.D3, arm.D4, arm.D5, arm.D6)
	}
	return ret
}
