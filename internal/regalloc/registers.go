package regalloc

import (
	"fmt"

	"github.com/tetratelabs/armjit/internal/asm/arm"
)

// Registers tracks which of the managed registers are free, and which value of type V
// occupies each of the others. A managed register is free exactly when it holds no value.
type Registers[V comparable] struct {
	free, managed RegSet
	active        [32]V
}

// NewRegisters returns Registers where all of managed are free.
func NewRegisters[V comparable](managed RegSet) *Registers[V] {
	r := &Registers[V]{}
	r.Reset(managed)
	return r
}

// Reset forgets every assignment and makes all of managed free.
func (r *Registers[V]) Reset(managed RegSet) {
	if managed&^(GPRegs|VFPRegs) != 0 {
		panic(fmt.Sprintf("BUG: invalid managed set %#x", uint64(managed)))
	}
	var zero V
	for i := range r.active {
		r.active[i] = zero
	}
	r.free, r.managed = managed, managed
}

// Free returns the set of free registers.
func (r *Registers[V]) Free() RegSet { return r.free }

// Managed returns the set of managed registers.
func (r *Registers[V]) Managed() RegSet { return r.managed }

// Used returns the set of registers holding a value.
func (r *Registers[V]) Used() RegSet { return r.managed &^ r.free }

// IsFree returns true if reg is managed and holds no value.
func (r *Registers[V]) IsFree(reg arm.Register) bool { return r.free.Has(reg) }

// Active returns the value held by reg, or the zero value.
func (r *Registers[V]) Active(reg arm.Register) V {
	if reg >= arm.Register(len(r.active)) {
		var zero V
		return zero
	}
	return r.active[reg]
}

// Hint narrows allowed toward preferred when some preferred register is allowed and free.
func (r *Registers[V]) Hint(preferred, allowed RegSet) RegSet {
	if p := preferred & allowed & r.free; p != 0 {
		return p
	}
	return allowed
}

// AllocateFromMask assigns v to the highest numbered free register in mask.
// ok is false when no register of mask is free.
func (r *Registers[V]) AllocateFromMask(mask RegSet, v V) (reg arm.Register, ok bool) {
	avail := r.free & mask
	if avail == 0 {
		return arm.NilRegister, false
	}
	reg = avail.Highest()
	r.Assign(reg, v)
	return reg, true
}

// Assign records that reg, which must be free, now holds v.
func (r *Registers[V]) Assign(reg arm.Register, v V) {
	if !r.free.Has(reg) {
		panic(fmt.Sprintf("BUG: %s is not free", reg))
	}
	var zero V
	if v == zero {
		panic(fmt.Sprintf("BUG: assigning no value to %s", reg))
	}
	r.free = r.free.Remove(reg)
	r.active[reg] = v
}

// Retire frees reg and returns the value it held.
func (r *Registers[V]) Retire(reg arm.Register) V {
	if !r.managed.Has(reg) || r.free.Has(reg) {
		panic(fmt.Sprintf("BUG: %s is not in use", reg))
	}
	var zero V
	v := r.active[reg]
	r.active[reg] = zero
	r.free = r.free.Add(reg)
	return v
}

// Check panics if the free set and the active values disagree.
func (r *Registers[V]) Check() {
	var zero V
	r.managed.Range(func(reg arm.Register) {
		if r.free.Has(reg) != (r.active[reg] == zero) {
			panic(fmt.Sprintf("BUG: %s free=%v but holds %v", reg, r.free.Has(reg), r.active[reg]))
		}
	})
}
