package arm

import (
	"fmt"

	asm_arm "github.com/tetratelabs/armjit/internal/asm/arm"
	"github.com/tetratelabs/armjit/lir"
)

// jmpFar emits a jump to target which can later be redirected anywhere without changing its
// size: "b target; bkpt" when target is in range, "ldr pc, [pc, #-4]; .word target" otherwise.
// A zero target always takes the long form. It returns the address of the jump.
func (a *Assembler) jmpFar(target uintptr) uintptr {
	a.e.Reserve(2)
	site := a.e.Here() - 2*asm_arm.InstructionSize
	if target != 0 && asm_arm.BranchInRange(site, target) {
		a.put(asm_arm.BKPT)
		a.put(asm_arm.EncodeBranch(asm_arm.AL, false, site, target))
	} else {
		a.put(asm_arm.AbsoluteAddress(target))
		a.put(asm_arm.LongJump)
	}
	return site
}

// branchCond emits a jump to target taken when cc holds. Out of range, it takes the form
//
//	ldr<cc> pc, [pc, #0]
//	b       1f
//	.word   target
//	1:
//
// which is never patched.
func (a *Assembler) branchCond(cc asm_arm.Cond, target uintptr) {
	a.e.Reserve(3)
	h := a.e.Here()
	if at := h - asm_arm.InstructionSize; asm_arm.BranchInRange(at, target) {
		a.put(asm_arm.EncodeBranch(cc, false, at, target))
		return
	}
	a.put(asm_arm.AbsoluteAddress(target))
	a.put(asm_arm.EncodeBranch(asm_arm.AL, false, h-8, h))
	a.put(asm_arm.EncodeLongJumpCond(cc, 0))
}

// Patch redirects the far jump at site to target and returns its previous target. The jump keeps
// its size, and the instruction cache is flushed for both of its words.
//
// Patching anything but a jump emitted by jmpFar, in particular a conditional branch, is a bug.
func (a *Assembler) Patch(site, target uintptr) (old uintptr, err error) {
	w := a.e.Word(site)
	switch {
	case w == asm_arm.LongJump:
		old = uintptr(a.e.Word(site + asm_arm.InstructionSize))
	case asm_arm.IsLongJump(w):
		bug("conditional long jump at %#x cannot be patched", site)
	case asm_arm.IsBranch(w):
		if asm_arm.CondOf(w) != asm_arm.AL {
			bug("conditional branch at %#x cannot be patched", site)
		}
		if asm_arm.IsBranchLink(w) {
			bug("call at %#x cannot be patched", site)
		}
		if next := a.e.Word(site + asm_arm.InstructionSize); next != asm_arm.BKPT {
			bug("branch at %#x is followed by %#08x instead of a breakpoint", site, next)
		}
		old = asm_arm.DecodeBranchTarget(w, site)
	default:
		bug("%#08x at %#x is not a jump", w, site)
	}
	words := [2]uint32{asm_arm.LongJump, asm_arm.AbsoluteAddress(target)}
	if asm_arm.BranchInRange(site, target) {
		words = [2]uint32{asm_arm.EncodeBranch(asm_arm.AL, false, site, target), asm_arm.BKPT}
	}
	if err = a.e.Rewrite(site, words[:]...); err != nil {
		return 0, fmt.Errorf("patching jump at %#x: %w", site, err)
	}
	a.logger.Debug("patched jump", "site", fmt.Sprintf("%#x", site),
		"old", fmt.Sprintf("%#x", old), "new", fmt.Sprintf("%#x", target))
	return old, nil
}

// patch is Patch during a compilation, where the pages are writable.
func (a *Assembler) patch(site, target uintptr) {
	if _, err := a.Patch(site, target); err != nil {
		panic(err)
	}
}

// Resolve redirects every exit waiting for f to be compiled to the entry of f.
func (a *Assembler) Resolve(f *lir.Fragment) error {
	if !f.Compiled() {
		return fmt.Errorf("resolving fragment %d: not compiled", f.ID)
	}
	sites := a.pending[f.ID]
	for i, site := range sites {
		if _, err := a.Patch(site, f.Entry); err != nil {
			a.pending[f.ID] = sites[i:]
			return fmt.Errorf("resolving fragment %d: %w", f.ID, err)
		}
	}
	delete(a.pending, f.ID)
	if len(sites) > 0 {
		a.logger.Debug("resolved fragment", "id", f.ID, "sites", len(sites))
	}
	return nil
}
