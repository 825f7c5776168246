package arm

import (
	asm_arm "github.com/tetratelabs/armjit/internal/asm/arm"
	"github.com/tetratelabs/armjit/internal/regalloc"
	"github.com/tetratelabs/armjit/lir"
)

// A compiled fragment is laid out as
//
//	start: push {r4-r10, fp, lr}
//	       mov  fp, sp
//	entry: sub  sp, sp, #amt
//	       <parameters>
//	body:  ...
//	       <final exit>
//	epilogue:
//	       mov  r0, r2
//	       mov  sp, fp
//	       pop  {r4-r10, fp, pc}
//
// Fragments with the same ExplicitSavedRegs push the same registers, so that a fragment jumping
// into another one leaves the frame in the state the epilogue of the other expects: exits reset
// SP to FP and jump to the entry of the target, which allocates its own stack area below FP.
// Exits to a fragment with the other frame shape are never linked and leave through the epilogue.

func (a *Assembler) genEpilogue() {
	a.put(asm_arm.EncodePop(asm_arm.AL, asm_arm.RegisterList(append(a.savedRegs(), asm_arm.FP, asm_arm.PC)...)))
	a.put(asm_arm.EncodeMov(asm_arm.AL, asm_arm.SP, asm_arm.FP))
	a.put(asm_arm.EncodeMov(asm_arm.AL, asm_arm.R0, asm_arm.R2))
	a.epilogue = a.e.Here()
}

// genPrologue emits the frame setup ending at bodyStart and returns the start and the entry of
// the fragment.
func (a *Assembler) genPrologue(bodyStart uintptr) (start, entry uintptr) {
	saved := a.savedRegs()
	pushed := int32(4 * (len(saved) + 2))
	amt := alignUp(int32(4*a.frame.Slots())+a.maxOutgoing+pushed, 8) - pushed
	entry = bodyStart
	if amt > 0 {
		a.aluImm(asm_arm.SUB, asm_arm.SP, asm_arm.SP, uint32(amt))
		entry = a.e.Here()
	}
	a.put(asm_arm.EncodeMov(asm_arm.AL, asm_arm.FP, asm_arm.SP))
	a.put(asm_arm.EncodePush(asm_arm.AL, asm_arm.RegisterList(append(saved, asm_arm.FP, asm_arm.LR)...)))
	return a.e.Here(), entry
}

func alignUp(v, align int32) int32 { return (v + align - 1) &^ (align - 1) }

// genParams defines the parameters from the argument registers, where they are at the entry.
func (a *Assembler) genParams() {
	var moves []move
	for _, p := range a.params {
		if r := a.res(p); r.HasReg() {
			moves = append(moves, move{dst: r.Reg, src: regalloc.ArgRegs[p.Imm]})
		}
	}
	a.emitMoves(moves)
	// Slots are filled first, while the argument registers are intact.
	for _, p := range a.params {
		if r := a.res(p); r.HasSlot() {
			a.storeSlot(regalloc.ArgRegs[p.Imm], r.Disp)
		}
		a.freeResourcesOf(p)
	}
	if used := a.regs.Used(); !used.Empty() {
		bug("%s still allocated at the entry of fragment %d", used, a.frag.ID)
	}
}

// genExit emits the code leaving the fragment through g and returns its address. Guards put it
// out of line in the exit pages, the final exit inline.
//
//	compiled target:  mov sp, fp; b target.entry
//	other:            mov sp, fp; r2 = payload; b epilogue   (patched once the target is compiled)
//	loop:             r0-r3 = parameters; b body
func (a *Assembler) genExit(g *lir.GuardRecord, outOfLine bool) uintptr {
	if outOfLine {
		a.e.SwapToExit()
		defer a.e.SwapToCode()
	}
	var target *lir.Fragment
	if g.Exit != nil {
		target = g.Exit.Target
	}
	if target != nil && target.ExplicitSavedRegs != a.frag.ExplicitSavedRegs {
		a.logger.Debug("exit not linked: frame shapes differ", "id", a.frag.ID, "target", target.ID)
		target = nil
	}
	var site uintptr
	switch {
	case target == a.frag:
		a.loopSites = append(a.loopSites, a.jmpFar(0))
		a.forwardParams()
	case target != nil && target.Compiled():
		a.jmpFar(target.Entry)
		a.put(asm_arm.EncodeMov(asm_arm.AL, asm_arm.SP, asm_arm.FP))
	default:
		site = a.jmpFar(a.epilogue)
		a.loadImm(asm_arm.R2, g.Payload)
		a.put(asm_arm.EncodeMov(asm_arm.AL, asm_arm.SP, asm_arm.FP))
		if target != nil {
			a.newPending = append(a.newPending, pendingSite{target: target.ID, site: site})
		}
	}
	stub := a.e.Here()
	a.newExits = append(a.newExits, emittedExit{stub: stub, site: site, guard: g})
	return stub
}

// forwardParams passes the parameters of the fragment back in R0-R3 when it loops.
func (a *Assembler) forwardParams() {
	var moves []move
	var loads []move
	for _, p := range a.params {
		k, r := regalloc.ArgRegs[p.Imm], a.res(p)
		switch {
		case r.HasReg():
			moves = append(moves, move{dst: k, src: r.Reg})
		case !a.e.InExit():
			// Nothing follows the final exit, so the parameter can simply stay in its register
			// for the whole loop body.
			a.regs.Assign(k, p)
			r.Reg = k
		default:
			loads = append(loads, move{dst: k, disp: a.slotFor(p)})
		}
	}
	for _, l := range loads {
		a.loadSlot(l.dst, l.disp)
	}
	a.emitMoves(moves)
}

// move is a register to register copy, or a load from a stack slot when src is unset.
type move struct {
	dst, src asm_arm.Register
	disp     int32
}

// emitMoves emits the register copies of moves as if they all happened at once.
func (a *Assembler) emitMoves(moves []move) {
	seq := sequenceMoves(moves)
	for i := len(seq) - 1; i >= 0; i-- {
		a.mov(seq[i].dst, seq[i].src)
	}
}

// sequenceMoves orders parallel moves with distinct destinations so that no source is
// overwritten before it is read, breaking cycles through IP. The result is in execution order.
func sequenceMoves(moves []move) (seq []move) {
	var pending []move
	for _, m := range moves {
		if m.dst != m.src {
			pending = append(pending, m)
		}
	}
	isSource := func(r asm_arm.Register, except int) bool {
		for i, m := range pending {
			if i != except && m.src == r {
				return true
			}
		}
		return false
	}
	for len(pending) > 0 {
		progress := false
		for i := 0; i < len(pending); i++ {
			if m := pending[i]; !isSource(m.dst, i) {
				seq = append(seq, m)
				pending = append(pending[:i], pending[i+1:]...)
				i--
				progress = true
			}
		}
		if progress {
			continue
		}
		// Only cycles are left: save one destination to IP and read it from there.
		saved := pending[0].dst
		seq = append(seq, move{dst: valueScratch, src: saved})
		for i := range pending {
			if pending[i].src == saved {
				pending[i].src = valueScratch
			}
		}
	}
	return seq
}
