package regalloc

import "github.com/tetratelabs/armjit/internal/asm/arm"

// Reservation is where a value lives: in a register, in a stack slot, or both.
type Reservation struct {
	// Reg is the register holding the value, arm.NilRegister if none.
	Reg arm.Register
	// Disp is the FP-relative displacement of the stack slot, zero if none.
	Disp int32
}

// NewReservation returns a Reservation with neither register nor slot.
func NewReservation() Reservation { return Reservation{Reg: arm.NilRegister} }

// HasReg returns true if the value is in a register.
func (r *Reservation) HasReg() bool { return r.Reg != arm.NilRegister }

// HasSlot returns true if the value has a stack slot.
func (r *Reservation) HasSlot() bool { return r.Disp != 0 }
