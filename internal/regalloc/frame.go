package regalloc

import "fmt"

// StackFrame hands out the spill slots of a fragment. Slot i is the 4-byte word at
// FP-4*(i+1); 8-byte values take two slots starting at an even index.
type StackFrame struct {
	used []bool
}

// Reset frees every slot and forgets the high water mark.
func (f *StackFrame) Reset() { f.used = f.used[:0] }

// Slots returns the number of 4-byte slots the frame needs so far.
func (f *StackFrame) Slots() int { return len(f.used) }

// Alloc reserves a slot for a value of size 4 or 8 and returns its FP-relative displacement.
func (f *StackFrame) Alloc(size int) int32 {
	n := slotsOf(size)
	i := 0
	for ; ; i += n {
		for len(f.used) < i+n {
			f.used = append(f.used, false)
		}
		if !f.used[i] && (n == 1 || !f.used[i+1]) {
			break
		}
	}
	for j := i; j < i+n; j++ {
		f.used[j] = true
	}
	return -4 * int32(i+n)
}

// Free releases the slot at disp previously returned by Alloc(size).
func (f *StackFrame) Free(disp int32, size int) {
	n := slotsOf(size)
	i := int(-disp/4) - n
	if disp >= 0 || disp&3 != 0 || i < 0 || i+n > len(f.used) {
		panic(fmt.Sprintf("BUG: invalid slot displacement %d", disp))
	}
	for j := i; j < i+n; j++ {
		if !f.used[j] {
			panic(fmt.Sprintf("BUG: double free of slot %d", disp))
		}
		f.used[j] = false
	}
}

func slotsOf(size int) int {
	switch size {
	case 4:
		return 1
	case 8:
		return 2
	default:
		panic(fmt.Sprintf("BUG: invalid slot size %d", size))
	}
}
