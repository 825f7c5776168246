package codepage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/armjit/internal/asm/arm"
)

const testPageSize = MinPageSize

// marker returns a distinct non-branch instruction word for i < 4096.
func marker(i int) uint32 {
	return arm.EncodeDataProcessingImm(arm.AL, arm.ADD, false, arm.R0, arm.R0, uint32(i)&0xff, (uint32(i)>>8)*2)
}

// walk follows the execution order from addr for n non-link words, stepping over the page links.
func walk(t *testing.T, e *Emitter, addr uintptr, n int) (ret []uint32) {
	for len(ret) < n {
		w := e.Word(addr)
		switch {
		case arm.IsBranch(w):
			addr = arm.DecodeBranchTarget(w, addr)
		case w == arm.LongJump:
			addr = uintptr(e.Word(addr + 4))
		default:
			ret = append(ret, w)
			addr += 4
		}
	}
	return
}

func TestStore_Reserve_firstPage(t *testing.T) {
	a := NewHeapAllocator(testPageSize, 0, DefaultSimulatedBase, 0)
	e := NewEmitter(a, nil)
	s := e.Code()
	require.Nil(t, s.Current())
	require.Zero(t, s.Available())

	s.Reserve(4)
	p := s.Current()
	require.NotNil(t, p)
	require.Equal(t, uintptr(DefaultSimulatedBase), p.Addr())
	require.Equal(t, p.Top(), s.Here())
	require.Equal(t, p.Addr()+HeaderSize, s.Literal())
	require.Equal(t, (testPageSize-HeaderSize)/4, s.Available())
	require.Equal(t, uint32(0), p.Word(p.Addr()))
	require.Equal(t, uint32(headerMagic), p.Word(p.Addr()+4))

	// Enough room: no new page.
	s.Reserve(LargestUnderrunProtection)
	require.Equal(t, p, s.Current())
	require.Equal(t, 1, a.Live())
}

func TestStore_Reserve_invalid(t *testing.T) {
	e := NewEmitter(NewHeapAllocator(testPageSize, 0, DefaultSimulatedBase, 0), nil)
	require.Panics(t, func() { e.Reserve(0) })
	require.Panics(t, func() { e.Reserve(LargestUnderrunProtection + 1) })
}

func TestStore_overflow(t *testing.T) {
	for _, tc := range []struct {
		name     string
		stride   uintptr
		longLink bool
	}{
		{name: "adjacent pages", stride: 0},
		{name: "distant pages", stride: 0x0400_0000, longLink: true},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			a := NewHeapAllocator(testPageSize, 0, DefaultSimulatedBase, tc.stride)
			e := NewEmitter(a, nil)
			s := e.Code()

			capacity := (testPageSize - HeaderSize) / 4
			for i := 0; i < capacity; i++ {
				s.Put(marker(i))
			}
			first := s.Current()
			require.Zero(t, s.Available())
			lastOnFirst := s.Here()

			s.Put(marker(capacity))
			second := s.Current()
			require.NotEqual(t, first, second)
			require.Equal(t, []*Page{first, second}, s.Pages())
			require.Equal(t, uint32(first.Addr()), second.Word(second.Addr()))

			if tc.longLink {
				require.Equal(t, arm.LongJump, second.Word(second.Top()-8))
				require.Equal(t, uint32(lastOnFirst), second.Word(second.Top()-4))
				require.Equal(t, second.Top()-12, s.Here())
			} else {
				w := second.Word(second.Top() - 4)
				require.True(t, arm.IsBranch(w))
				require.Equal(t, lastOnFirst, arm.DecodeBranchTarget(w, second.Top()-4))
				require.Equal(t, second.Top()-8, s.Here())
			}
		})
	}
}

func TestStore_equivalentToInfinitePage(t *testing.T) {
	for _, stride := range []uintptr{0, 0x0400_0000} {
		a := NewHeapAllocator(testPageSize, 0, DefaultSimulatedBase, stride)
		e := NewEmitter(a, nil)
		s := e.Code()

		const n = 1000
		var literals []uintptr
		for i := 0; i < n; i++ {
			if i%7 == 0 {
				// Instruction + literal pair as the constant loader does.
				s.Reserve(2)
				literals = append(literals, s.PutLiteral(uint32(i)))
			}
			s.Put(marker(i))
			require.LessOrEqual(t, s.Literal(), s.Here())
		}
		require.Greater(t, len(s.Pages()), 1)

		got := walk(t, e, s.Here(), n)
		for i := 0; i < n; i++ {
			require.Equal(t, marker(n-1-i), got[i], i)
		}
		for i, l := range literals {
			require.Equal(t, uint32(i*7), e.Word(l))
		}
	}
}

func TestStore_SkipLiterals(t *testing.T) {
	e := NewEmitter(NewHeapAllocator(testPageSize, 0, DefaultSimulatedBase, 0), nil)
	s := e.Code()
	s.Reserve(2)
	to := s.Literal() + 16
	s.SkipLiterals(to)
	require.Equal(t, to, s.PutLiteral(1))
	require.Panics(t, func() { s.SkipLiterals(to) })
	require.Panics(t, func() { s.SkipLiterals(s.Here() + 4) })
}

func TestStore_PutLiteral_overflow(t *testing.T) {
	e := NewEmitter(NewHeapAllocator(testPageSize, 0, DefaultSimulatedBase, 0), nil)
	s := e.Code()
	require.Panics(t, func() { s.PutLiteral(1) })
	s.Reserve(1)
	for s.Available() > 0 {
		s.PutLiteral(0)
	}
	require.Equal(t, s.Literal(), s.Here())
	require.Panics(t, func() { s.PutLiteral(1) })
}

func TestEmitter_ResetInstructionPointer(t *testing.T) {
	a := NewHeapAllocator(testPageSize, 0, DefaultSimulatedBase, 0)
	e := NewEmitter(a, nil)
	e.Put(marker(0))
	e.SwapToExit()
	e.Put(marker(1))
	e.SwapToCode()

	codeHere, exitHere, lit := e.Code().Here(), e.Exit().Here(), e.Code().Literal()
	e.RecordStartingInstructionPointer()
	for i := 0; i < 200; i++ {
		e.Put(marker(i))
	}
	e.SwapToExit()
	for i := 0; i < 100; i++ {
		e.Put(marker(i))
	}
	require.Greater(t, a.Live(), 4)

	require.NoError(t, e.ResetInstructionPointer())
	require.False(t, e.InExit())
	require.Equal(t, 2, a.Live())
	require.Len(t, e.Pages(), 2)
	require.Equal(t, codeHere, e.Code().Here())
	require.Equal(t, exitHere, e.Exit().Here())
	require.Equal(t, lit, e.Code().Literal())
	require.Equal(t, marker(0), e.Word(codeHere))
	require.Equal(t, marker(1), e.Word(exitHere))

	require.NoError(t, e.Close())
	require.Zero(t, a.Live())
	require.Empty(t, e.Pages())
}

func TestEmitter_outOfMemory(t *testing.T) {
	a := NewHeapAllocator(testPageSize, 1, DefaultSimulatedBase, 0)
	e := NewEmitter(a, nil)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = r.(error)
			}
		}()
		for i := 0; ; i++ {
			e.Put(marker(i))
		}
	}()
	require.True(t, errors.Is(err, ErrOutOfExecutableMemory), err)
	require.Equal(t, 1, a.Live())
}

func TestEmitter_stores(t *testing.T) {
	e := NewEmitter(NewHeapAllocator(testPageSize, 0, DefaultSimulatedBase, 0), nil)
	require.Panics(t, e.SwapToCode)
	code := e.Put(marker(1))
	e.SwapToExit()
	require.Panics(t, e.SwapToExit)
	require.True(t, e.InExit())
	exit := e.Put(marker(2))
	e.SwapToCode()

	require.NotEqual(t, e.PageOf(code), e.PageOf(exit))
	require.False(t, e.PageOf(code).Exit())
	require.True(t, e.PageOf(exit).Exit())
	require.Equal(t, uint32(headerMagic|1), e.Word(e.PageOf(exit).Addr()+4))
	require.Nil(t, e.PageOf(0x10))
	require.Panics(t, func() { e.Word(0x10) })
}

func TestEmitter_Rewrite(t *testing.T) {
	a := NewHeapAllocator(testPageSize, 0, DefaultSimulatedBase, 0)
	e := NewEmitter(a, nil)
	e.Put(arm.BKPT)
	at := e.Put(marker(1))
	require.NoError(t, e.Seal())
	p := e.PageOf(at)
	require.True(t, p.Executable())
	require.Equal(t, []Range{{Addr: p.Addr(), Size: testPageSize}}, a.Flushes)

	require.Panics(t, func() { e.Put(marker(2)) })

	require.NoError(t, e.Rewrite(at, marker(3), marker(4)))
	require.True(t, p.Executable())
	require.Equal(t, marker(3), e.Word(at))
	require.Equal(t, marker(4), e.Word(at+4))
	require.Equal(t, Range{Addr: at, Size: 8}, a.Flushes[len(a.Flushes)-1])

	require.Panics(t, func() { _ = e.Rewrite(p.Top()-4, 1, 2) })

	require.NoError(t, e.Unseal())
	require.False(t, p.Executable())
	e.Put(marker(5))
}

func TestEmitter_Unseal(t *testing.T) {
	a := NewHeapAllocator(testPageSize, 0, DefaultSimulatedBase, 0)
	e := NewEmitter(a, nil)
	for i := 0; len(e.Code().Pages()) < 2; i++ {
		e.Put(marker(i))
	}
	e.SwapToExit()
	e.Put(marker(0))
	e.SwapToCode()
	require.NoError(t, e.Seal())
	for _, p := range e.Pages() {
		require.True(t, p.Executable())
	}

	require.NoError(t, e.Unseal())
	first, cur := e.Code().Pages()[0], e.Code().Current()
	require.NotEqual(t, first, cur)
	require.True(t, first.Executable())
	require.False(t, cur.Executable())
	require.False(t, e.Exit().Current().Executable())

	require.NoError(t, e.Seal())
	require.True(t, cur.Executable())
}

func TestNewPage_invalid(t *testing.T) {
	require.Panics(t, func() { NewPage(make([]byte, 100), 0) })
	require.Panics(t, func() { NewPage(make([]byte, testPageSize), 0x80) })
	require.NotPanics(t, func() { NewPage(make([]byte, testPageSize), 0x100) })
}

func TestHeapAllocator(t *testing.T) {
	a := NewHeapAllocator(testPageSize, 2, 0x2000, 0x1000)
	p1, err := a.AllocPage()
	require.NoError(t, err)
	p2, err := a.AllocPage()
	require.NoError(t, err)
	require.Equal(t, uintptr(0x2000), p1.Addr())
	require.Equal(t, uintptr(0x3000), p2.Addr())
	_, err = a.AllocPage()
	require.ErrorIs(t, err, ErrOutOfExecutableMemory)

	require.NoError(t, a.FreePage(p1))
	p3, err := a.AllocPage()
	require.NoError(t, err)
	require.Equal(t, uintptr(0x4000), p3.Addr())

	require.Panics(t, func() { NewHeapAllocator(100, 0, 0, 0) })
	require.Panics(t, func() { NewHeapAllocator(testPageSize, 0, 0x10, 0) })
}
