package arm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/armjit/internal/abi"
	asm_arm "github.com/tetratelabs/armjit/internal/asm/arm"
	"github.com/tetratelabs/armjit/internal/testing/armsim"
	"github.com/tetratelabs/armjit/lir"
)

const hostAddr = 0x2000_0000

// argWords reads an argument as the called function sees it.
func argWords(m *armsim.Machine, loc abi.ArgLocation) (lo, hi uint32) {
	word := func(i int) uint32 {
		if r := loc.Regs[i]; r != asm_arm.NilRegister {
			return m.R[r]
		}
		return m.StackArg(uint32(loc.StackOffset + 4*int32(i-loc.RegWords())))
	}
	lo = word(0)
	if loc.Type.Is64() {
		hi = word(1)
	}
	return
}

// clobber trashes the registers a called function may change.
func clobber(m *armsim.Machine) {
	for _, r := range []int{1, 2, 3, 12} {
		m.R[r] = 0xdeadbeef
	}
	for d := 0; d < 8; d++ {
		m.D[d] = 0x7ff8dead7ff8dead
	}
}

func TestAssembler_Compile_callIntegers(t *testing.T) {
	ci := &lir.CallInfo{
		Name: "sum6",
		Addr: hostAddr,
		Args: []lir.Type{lir.TypeI, lir.TypeI, lir.TypeI, lir.TypeI, lir.TypeI, lir.TypeI},
		Ret:  lir.TypeI,
	}
	for _, variant := range []abi.Variant{abi.EABI, abi.Legacy} {
		for _, c := range testConfigs {
			cfg := c.cfg
			cfg.ABI = variant
			t.Run(variant.String()+"/"+c.name, func(t *testing.T) {
				a, _ := newTestAssembler(t, cfg)
				f := compile(t, a, 1, func(b *lir.Builder) {
					p := b.Param(0)
					x := b.Load(lir.OpLdI, p, 8)
					three := b.Load(lir.OpLdI, p, 0)
					r1 := b.Call(ci, p, b.ImmI(2), three, b.Ins2(lir.OpAddI, three, b.ImmI(1)),
						b.ImmI(0x12345678), b.Load(lir.OpLdI, p, 4))
					r2 := b.Call(ci, r1, r1, x, p, r1, x)
					b.Store(lir.OpStI, b.Ins2(lir.OpAddI, r2, x), p, 0x10)
					b.Store(lir.OpStI, r1, p, 0x14)
					b.Exit(nil, 0)
				})

				m, _ := newMachine()
				locs, _ := cfg.ABI.Layout(ci.Args)
				m.RegisterHostFunc(hostAddr, func(m *armsim.Machine) {
					var sum uint32
					for i, loc := range locs {
						v, _ := argWords(m, loc)
						sum += uint32(i+1) * v
					}
					clobber(m)
					m.R[0] = sum
				})
				require.NoError(t, m.Store32(dataBase, 3))
				require.NoError(t, m.Store32(dataBase+4, 6))
				require.NoError(t, m.Store32(dataBase+8, 0x100))
				run(t, a, m, f.Start, dataBase)

				r1 := dataBase + 2*2 + 3*3 + 4*4 + 5*uint32(0x12345678) + 6*6
				r2 := r1 + 2*r1 + 3*0x100 + 4*dataBase + 5*r1 + 6*0x100
				require.Equal(t, r1, load32(t, m, dataBase+0x14))
				require.Equal(t, r2+0x100, load32(t, m, dataBase+0x10))
				require.Equal(t, armsim.StackTop, m.R[13])
			})
		}
	}
}

func TestAssembler_Compile_callDoubles(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []lir.Type
		// emit returns the arguments, given the pointer to the test data.
		emit func(b *lir.Builder, p *lir.Ins) []*lir.Ins
		exp  float64
	}{
		{
			name: "mixed",
			args: []lir.Type{lir.TypeI, lir.TypeD, lir.TypeI, lir.TypeI, lir.TypeD},
			emit: func(b *lir.Builder, p *lir.Ins) []*lir.Ins {
				return []*lir.Ins{b.ImmI(-3), b.Load(lir.OpLdD, p, 0x10), b.Load(lir.OpLdI, p, 0), b.ImmI(7), b.ImmD(0.5)}
			},
			exp: -3 + 2*1.25 + 3*3 + 4*7 + 5*0.5,
		},
		{
			name: "split",
			args: []lir.Type{lir.TypeI, lir.TypeI, lir.TypeI, lir.TypeD},
			emit: func(b *lir.Builder, p *lir.Ins) []*lir.Ins {
				return []*lir.Ins{b.ImmI(1), b.ImmI(2), b.ImmI(3), b.Load(lir.OpLdD, p, 0x10)}
			},
			exp: 1 + 2*2 + 3*3 + 4*1.25,
		},
		{
			name: "split constant",
			args: []lir.Type{lir.TypeI, lir.TypeI, lir.TypeI, lir.TypeD, lir.TypeD},
			emit: func(b *lir.Builder, p *lir.Ins) []*lir.Ins {
				return []*lir.Ins{p, p, p, b.ImmD(-1), b.Load(lir.OpLdD, p, 0x10)}
			},
			exp: 6*float64(dataBase) - 4 + 5*1.25,
		},
	} {
		for _, variant := range []abi.Variant{abi.EABI, abi.Legacy} {
			for _, c := range testConfigs {
				tc, cfg := tc, c.cfg
				cfg.ABI = variant
				t.Run(tc.name+"/"+variant.String()+"/"+c.name, func(t *testing.T) {
					ci := &lir.CallInfo{Name: "weigh", Addr: hostAddr, Args: tc.args, Ret: lir.TypeD}
					a, _ := newTestAssembler(t, cfg)
					f := compile(t, a, 1, func(b *lir.Builder) {
						p := b.Param(0)
						r := b.Call(ci, tc.emit(b, p)...)
						b.Store(lir.OpStD, r, p, 0x20)
						b.Exit(nil, 0)
					})

					m, _ := newMachine()
					locs, _ := cfg.ABI.Layout(ci.Args)
					m.RegisterHostFunc(hostAddr, func(m *armsim.Machine) {
						var sum float64
						for i, loc := range locs {
							lo, hi := argWords(m, loc)
							v := float64(int32(lo))
							if loc.Type == lir.TypeD {
								v = math.Float64frombits(uint64(hi)<<32 | uint64(lo))
							}
							sum += float64(i+1) * v
						}
						clobber(m)
						bits := math.Float64bits(sum)
						m.R[0], m.R[1] = uint32(bits), uint32(bits>>32)
					})
					require.NoError(t, m.Store32(dataBase, 3))
					require.NoError(t, m.Store64(dataBase+0x10, math.Float64bits(1.25)))
					run(t, a, m, f.Start, dataBase)
					require.Equal(t, tc.exp, math.Float64frombits(load64(t, m, dataBase+0x20)))
				})
			}
		}
	}
}

func TestAssembler_Compile_callPreservesLiveValues(t *testing.T) {
	ci := &lir.CallInfo{Name: "trash", Addr: hostAddr, Ret: lir.TypeV}
	for _, c := range testConfigs {
		c := c
		t.Run(c.name, func(t *testing.T) {
			a, _ := newTestAssembler(t, c.cfg)
			f := compile(t, a, 1, func(b *lir.Builder) {
				p := b.Param(0)
				var vs []*lir.Ins
				for i := 0; i < 10; i++ {
					vs = append(vs, b.Load(lir.OpLdI, p, int32(4*i)))
				}
				var d *lir.Ins
				if c.cfg.VFP {
					d = b.Ins2(lir.OpAddD, b.Load(lir.OpLdD, p, 0x40), b.ImmD(0.25))
				}
				b.Call(ci)
				sum := vs[0]
				for _, v := range vs[1:] {
					sum = b.Ins2(lir.OpAddI, sum, v)
				}
				b.Store(lir.OpStI, sum, p, 0x80)
				if d != nil {
					b.Store(lir.OpStD, b.Ins2(lir.OpMulD, d, d), p, 0x88)
				}
				b.Exit(nil, 0)
			})

			m, _ := newMachine()
			called := 0
			m.RegisterHostFunc(hostAddr, func(m *armsim.Machine) {
				called++
				clobber(m)
				m.R[0] = 0xdeadbeef
			})
			for i := 0; i < 10; i++ {
				require.NoError(t, m.Store32(dataBase+uint32(4*i), uint32(1)<<i))
			}
			require.NoError(t, m.Store64(dataBase+0x40, math.Float64bits(1.75)))
			run(t, a, m, f.Start, dataBase)
			require.Equal(t, 1, called)
			require.Equal(t, uint32(0x3ff), load32(t, m, dataBase+0x80))
			if c.cfg.VFP {
				require.Equal(t, 4.0, math.Float64frombits(load64(t, m, dataBase+0x88)))
			}
		})
	}
}

func TestAssembler_Compile_callResultWithLiveArgRegs(t *testing.T) {
	ci := &lir.CallInfo{Name: "third", Addr: hostAddr, Args: []lir.Type{lir.TypeI}, Ret: lir.TypeD}
	for _, variant := range []abi.Variant{abi.EABI, abi.Legacy} {
		for _, c := range testConfigs {
			cfg := c.cfg
			cfg.ABI = variant
			t.Run(variant.String()+"/"+c.name, func(t *testing.T) {
				a, _ := newTestAssembler(t, cfg)
				f := compile(t, a, 1, func(b *lir.Builder) {
					// p and q arrive in R0 and R1 and stay live across the call.
					p, q := b.Param(0), b.Param(1)
					r := b.Call(ci, b.ImmI(7))
					b.Store(lir.OpStD, r, p, 0x20)
					b.Store(lir.OpStI, q, p, 0x28)
					b.Exit(nil, 0)
				})

				m, _ := newMachine()
				m.RegisterHostFunc(hostAddr, func(m *armsim.Machine) {
					bits := math.Float64bits(float64(int32(m.R[0])) / 3)
					clobber(m)
					m.R[0], m.R[1] = uint32(bits), uint32(bits>>32)
				})
				run(t, a, m, f.Start, dataBase, 0xcafe)
				require.Equal(t, 7.0/3, math.Float64frombits(load64(t, m, dataBase+0x20)))
				require.Equal(t, uint32(0xcafe), load32(t, m, dataBase+0x28))
				require.Equal(t, armsim.StackTop, m.R[13])
			})
		}
	}
}

func TestAssembler_Compile_callIntegerResultWithLiveArgRegs(t *testing.T) {
	ci := &lir.CallInfo{Name: "double", Addr: hostAddr, Args: []lir.Type{lir.TypeI}, Ret: lir.TypeI}
	for _, c := range testConfigs {
		c := c
		t.Run(c.name, func(t *testing.T) {
			a, _ := newTestAssembler(t, c.cfg)
			f := compile(t, a, 1, func(b *lir.Builder) {
				p, q, s := b.Param(0), b.Param(1), b.Param(2)
				r := b.Call(ci, q)
				b.Store(lir.OpStI, b.Ins2(lir.OpSubI, r, s), p, 0)
				b.Store(lir.OpStI, q, p, 4)
				b.Exit(nil, 0)
			})

			m, _ := newMachine()
			m.RegisterHostFunc(hostAddr, func(m *armsim.Machine) {
				v := 2 * m.R[0]
				clobber(m)
				m.R[0] = v
			})
			run(t, a, m, f.Start, dataBase, 0x100, 1)
			require.Equal(t, uint32(0x1ff), load32(t, m, dataBase))
			require.Equal(t, uint32(0x100), load32(t, m, dataBase+4))
		})
	}
}
