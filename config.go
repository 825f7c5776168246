package armjit

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"

	"github.com/tetratelabs/armjit/internal/abi"
	"github.com/tetratelabs/armjit/internal/codepage"
)

// ABI is the argument passing convention of the functions called by compiled code.
type ABI = abi.Variant

const (
	// EABI is the ARM EABI (AAPCS) convention used by current ARM Linux toolchains.
	EABI = abi.EABI
	// LegacyABI is the old APCS convention, where 64-bit arguments are not aligned.
	LegacyABI = abi.Legacy
)

// BackendConfig controls code generation, with the default implementation as NewBackendConfig.
//
// Note: BackendConfig is immutable. Each WithXXX function returns a new instance including the
// corresponding change.
type BackendConfig interface {
	// WithABI sets the calling convention of called functions. Defaults to EABI.
	WithABI(ABI) BackendConfig

	// WithVFP enables double arithmetic with the VFPv2 unit. Defaults to true.
	//
	// Without VFP, doubles can only be loaded, stored, passed to calls and returned from them.
	WithVFP(enabled bool) BackendConfig

	// WithARMv7 allows MOVW/MOVT for 32-bit constants instead of literal loads. Defaults to false.
	WithARMv7(enabled bool) BackendConfig

	// WithPageSize sets the size in bytes of code pages: a power of two, at least 256.
	// Defaults to 4096. Pages of real executable memory are never smaller than the host page.
	WithPageSize(size int) BackendConfig

	// WithMaxPages limits the number of code pages live at once. Zero, the default, means no
	// limit. Compilation fails with an error wrapping ErrOutOfExecutableMemory past the limit.
	WithMaxPages(n int) BackendConfig

	// WithSimulatedBase sets the address of the first simulated code page, used when the
	// generated code cannot run on the host. It must be aligned to the page size.
	// Defaults to 0x10000000.
	WithSimulatedBase(addr uintptr) BackendConfig

	// WithLogger sets the logger receiving debug records about pages, patches and compiled
	// fragments. Defaults to discarding them.
	WithLogger(*slog.Logger) BackendConfig
}

type backendConfig struct {
	abi           ABI
	vfp           bool
	armv7         bool
	pageSize      int
	maxPages      int
	simulatedBase uintptr
	logger        *slog.Logger
}

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &backendConfig{
	abi:           EABI,
	vfp:           true,
	pageSize:      4096,
	simulatedBase: codepage.DefaultSimulatedBase,
}

// NewBackendConfig returns a BackendConfig with the defaults documented on each WithXXX function.
func NewBackendConfig() BackendConfig {
	return defaultConfig.clone()
}

// clone makes a deep copy of this backend config.
func (c *backendConfig) clone() *backendConfig {
	ret := *c
	return &ret
}

// WithABI implements BackendConfig.WithABI
func (c *backendConfig) WithABI(v ABI) BackendConfig {
	ret := c.clone()
	ret.abi = v
	return ret
}

// WithVFP implements BackendConfig.WithVFP
func (c *backendConfig) WithVFP(enabled bool) BackendConfig {
	ret := c.clone()
	ret.vfp = enabled
	return ret
}

// WithARMv7 implements BackendConfig.WithARMv7
func (c *backendConfig) WithARMv7(enabled bool) BackendConfig {
	ret := c.clone()
	ret.armv7 = enabled
	return ret
}

// WithPageSize implements BackendConfig.WithPageSize
func (c *backendConfig) WithPageSize(size int) BackendConfig {
	ret := c.clone()
	ret.pageSize = size
	return ret
}

// WithMaxPages implements BackendConfig.WithMaxPages
func (c *backendConfig) WithMaxPages(n int) BackendConfig {
	ret := c.clone()
	ret.maxPages = n
	return ret
}

// WithSimulatedBase implements BackendConfig.WithSimulatedBase
func (c *backendConfig) WithSimulatedBase(addr uintptr) BackendConfig {
	ret := c.clone()
	ret.simulatedBase = addr
	return ret
}

// WithLogger implements BackendConfig.WithLogger
func (c *backendConfig) WithLogger(logger *slog.Logger) BackendConfig {
	ret := c.clone()
	ret.logger = logger
	return ret
}

func (c *backendConfig) validate() error {
	switch {
	case c.abi != EABI && c.abi != LegacyABI:
		return fmt.Errorf("invalid ABI %s", c.abi)
	case c.pageSize < codepage.MinPageSize || c.pageSize&(c.pageSize-1) != 0:
		return fmt.Errorf("page size %d must be a power of two and at least %d", c.pageSize, codepage.MinPageSize)
	case c.maxPages < 0:
		return fmt.Errorf("negative page limit %d", c.maxPages)
	case c.simulatedBase&uintptr(c.pageSize-1) != 0:
		return fmt.Errorf("simulated base %#x is not aligned to the page size %d", c.simulatedBase, c.pageSize)
	}
	return nil
}

// configFile is the YAML form of a BackendConfig. Absent keys keep their current value.
type configFile struct {
	ABI           string  `yaml:"abi,omitempty"`
	VFP           *bool   `yaml:"vfp,omitempty"`
	ARMv7         *bool   `yaml:"armv7,omitempty"`
	PageSize      int     `yaml:"pageSize,omitempty"`
	MaxPages      *int    `yaml:"maxPages,omitempty"`
	SimulatedBase *uint64 `yaml:"simulatedBase,omitempty"`
}

func (f *configFile) apply(c BackendConfig) (BackendConfig, error) {
	if f.ABI != "" {
		v, err := abi.ParseVariant(f.ABI)
		if err != nil {
			return nil, err
		}
		c = c.WithABI(v)
	}
	if f.VFP != nil {
		c = c.WithVFP(*f.VFP)
	}
	if f.ARMv7 != nil {
		c = c.WithARMv7(*f.ARMv7)
	}
	if f.PageSize != 0 {
		c = c.WithPageSize(f.PageSize)
	}
	if f.MaxPages != nil {
		c = c.WithMaxPages(*f.MaxPages)
	}
	if f.SimulatedBase != nil {
		c = c.WithSimulatedBase(uintptr(*f.SimulatedBase))
	}
	return c, nil
}

// LoadBackendConfig reads the YAML file at path on top of NewBackendConfig. For example:
//
//	abi: legacy
//	vfp: false
//	pageSize: 0x1000
//	maxPages: 64
func LoadBackendConfig(path string) (BackendConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f configFile
	if err = yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	c, err := f.apply(NewBackendConfig())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Environment variables read by FromEnv.
const (
	EnvABI           = "ARMJIT_ABI"
	EnvVFP           = "ARMJIT_VFP"
	EnvARMv7         = "ARMJIT_ARMV7"
	EnvPageSize      = "ARMJIT_PAGE_SIZE"
	EnvMaxPages      = "ARMJIT_MAX_PAGES"
	EnvSimulatedBase = "ARMJIT_SIMULATED_BASE"
)

// FromEnv returns c overridden by the ARMJIT_* environment variables which are set.
func FromEnv(c BackendConfig) (BackendConfig, error) {
	if env.Has(EnvABI) {
		v, err := abi.ParseVariant(env.Str(EnvABI))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvABI, err)
		}
		c = c.WithABI(v)
	}
	if env.Has(EnvVFP) {
		c = c.WithVFP(env.Bool(EnvVFP))
	}
	if env.Has(EnvARMv7) {
		c = c.WithARMv7(env.Bool(EnvARMv7))
	}
	for _, e := range []struct {
		name string
		set  func(uint64) BackendConfig
	}{
		{name: EnvPageSize, set: func(v uint64) BackendConfig { return c.WithPageSize(int(v)) }},
		{name: EnvMaxPages, set: func(v uint64) BackendConfig { return c.WithMaxPages(int(v)) }},
		{name: EnvSimulatedBase, set: func(v uint64) BackendConfig { return c.WithSimulatedBase(uintptr(v)) }},
	} {
		if !env.Has(e.name) {
			continue
		}
		// Sizes and addresses are usually written in hexadecimal.
		v, err := strconv.ParseUint(env.Str(e.name), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}
		c = e.set(v)
	}
	return c, nil
}
