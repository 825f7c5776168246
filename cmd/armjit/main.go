package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/tetratelabs/armjit"
	asm_arm "github.com/tetratelabs/armjit/internal/asm/arm"
	"github.com/tetratelabs/armjit/internal/codepage"
	"github.com/tetratelabs/armjit/internal/tracefile"
	"github.com/tetratelabs/armjit/internal/version"
)

func main() {
	os.Exit(doMain(os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing. It returns the exit code.
func doMain(stdOut, stdErr io.Writer) int {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "print usage")

	flag.Parse()

	if help || flag.NArg() == 0 {
		printUsage(stdErr)
		return 0
	}

	subCmd := flag.Arg(0)
	switch subCmd {
	case "compile":
		return doCompile(flag.Args()[1:], stdOut, stdErr)
	case "version":
		fmt.Fprintln(stdOut, version.GetVersion())
		return 0
	default:
		fmt.Fprintln(stdErr, "invalid command")
		printUsage(stdErr)
		return 1
	}
}

func doCompile(args []string, stdOut, stdErr io.Writer) (exitCode int) {
	flags := flag.NewFlagSet("compile", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "print usage")

	var configPath string
	flags.StringVar(&configPath, "config", "", "YAML backend configuration. ARMJIT_* environment variables override it.")

	var disasm bool
	flags.BoolVar(&disasm, "disasm", false, "disassemble the code pages instead of printing raw words")

	var verbose bool
	flags.BoolVar(&verbose, "v", false, "log code generation details to stderr")

	if err := flags.Parse(args); err != nil {
		return 1
	}

	if help {
		printCompileUsage(stdErr, flags)
		return 0
	}

	if flags.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to trace file")
		printCompileUsage(stdErr, flags)
		return 1
	}

	trace, err := tracefile.Load(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stdErr, "error loading trace: %v\n", err)
		return 1
	}

	config := armjit.NewBackendConfig()
	if configPath != "" {
		if config, err = armjit.LoadBackendConfig(configPath); err != nil {
			fmt.Fprintf(stdErr, "error loading config: %v\n", err)
			return 1
		}
	}
	if config, err = armjit.FromEnv(config); err != nil {
		fmt.Fprintf(stdErr, "error reading environment: %v\n", err)
		return 1
	}
	if verbose {
		config = config.WithLogger(slog.New(slog.NewTextHandler(stdErr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	c, err := armjit.NewCompiler(config)
	if err != nil {
		fmt.Fprintf(stdErr, "error creating compiler: %v\n", err)
		return 1
	}
	defer func() {
		if err := c.Close(); err != nil {
			fmt.Fprintf(stdErr, "error releasing code pages: %v\n", err)
			exitCode = 1
		}
	}()

	for _, f := range trace.Fragments {
		if err = c.Compile(f); err != nil {
			fmt.Fprintf(stdErr, "error compiling fragment %d: %v\n", f.ID, err)
			return 1
		}
		fmt.Fprintf(stdOut, "fragment %d %q: start %#x, entry %#x\n", f.ID, f.Name, f.Start, f.Entry)
	}

	printExits(stdOut, c)
	for _, p := range c.Pages() {
		printPage(stdOut, p, disasm)
	}
	return 0
}

func printExits(w io.Writer, c *armjit.Compiler) {
	exits := c.Exits()
	stubs := make([]uintptr, 0, len(exits))
	for stub := range exits {
		stubs = append(stubs, stub)
	}
	sort.Slice(stubs, func(i, j int) bool { return stubs[i] < stubs[j] })
	for _, stub := range stubs {
		g := exits[stub]
		fmt.Fprintf(w, "exit %#x: guard %d, payload %#x", stub, g.ID, g.Payload)
		if g.PatchSite != 0 {
			fmt.Fprintf(w, ", patch site %#x", g.PatchSite)
		}
		fmt.Fprintln(w)
	}
}

// printPage prints the words of p after its header, collapsing runs of zero words into "*".
func printPage(w io.Writer, p armjit.CodePage, disasm bool) {
	kind := "code"
	if p.Exit {
		kind = "exit"
	}
	fmt.Fprintf(w, "%s page %#x:\n", kind, p.Addr)
	zeros := false
	for off := codepage.HeaderSize; off < len(p.Code); off += asm_arm.InstructionSize {
		word := binary.LittleEndian.Uint32(p.Code[off:])
		if word == 0 {
			if !zeros {
				fmt.Fprintln(w, "  *")
			}
			zeros = true
			continue
		}
		zeros = false
		at := p.Addr + uintptr(off)
		if disasm {
			fmt.Fprintf(w, "  %#x: %08x  %s\n", at, word, asm_arm.Disassemble(word, at))
		} else {
			fmt.Fprintf(w, "  %#x: %08x\n", at, word)
		}
	}
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "armjit CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  armjit <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  compile\tCompiles a YAML trace file to ARM machine code")
	fmt.Fprintln(stdErr, "  version\tDisplays the version of armjit CLI")
}

func printCompileUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "armjit CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  armjit compile <options> <path to trace file>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}
