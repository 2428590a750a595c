// Command lox is the CLI/REPL entry point: flag parsing, a line-based
// REPL over a persistent VM, and file execution with exit codes keyed
// off each InterpretResult.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"loxvm/internal/chunk"
	"loxvm/internal/compiler"
	"loxvm/internal/value"
	"loxvm/internal/vm"
)

const Version = "v1.0.0"

const (
	exitUsage   = 64
	exitCompile = 65
	exitRuntime = 70
)

func main() {
	showDisassembly := flag.Bool("disassembly", false, "Show bytecode disassembly")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lox [options] [script]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}
	if *showVersion {
		fmt.Printf("lox %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "Usage: lox [script]")
		os.Exit(exitUsage)
	}

	if len(args) == 0 {
		if isatty.IsTerminal(os.Stdin.Fd()) {
			startREPL(*showDisassembly)
			return
		}
		runStream(os.Stdin, *showDisassembly)
		return
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %s\n", err)
		os.Exit(exitUsage)
	}
	os.Exit(runSource(string(source), *showDisassembly))
}

// startREPL reads one line at a time against a single persistent VM, so
// globals and function definitions survive across lines.
func startREPL(showDisasm bool) {
	fmt.Printf("Lox %s\n", Version)
	fmt.Println("Type 'exit' to quit.")

	machine := vm.New()
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := scanner.Text()
		if line == "exit" {
			return
		}
		if line == "" {
			continue
		}
		interpretLine(machine, line, showDisasm)
	}
}

func runStream(in *os.File, showDisasm bool) {
	scanner := bufio.NewScanner(in)
	machine := vm.New()
	for scanner.Scan() {
		interpretLine(machine, scanner.Text(), showDisasm)
	}
}

func interpretLine(machine *vm.VM, line string, showDisasm bool) {
	fn, errs := compiler.Compile(line)
	if len(errs) != 0 {
		for _, msg := range errs {
			fmt.Fprintln(os.Stderr, msg)
		}
		return
	}
	if showDisasm {
		disassemble(fn)
	}
	machine.Interpret(fn)
}

func disassemble(fn *value.ObjFunction) {
	name := fn.Name
	if name == "" {
		name = "script"
	}
	fn.Chunk.(*chunk.Chunk).DisassembleAll(name)
}

func runSource(source string, showDisasm bool) int {
	fn, errs := compiler.Compile(source)
	if len(errs) != 0 {
		for _, msg := range errs {
			fmt.Fprintln(os.Stderr, msg)
		}
		return exitCompile
	}

	if showDisasm {
		disassemble(fn)
	}

	machine := vm.New()
	switch machine.Interpret(fn) {
	case vm.InterpretRuntimeError:
		return exitRuntime
	case vm.InterpretCompileError:
		return exitCompile
	default:
		return 0
	}
}
