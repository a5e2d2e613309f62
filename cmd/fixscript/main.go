// cmd/fixscript is a demo embedder: a CLI that exercises the engine the
// way an embedding program would, since the engine itself defines no
// entry points of its own (host embedders control those).
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"fixscript/internal/compiler"
	"fixscript/internal/fixconfig"
	"fixscript/internal/fixerr"
	"fixscript/internal/fixlog"
	"fixscript/internal/heap"
	"fixscript/internal/interp"
	"fixscript/internal/meta"
	"fixscript/internal/registry"
	"fixscript/internal/token"
)

var commandAliases = map[string]string{
	"r": "run",
	"i": "repl",
	"b": "build",
	"t": "tokens",
	"c": "compile",
}

func main() {
	os.Exit(run())
}

// run is the CLI's body, factored out of main so the testscript-driven
// golden-script suite (script_test.go) can register it as a subprocess
// command instead of exec'ing a built binary.
func run() int {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		return 0
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}
	rest := args[1:]

	switch cmd {
	case "--help", "-h", "help":
		showUsage()
	case "--version", "-v", "version":
		fmt.Println("fixscript dev build")
	case "run":
		cmdRun(rest)
	case "repl":
		cmdRepl(rest)
	case "build":
		cmdBuild(rest)
	case "tokens":
		cmdTokens(rest)
	case "compile":
		cmdCompile(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		showUsage()
		return 1
	}
	return 0
}

func showUsage() {
	fmt.Println(`fixscript - embeddable scripting engine demo CLI

Usage:
  fixscript run <file> [--verbose] [--inspect[=addr]]
  fixscript repl [--verbose]
  fixscript build <file> [--verbose]
  fixscript tokens <file> [--ignore-errors]
  fixscript compile <name> <file> [--reload]

Aliases: r=run i=repl b=build t=tokens c=compile`)
}

// flags pulls the boolean/valued switches every subcommand shares
// (--verbose, --inspect) out of args, returning the remaining positional
// arguments.
type flags struct {
	verbose bool
	inspect string // "" means disabled, else the listen address
}

func parseFlags(args []string) (flags, []string) {
	var f flags
	var positional []string
	for _, a := range args {
		switch {
		case a == "--verbose":
			f.verbose = true
		case a == "--inspect":
			f.inspect = "localhost:9229"
		case strings.HasPrefix(a, "--inspect="):
			f.inspect = strings.TrimPrefix(a, "--inspect=")
		default:
			positional = append(positional, a)
		}
	}
	return f, positional
}

func newEngine(f flags) (*heap.Heap, *interp.Interp, *registry.Registry, error) {
	cfg := fixconfig.Default()
	h := heap.NewHeap(interp.HeapConfig(cfg))
	if f.verbose {
		l, err := fixlog.NewDevelopment()
		if err != nil {
			return nil, nil, nil, err
		}
		h.SetLogger(l)
	}
	in := interp.New(h, interp.FromFixConfig(cfg))
	loader := func(name string) (string, error) {
		return "", fmt.Errorf("no loader configured for script %q", name)
	}
	reg := registry.New(h, loader, cfg.ImportCycleDepth)
	meta.New(h, reg).Register()
	if f.inspect != "" {
		srv := newInspectServer(h)
		if err := srv.Listen(f.inspect); err != nil {
			return nil, nil, nil, err
		}
		fmt.Fprintf(os.Stderr, "heap inspector listening on ws://%s\n", f.inspect)
	}
	return h, in, reg, nil
}

func cmdRun(args []string) {
	f, pos := parseFlags(args)
	if len(pos) < 1 {
		fatalf("run: a script file is required")
	}
	src, err := os.ReadFile(pos[0])
	if err != nil {
		fatalf("run: %v", err)
	}

	h, in, _, err := newEngine(f)
	if err != nil {
		fatalf("run: %v", err)
	}
	ids, cerr := compiler.LoadInto(h, string(src))
	if cerr != nil {
		fatalf("run: %v", cerr)
	}

	entry, argv := findEntry(h, ids)
	if entry == -1 {
		fatalf("run: no main#0 or main#1 function found in %s", pos[0])
	}
	result, ferr := in.Call(entry, argv)
	if ferr != nil {
		fmt.Fprintln(os.Stderr, ferr.Error())
		os.Exit(1)
	}
	if result.Payload != 0 || result.IsRef {
		fmt.Println(result.Payload)
	}
}

// findEntry looks for a main function among the script's top-level
// functions, preferring main#1 (argv array) over main#0.
func findEntry(h *heap.Heap, ids []int32) (int32, []heap.Value) {
	var zero, one int32 = -1, -1
	for _, id := range ids {
		fi := h.Function(id)
		if fi.Name != "main" {
			continue
		}
		if fi.Arity == 0 {
			zero = id
		}
		if fi.Arity == 1 {
			one = id
		}
	}
	if one != -1 {
		argv, _ := h.CreateArray()
		return one, []heap.Value{argv}
	}
	if zero != -1 {
		return zero, nil
	}
	return -1, nil
}

func cmdRepl(args []string) {
	f, _ := parseFlags(args)
	h, in, _, err := newEngine(f)
	if err != nil {
		fatalf("repl: %v", err)
	}

	fmt.Println("fixscript repl | type 'exit' to quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "exit" {
			break
		}
		ids, cerr := compiler.LoadInto(h, line)
		if cerr != nil {
			fmt.Fprintln(os.Stderr, cerr)
			continue
		}
		entry, argv := findEntry(h, ids)
		if entry == -1 {
			continue
		}
		v, ferr := in.Call(entry, argv)
		if ferr != nil {
			fmt.Fprintln(os.Stderr, ferr.Error())
			continue
		}
		fmt.Println(v.Payload)
	}
}

func cmdBuild(args []string) {
	f, pos := parseFlags(args)
	if len(pos) < 1 {
		fatalf("build: a script file is required")
	}
	src, err := os.ReadFile(pos[0])
	if err != nil {
		fatalf("build: %v", err)
	}
	h, _, _, err := newEngine(f)
	if err != nil {
		fatalf("build: %v", err)
	}
	ids, cerr := compiler.LoadInto(h, string(src))
	if cerr != nil {
		fatalf("build: %v", cerr)
	}
	fmt.Printf("compiled %d function(s) from %s\n", len(ids), pos[0])
	for _, id := range ids {
		fi := h.Function(id)
		fmt.Printf("  %s#%d  (id %d, offset %d, max stack %d, %d line entries)\n", fi.Name, fi.Arity, id, fi.Offset, fi.MaxStack, len(fi.Lines))
	}
}

func cmdTokens(args []string) {
	var ignoreErrors bool
	var pos []string
	for _, a := range args {
		if a == "--ignore-errors" {
			ignoreErrors = true
			continue
		}
		pos = append(pos, a)
	}
	if len(pos) < 1 {
		fatalf("tokens: a script file is required")
	}
	src, err := os.ReadFile(pos[0])
	if err != nil {
		fatalf("tokens: %v", err)
	}
	toks, terr := token.Tokenize(string(src), token.Options{IgnoreErrors: ignoreErrors})
	if terr != nil {
		fatalf("tokens: %v", terr)
	}
	for _, tok := range toks {
		fmt.Printf("%-12s %4d:%-4d %q\n", tok.Kind, tok.Line, tok.Offset, tok.Text)
	}
}

func cmdCompile(args []string) {
	f, pos := parseFlags(args)
	var reload bool
	var filtered []string
	for _, a := range pos {
		if a == "--reload" {
			reload = true
			continue
		}
		filtered = append(filtered, a)
	}
	if len(filtered) < 2 {
		fatalf("compile: usage is 'compile <name> <file> [--reload]'")
	}
	name, path := filtered[0], filtered[1]
	src, err := os.ReadFile(path)
	if err != nil {
		fatalf("compile: %v", err)
	}

	_, _, reg, err := newEngine(f)
	if err != nil {
		fatalf("compile: %v", err)
	}

	var script *registry.Script
	var rerr error
	if reload {
		script, rerr = reg.ReloadSource(name, string(src))
	} else {
		script, rerr = reg.ImportSource(name, string(src))
	}
	if rerr != nil {
		if fe, ok := rerr.(*fixerr.Error); ok {
			fatalf("compile: %s", fe.CompilerMessage())
		}
		fatalf("compile: %v", rerr)
	}
	fmt.Printf("registered %q with %d function(s)\n", script.Name, len(script.FuncIDs()))
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
