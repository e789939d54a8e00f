// hogvm CLI - runs, validates and serves HogVM bytecode programs
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/hogvm/config"
	"github.com/chazu/hogvm/conformance"
	"github.com/chazu/hogvm/server"
	"github.com/chazu/hogvm/store"
	"github.com/chazu/hogvm/validator"
	"github.com/chazu/hogvm/vm"
	"github.com/chazu/hogvm/wire"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	validate := flag.Bool("validate", false, "Test-run the program against a synthetic event instead of executing it")
	disasm := flag.Bool("disasm", false, "Print a disassembly of every chunk and exit")
	serveMode := flag.Bool("serve", false, "Start the HTTP service (Connect + plain JSON)")
	listen := flag.String("listen", "", "Listen address for --serve (overrides [server].listen)")
	conformanceDir := flag.String("conformance", "", "Run the YAML conformance cases in a directory")
	globalsFile := flag.String("globals", "", "JSON file with globals (or validation inputs with --validate)")
	timeout := flag.Duration("timeout", 0, "Execution time budget (overrides [execution].timeout)")
	debug := flag.Bool("debug", false, "Trace every instruction; disables the time budget (with -serve, lets requests ask for tracing)")
	configDir := flag.String("config", "", "Directory containing hogvm.toml (default: search upwards from cwd)")
	output := flag.String("o", "", "Write the program to a file instead of running it (.cbor or .json)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hogvm [options] <program>\n")
		fmt.Fprintf(os.Stderr, "       hogvm programs [put|list|run|rm] ...\n\n")
		fmt.Fprintf(os.Stderr, "Runs a compiled Hog program (.json, .hoge or .cbor) and prints its result.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  hogvm prog.hoge                       # Run a program\n")
		fmt.Fprintf(os.Stderr, "  hogvm -globals event.json prog.hoge   # Run with globals\n")
		fmt.Fprintf(os.Stderr, "  hogvm -validate -globals in.json prog.hoge\n")
		fmt.Fprintf(os.Stderr, "  hogvm -disasm prog.hoge               # Show bytecode\n")
		fmt.Fprintf(os.Stderr, "  hogvm -o prog.cbor prog.hoge          # Convert to CBOR\n")
		fmt.Fprintf(os.Stderr, "  hogvm -serve -listen :8080            # Start the service\n")
		fmt.Fprintf(os.Stderr, "  hogvm -conformance ./conformance/testdata\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	configureLogging(cfg, *verbose)
	if *timeout > 0 {
		cfg.Execution.Timeout.Duration = *timeout
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *verbose && cfg.Dir != "" {
		fmt.Printf("Loaded %s\n", filepath.Join(cfg.Dir, config.FileName))
	}

	args := flag.Args()
	if len(args) > 0 && args[0] == "programs" {
		handleProgramsCommand(args[1:], cfg, *verbose)
		return
	}

	if *conformanceDir != "" {
		os.Exit(runConformance(*conformanceDir, *verbose))
	}

	if *serveMode {
		if err := serve(cfg, *debug); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(args) != 1 {
		flag.Usage()
		os.Exit(2)
	}
	program, err := wire.LoadProgramFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *disasm:
		for _, name := range program.ChunkNames() {
			fmt.Print(vm.DisassembleWithName(program.Chunks[name].Bytecode, name))
		}
	case *output != "":
		if err := writeProgram(*output, program); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *validate:
		os.Exit(runValidate(program, cfg, *globalsFile))
	default:
		opts := cfg.ExecutionOptions()
		opts.Debug = *debug
		if *globalsFile != "" {
			if opts.Globals, err = loadGlobals(*globalsFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		os.Exit(run(program, opts, *verbose))
	}
}

// loadConfig loads hogvm.toml from dir, or searches upwards from the
// working directory. A missing file yields the defaults.
func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return config.Default(), nil
	}
	cfg, err := config.FindAndLoad(cwd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return config.Default(), nil
	}
	return cfg, nil
}

func configureLogging(cfg *config.Config, verbose bool) {
	verbosity := cfg.Log.Verbosity
	if verbose && verbosity < 1 {
		verbosity = 1
	}
	var path *string
	if cfg.Log.File != "" {
		file := cfg.Log.File
		if !filepath.IsAbs(file) && cfg.Dir != "" {
			file = filepath.Join(cfg.Dir, file)
		}
		path = &file
	}
	commonlog.Configure(verbosity, path)
}

func loadGlobals(path string) (*vm.Mapping, error) {
	v, err := wire.LoadValueFile(path)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*vm.Mapping)
	if !ok {
		return nil, fmt.Errorf("%s: globals must be a JSON object, got %s", path, v.Kind())
	}
	return m, nil
}

// run executes program, prints its output and result, and returns the
// process exit code.
func run(program *vm.Program, opts vm.Options, verbose bool) int {
	result, err := vm.Execute(context.Background(), program, opts)
	if result != nil {
		for _, line := range result.Output {
			fmt.Println(line)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", vm.KindOf(err), err)
		return 1
	}
	if !vm.IsNull(result.Value) {
		fmt.Println(vm.Repr(result.Value))
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "%d ops, %d bytes peak, %s\n",
			result.Ops, result.MaxMemUsed, result.Elapsed.Round(time.Microsecond))
	}
	return 0
}

func runValidate(program *vm.Program, cfg *config.Config, inputsFile string) int {
	var inputs *vm.Mapping
	if inputsFile != "" {
		var err error
		if inputs, err = loadGlobals(inputsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	opts := append(cfg.ValidationOptions(), validator.WithChunks(program.Chunks))
	if err := validator.Validate(context.Background(), program.Root().Bytecode, inputs, opts...); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
		return 1
	}
	fmt.Println("Valid")
	return 0
}

func writeProgram(path string, program *vm.Program) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cbor":
		data, err = wire.MarshalProgram(program)
	case ".json", ".hoge":
		data, err = wire.MarshalProgramJSON(program, 2)
	default:
		return fmt.Errorf("%s: unknown program format", path)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func serve(cfg *config.Config, debug bool) error {
	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	srv := server.New(server.WithConfig(cfg), server.WithStore(st), server.WithDebug(debug))
	defer srv.Stop()
	return srv.ListenAndServe(cfg.Server.Listen)
}

func runConformance(dir string, verbose bool) int {
	cases, err := conformance.Load(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	results, stats := conformance.RunAll(context.Background(), cases)
	for _, r := range results {
		switch {
		case r.Skipped:
			if verbose {
				fmt.Printf("SKIP %s/%s: %s\n", r.Case.File, r.Case.Case.Name, r.SkipReason)
			}
		case r.Passed:
			if verbose {
				fmt.Printf("PASS %s/%s\n", r.Case.File, r.Case.Case.Name)
			}
		default:
			fmt.Printf("FAIL %s/%s: %v\n", r.Case.File, r.Case.Case.Name, r.Err)
		}
	}
	fmt.Println(stats)
	if stats.Failed > 0 {
		return 1
	}
	return 0
}
