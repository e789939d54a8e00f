package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chazu/hogvm/config"
	"github.com/chazu/hogvm/store"
	"github.com/chazu/hogvm/validator"
	"github.com/chazu/hogvm/vm"
	"github.com/chazu/hogvm/wire"
)

// handleProgramsCommand processes the `hogvm programs` subcommand.
// Usage:
//
//	hogvm programs put <name> <file>   Validate and store a program
//	hogvm programs list                List stored programs
//	hogvm programs run <hash|name>     Run a stored program
//	hogvm programs rm <hash>           Delete a stored program
func handleProgramsCommand(args []string, cfg *config.Config, verbose bool) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: hogvm programs [put|list|run|rm] ...")
		fmt.Fprintln(os.Stderr, "  put <name> <file>   Validate and store a program")
		fmt.Fprintln(os.Stderr, "  list                List stored programs")
		fmt.Fprintln(os.Stderr, "  run <hash|name>     Run a stored program")
		fmt.Fprintln(os.Stderr, "  rm <hash>           Delete a stored program")
		os.Exit(1)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	ctx := context.Background()

	switch args[0] {
	case "put":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "Usage: hogvm programs put <name> <file>")
			os.Exit(1)
		}
		err = handlePut(ctx, st, cfg, args[1], args[2])
	case "list", "ls":
		err = handleList(ctx, st)
	case "run":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: hogvm programs run <hash|name>")
			os.Exit(1)
		}
		var program *vm.Program
		if _, program, err = st.Resolve(ctx, args[1]); err == nil {
			st.Close()
			os.Exit(run(program, cfg.ExecutionOptions(), verbose))
		}
	case "rm":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: hogvm programs rm <hash>")
			os.Exit(1)
		}
		err = st.Delete(ctx, args[1])
	default:
		fmt.Fprintf(os.Stderr, "Unknown programs subcommand: %s\n", args[0])
		os.Exit(1)
	}

	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "No program %q\n", args[len(args)-1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handlePut(ctx context.Context, st *store.Store, cfg *config.Config, name, path string) error {
	program, err := wire.LoadProgramFile(path)
	if err != nil {
		return err
	}
	opts := append(cfg.ValidationOptions(), validator.WithChunks(program.Chunks))
	if err := validator.Validate(ctx, program.Root().Bytecode, nil, opts...); err != nil {
		return err
	}
	hash, err := st.Put(ctx, name, program)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", hash, name)
	return nil
}

func handleList(ctx context.Context, st *store.Store) error {
	entries, err := st.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No stored programs")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HASH\tNAME\tSIZE\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Hash[:12], e.Name, humanize.Bytes(uint64(e.Size)), e.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
