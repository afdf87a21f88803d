package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
)

// Version is set at build time via ldflags.
var Version = "dev"

// ErrUnknownCommand is returned for an unrecognized subcommand.
var ErrUnknownCommand = errors.New("unknown command")

func main() {
	// Error ignored: maxprocs.Set only fails if GOMAXPROCS env is invalid,
	// in which case Go runtime defaults apply. Must run before the pool is
	// sized from GOMAXPROCS.
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	os.Exit(run(context.Background(), os.Args, DefaultEnv()))
}

// run dispatches the subcommand and returns the process exit code.
func run(ctx context.Context, args []string, env *Environment) int {
	cmd, rest := "serve", args[1:]
	if len(rest) > 0 && rest[0] != "" && rest[0][0] != '-' {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "serve":
		return runServeCmd(ctx, rest, env)
	case "doctor":
		return runDoctorCmd(rest, env)
	case "version":
		fmt.Fprintf(env.Stdout, "renderd %s\n", Version)
		return ExitSuccess
	case "help":
		printUsage(env)
		return ExitSuccess
	default:
		fmt.Fprintf(env.Stderr, "%v: %s\n", ErrUnknownCommand, cmd)
		printUsage(env)
		return exitCodeFor(ErrUnknownCommand)
	}
}

func runServeCmd(ctx context.Context, args []string, env *Environment) int {
	cfg, err := resolveConfig(args, env.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return ExitSuccess
	}
	if err != nil {
		fmt.Fprintln(env.Stderr, err)
		return exitCodeFor(err)
	}

	ctx, stop := shutdownContext(ctx)
	defer stop()

	if err := serve(ctx, cfg, env); err != nil {
		fmt.Fprintln(env.Stderr, err)
		return exitCodeFor(err)
	}
	return ExitSuccess
}

func printUsage(env *Environment) {
	fmt.Fprint(env.Stderr, `Usage: renderd [command] [flags]

Commands:
  serve     run the rendering server (default)
  doctor    check Chrome and print the effective configuration
  version   print the version

Run "renderd serve --help" for server flags.
`)
}
