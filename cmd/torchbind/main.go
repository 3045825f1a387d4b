// Package main provides the torchbind command line tool for saved
// parameter streams.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"

	"github.com/born-ml/torchbind/torch"
)

const version = "v0.1.0"

// errUsage reports bad arguments; the usage text has already been printed.
var errUsage = errors.New("invalid arguments")

type app struct {
	out io.Writer
	log *torch.Logger
}

// runFunc executes a command with its positional arguments.
type runFunc func(ctx context.Context, a *app, args []string) error

type command struct {
	name    string
	args    string
	summary string
	// setup registers the command's flags and returns its body.
	setup func(fs *flag.FlagSet) runFunc
}

func commands() []command {
	return []command{
		{"version", "", "Show tool and engine versions", versionCmd},
		{"inspect", "<location>", "Print the header of a stream", inspectCmd},
		{"verify", "<location>...", "Read and checksum streams", verifyCmd},
		{"convert", "<src> <dst>", "Re-encode a stream with another codec", convertCmd},
		{"copy", "<src> <dst>", "Copy a stream between stores", copyCmd},
		{"list", "<prefix>", "List streams in a store", listCmd},
		{"sample", "<dst>", "Save a randomly initialized MLP", sampleCmd},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	switch {
	case errors.Is(err, errUsage):
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "torchbind: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	logger, err := loggerFromEnv(stderr)
	if err != nil {
		return err
	}
	a := &app{out: stdout, log: logger}

	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stdout)
		return nil
	}

	cmds := commands()
	i := slices.IndexFunc(cmds, func(c command) bool { return c.name == args[0] })
	if i < 0 {
		usage(stderr)
		fmt.Fprintf(stderr, "\nunknown command %q\n", args[0])
		return errUsage
	}
	cmd := cmds[i]

	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: torchbind %s [flags] %s\n", cmd.name, cmd.args)
		fs.PrintDefaults()
	}
	body := cmd.setup(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	return body(ctx, a, fs.Args())
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "torchbind %s - saved parameter tooling\n\n", version)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w, "\nLocations: path, file:///path, s3://bucket/key, minio://host:port/bucket/key")
	fmt.Fprintf(w, "Environment: %s, %s, %s\n", torch.EnvLibrary, torch.EnvSeed, torch.EnvLogLevel)
}

// loggerFromEnv logs to w at TORCHBIND_LOG_LEVEL, or not at all.
func loggerFromEnv(w io.Writer) (*torch.Logger, error) {
	s := os.Getenv(torch.EnvLogLevel)
	if s == "" {
		return torch.NoopLogger(), nil
	}
	level, err := torch.ParseLevel(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", torch.EnvLogLevel, err)
	}
	return torch.NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// openRuntime opens the engine configured by the environment.
func (a *app) openRuntime() (*torch.Runtime, error) {
	opts, err := torch.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return torch.Open(append(opts, torch.WithLogger(a.log))...)
}

func expectArgs(fs *flag.FlagSet, args []string, lo, hi int) error {
	if len(args) < lo || (hi >= 0 && len(args) > hi) {
		fs.Usage()
		return errUsage
	}
	return nil
}
