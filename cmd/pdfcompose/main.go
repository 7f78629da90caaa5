// Command pdfcompose edits PDF files from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/engine"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/writer"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, eng *engine.Engine, fs *flag.FlagSet, args []string) error
	flags func(fs *flag.FlagSet)
}

var commands = []command{
	mergeCommand,
	splitCommand,
	extractCommand,
	organizeCommand,
	rotateCommand,
	watermarkCommand,
	protectCommand,
	img2pdfCommand,
	pdf2imgCommand,
	pagesCommand,
}

// common holds the flags every subcommand accepts.
type common struct {
	password    string
	strict      bool
	xref        string
	noCompress  bool
	workers     int
	honorRotate bool
	verbose     bool
	algorithm   string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.password, "password", "", "Password for encrypted inputs")
	fs.BoolVar(&c.strict, "strict", false, "Fail on malformed input instead of repairing it")
	fs.StringVar(&c.xref, "xref", "auto", "Cross-reference style of the output: auto, table or stream")
	fs.BoolVar(&c.noCompress, "no-compress", false, "Write streams without Flate compression")
	fs.IntVar(&c.workers, "workers", 0, "Concurrent page renders (0 = one per CPU)")
	fs.BoolVar(&c.honorRotate, "honor-rotate", false, "Turn rendered pages by their /Rotate")
	fs.BoolVar(&c.verbose, "v", false, "Log operations to stderr")
	fs.StringVar(&c.algorithm, "alg", "aes128", "Cipher for protect: rc4-40, rc4-128 or aes128")
}

func (c *common) config() (engine.Config, error) {
	cfg := engine.DefaultConfig()
	cfg.Lenient = !c.strict
	cfg.Password = c.password
	cfg.Writer.Compress = !c.noCompress
	switch strings.ToLower(c.xref) {
	case "auto", "":
		cfg.Writer.XRefStream = writer.XRefAuto
	case "table":
		cfg.Writer.XRefStream = writer.XRefTable
	case "stream":
		cfg.Writer.XRefStream = writer.XRefStream
	default:
		return cfg, errors.Errorf("unknown xref style %q", c.xref)
	}
	if c.workers > 0 {
		cfg.Workers = c.workers
	}
	cfg.Render.HonorRotate = c.honorRotate
	switch strings.ToLower(c.algorithm) {
	case "rc4-40":
		cfg.Algorithm = raw.AlgorithmRC4_40
	case "rc4-128":
		cfg.Algorithm = raw.AlgorithmRC4_128
	case "aes128", "aes-128", "":
		cfg.Algorithm = raw.AlgorithmAES_128
	default:
		return cfg, errors.Errorf("unknown algorithm %q", c.algorithm)
	}
	if c.verbose {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		cfg.Logger = observability.Slog(slog.New(handler))
	}
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		if name != "-h" && name != "help" && name != "--help" {
			fmt.Fprintf(os.Stderr, "pdfcompose: unknown command %q\n", name)
		}
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet(cmd.name, flag.ExitOnError)
	var c common
	c.register(fs)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pdfcompose %s %s\n", cmd.name, cmd.usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}
	cfg, err := c.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfcompose %s: %v\n", cmd.name, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.run(ctx, engine.New(cfg), fs, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "pdfcompose %s: %v\n", cmd.name, err)
		stop()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: pdfcompose <command> [flags] [args]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.usage)
	}
}
