package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/narrow"
)

const usage = `Usage: narrowctl <command> [flags]

Commands:
  plan     Print the combined block layout for payload sizes and alignments
  explore  Interactive layout explorer (requires a terminal)
  demo     Construct, dereference, downcast and destroy through a backend
  stress   Run many handle lifecycles concurrently and verify every drop

Examples:
  narrowctl plan -size 24 -align 8
  narrowctl plan 0:1 8:8 24:1024
  narrowctl demo -backend manual -alloc mmap -v
  narrowctl stress -backend tracing-gc -n 100000 -workers 8
  narrowctl stress -config run.yaml
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "plan":
		err = runPlan(args)
	case "explore":
		err = runExplore(args)
	case "demo":
		err = runDemo(args)
	case "stress":
		err = runStress(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	size := fs.Uint64("size", 0, "Payload size in bytes")
	align := fs.Uint64("align", 1, "Payload alignment (power of two)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	specs := []planSpec{{size: uintptr(*size), align: uintptr(*align)}}
	if fs.NArg() > 0 {
		specs = specs[:0]
		for _, arg := range fs.Args() {
			s, err := parsePlanSpec(arg)
			if err != nil {
				return err
			}
			specs = append(specs, s)
		}
	}

	for _, s := range specs {
		out, err := renderPlan(s.size, s.align)
		if err != nil {
			return err
		}
		fmt.Print(out)
	}
	return nil
}

func runExplore(args []string) error {
	fs := flag.NewFlagSet("explore", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("explore needs an interactive terminal; use plan instead")
	}
	return runInteractive()
}

func runDemo(args []string) error {
	cfg, err := newRunFlags("demo", defaultRunConfig()).parse(args)
	if err != nil {
		return err
	}
	defer setupLogging(cfg.Verbose)()
	return demo(os.Stdout, cfg)
}

func runStress(args []string) error {
	defaults := defaultRunConfig()
	defaults.Count = 10000
	cfg, err := newRunFlags("stress", defaults).parse(args)
	if err != nil {
		return err
	}
	defer setupLogging(cfg.Verbose)()
	return stress(context.Background(), os.Stdout, os.Stderr, cfg)
}

// setupLogging installs a development logger when verbose is set and returns
// a function that flushes it.
func setupLogging(verbose bool) func() {
	if !verbose {
		return func() {}
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		return func() {}
	}
	narrow.SetLogger(logger)
	return func() { _ = logger.Sync() }
}
