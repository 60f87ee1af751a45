package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/narrow"
	"github.com/wippyai/narrow/alloc"
)

// maxConfigSize bounds the config file read.
const maxConfigSize = 1 << 20

// runConfig drives the demo and stress commands. It can be loaded from a
// YAML file; flags given on the command line take precedence.
type runConfig struct {
	Backend   narrow.Backend `yaml:"backend"`
	Allocator string         `yaml:"allocator"`
	Count     int            `yaml:"count"`
	Workers   int            `yaml:"workers"`
	Verbose   bool           `yaml:"verbose"`
	Alloc     alloc.Config   `yaml:"alloc"`
}

func defaultRunConfig() runConfig {
	return runConfig{
		Backend:   narrow.BackendManual,
		Allocator: "heap",
		Count:     3,
		Workers:   4,
	}
}

func loadRunConfig(path string, base runConfig) (runConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return base, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > maxConfigSize {
		return base, fmt.Errorf("config %s is too large (%d bytes)", path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Count < 0 || cfg.Workers < 0 {
		return base, fmt.Errorf("config %s: count and workers must not be negative", path)
	}
	return cfg, nil
}

// runFlags binds the runConfig flags shared by demo and stress.
type runFlags struct {
	fs        *flag.FlagSet
	cfg       runConfig
	config    string
	chunkSize uint64
	maxPages  uint
}

func newRunFlags(name string, defaults runConfig) *runFlags {
	f := &runFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError), cfg: defaults}
	f.fs.TextVar(&f.cfg.Backend, "backend", defaults.Backend, "Backend: manual, tracing-gc, tracing-gc-union")
	f.fs.StringVar(&f.cfg.Allocator, "alloc", defaults.Allocator, "Allocator for the manual backend: heap, mmap, linear")
	f.fs.IntVar(&f.cfg.Count, "n", defaults.Count, "Number of objects to construct")
	f.fs.IntVar(&f.cfg.Workers, "workers", defaults.Workers, "Concurrent workers (stress only)")
	f.fs.BoolVar(&f.cfg.Verbose, "v", defaults.Verbose, "Enable development logging")
	f.fs.BoolVar(&f.cfg.Alloc.Poison, "poison", defaults.Alloc.Poison, "Fill released blocks with 0xdd")
	f.fs.Uint64Var(&f.chunkSize, "chunk-size", uint64(defaults.Alloc.ChunkSize), "mmap chunk size in bytes (0 = default)")
	f.fs.UintVar(&f.maxPages, "max-pages", uint(defaults.Alloc.MaxPages), "Linear memory limit in 64KB pages (0 = default)")
	f.fs.StringVar(&f.config, "config", "", "YAML file with run settings")
	return f
}

// parse parses args and merges the config file under explicitly set flags.
func (f *runFlags) parse(args []string) (runConfig, error) {
	if err := f.fs.Parse(args); err != nil {
		return runConfig{}, err
	}
	f.cfg.Alloc.ChunkSize = uintptr(f.chunkSize)
	f.cfg.Alloc.MaxPages = uint32(f.maxPages)
	if f.config == "" {
		return f.cfg, nil
	}

	fromFlags := f.cfg
	cfg, err := loadRunConfig(f.config, defaultRunConfig())
	if err != nil {
		return runConfig{}, err
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "backend":
			cfg.Backend = fromFlags.Backend
		case "alloc":
			cfg.Allocator = fromFlags.Allocator
		case "n":
			cfg.Count = fromFlags.Count
		case "workers":
			cfg.Workers = fromFlags.Workers
		case "v":
			cfg.Verbose = fromFlags.Verbose
		case "poison":
			cfg.Alloc.Poison = fromFlags.Alloc.Poison
		case "chunk-size":
			cfg.Alloc.ChunkSize = fromFlags.Alloc.ChunkSize
		case "max-pages":
			cfg.Alloc.MaxPages = fromFlags.Alloc.MaxPages
		}
	})
	return cfg, nil
}
