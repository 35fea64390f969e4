package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	configPath string
	dump       bool
	debug      bool
	mmap       bool
}

// Name implements subcommands.Command.Name.
func (*runCmd) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*runCmd) Synopsis() string {
	return "runs the process scripts of a simulation config"
}

// Usage implements subcommands.Command.Usage.
func (*runCmd) Usage() string {
	return `run [flags] - runs every process script concurrently against shared physical memory
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.configPath, "config", "vmmsim.toml", "path to the simulation config file")
	f.BoolVar(&r.dump, "dump", false, "print the mappings of every address space when its script completes")
	f.BoolVar(&r.debug, "debug", false, "enable debug logging")
	f.BoolVar(&r.mmap, "mmap", false, "back physical memory with an anonymous mmap region")
}

// Execute implements subcommands.Command.Execute.
func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg, err := loadConfig(r.configPath)
	if err != nil {
		logrus.WithError(err).Error("loading config")
		return subcommands.ExitFailure
	}

	if r.debug {
		cfg.Log.Level = "debug"
	}
	if r.mmap {
		cfg.Memory.Mmap = true
	}

	log, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		logrus.WithError(err).Error("configuring logger")
		return subcommands.ExitFailure
	}

	if err := runSimulation(ctx, cfg, log, os.Stdout, r.dump); err != nil {
		log.WithError(err).Error("simulation failed")
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func newLogger(cfg logConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	return log, nil
}

// runSimulation runs cfg and writes a summary of every process to out.
// It fails if a process fails or if frames are still reserved once every
// address space has been closed.
func runSimulation(ctx context.Context, cfg *config, log *logrus.Logger, out io.Writer, dump bool) error {
	sim, err := newSimulator(cfg.Memory, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sim.close(); err != nil {
			log.WithError(err).Warn("releasing physical memory")
		}
	}()

	results, err := sim.run(ctx, cfg.Processes)
	if err != nil {
		return err
	}

	for _, res := range results {
		fmt.Fprintf(out, "%s: %d mappings, %d pages, %d page tables\n", res.Name, res.Stats.Mappings, res.Stats.Pages, res.Stats.Tables)
		if !dump {
			continue
		}

		for _, m := range res.Mappings {
			fmt.Fprintf(out, "  0x%08x-0x%08x %s\n", m.Address(), m.End().Address(), protString(m))
		}
	}

	if leaked := sim.leakedFrames(); leaked != 0 {
		return fmt.Errorf("%d frames still reserved after all address spaces were closed", leaked)
	}

	return nil
}
