package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// checkCmd implements subcommands.Command for the "check" command.
type checkCmd struct {
	configPath string
}

// Name implements subcommands.Command.Name.
func (*checkCmd) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*checkCmd) Synopsis() string {
	return "validates a simulation config"
}

// Usage implements subcommands.Command.Usage.
func (*checkCmd) Usage() string {
	return `check [flags] - validates a simulation config without running it
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *checkCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "vmmsim.toml", "path to the simulation config file")
}

// Execute implements subcommands.Command.Execute.
func (c *checkCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg, err := loadConfig(c.configPath)
	if err != nil {
		logrus.WithError(err).Error("invalid config")
		return subcommands.ExitFailure
	}

	var ops int
	for _, proc := range cfg.Processes {
		ops += len(proc.Ops)
	}

	fmt.Printf("%s: %d processes, %d ops, %d MiB of physical memory\n", c.configPath, len(cfg.Processes), ops, cfg.Memory.SizeMb)
	return subcommands.ExitSuccess
}
