package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	opMmap   = "mmap"
	opMunmap = "munmap"

	defaultMemoryMb = 16
	defaultLogLevel = "info"
)

var errNoProcesses = errors.New("config does not define any process")

// memoryConfig describes the simulated physical memory.
type memoryConfig struct {
	// SizeMb is the amount of physical memory in megabytes.
	SizeMb uint64 `toml:"size_mb"`

	// Mmap backs physical memory with an anonymous mmap region instead of
	// a Go byte slice.
	Mmap bool `toml:"mmap"`
}

type logConfig struct {
	Level string `toml:"level"`
}

// opConfig is a single step of a process script.
type opConfig struct {
	Kind string `toml:"kind"`

	// Name labels the result of an mmap so later munmap ops can refer to
	// it.
	Name string `toml:"name"`

	// Ref names the mmap a munmap applies to. Offset is relative to the
	// start of that mapping.
	Ref    string `toml:"ref"`
	Offset uint64 `toml:"offset"`

	Addr   uint64 `toml:"addr"`
	Length uint64 `toml:"length"`
	Write  bool   `toml:"write"`
	Exec   bool   `toml:"exec"`
	Fixed  bool   `toml:"fixed"`

	// Touch writes to every page of the new mapping through its physical
	// address.
	Touch bool `toml:"touch"`
}

type processConfig struct {
	Name string     `toml:"name"`
	Ops  []opConfig `toml:"op"`
}

// config is the configuration for a simulation run.
type config struct {
	Memory    memoryConfig    `toml:"memory"`
	Log       logConfig       `toml:"log"`
	Processes []processConfig `toml:"process"`
}

// loadConfig loads a simulation config from a TOML file, fills in defaults
// and validates it.
func loadConfig(path string) (*config, error) {
	var c config
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &c, nil
}

func (c *config) setDefaults() {
	if c.Memory.SizeMb == 0 {
		c.Memory.SizeMb = defaultMemoryMb
	}

	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}

	for i := range c.Processes {
		if c.Processes[i].Name == "" {
			c.Processes[i].Name = fmt.Sprintf("proc%d", i)
		}
	}
}

func (c *config) validate() error {
	if len(c.Processes) == 0 {
		return errNoProcesses
	}

	// The arena must fit in the 32-bit physical address space
	if c.Memory.SizeMb > 4096 {
		return fmt.Errorf("memory.size_mb: %d exceeds 4096", c.Memory.SizeMb)
	}

	seen := make(map[string]bool)
	for _, proc := range c.Processes {
		if seen[proc.Name] {
			return fmt.Errorf("duplicate process name %q", proc.Name)
		}
		seen[proc.Name] = true

		names := make(map[string]bool)
		for opIndex, op := range proc.Ops {
			if err := op.validate(names); err != nil {
				return fmt.Errorf("process %q op %d: %w", proc.Name, opIndex, err)
			}
		}
	}

	return nil
}

// validate checks a single op. names holds the mmap names defined by the
// preceding ops of the same process.
func (op *opConfig) validate(names map[string]bool) error {
	switch op.Kind {
	case opMmap:
		if op.Length == 0 {
			return errors.New("mmap requires a length")
		}
		if op.Ref != "" || op.Offset != 0 {
			return errors.New("ref and offset only apply to munmap")
		}
		if op.Name != "" {
			if names[op.Name] {
				return fmt.Errorf("duplicate mmap name %q", op.Name)
			}
			names[op.Name] = true
		}
	case opMunmap:
		if op.Ref == "" && op.Length == 0 {
			return errors.New("munmap requires a ref or a length")
		}
		if op.Ref != "" && !names[op.Ref] {
			return fmt.Errorf("munmap refers to unknown mmap %q", op.Ref)
		}
		if op.Ref != "" && op.Addr != 0 {
			return errors.New("munmap takes either a ref or an addr")
		}
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}

	return nil
}
