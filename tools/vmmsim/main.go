// Command vmmsim drives the virtual memory code with scripted workloads on
// the host. Physical memory is emulated by an arena and every process runs
// on its own emulated MMU.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"gopher386/kernel/memspace"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&checkCmd{}, "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	exitCode := subcommands.Execute(context.Background())
	os.Exit(int(exitCode))
}

// protString formats the permissions of a mapping like /proc/self/maps.
func protString(m memspace.Mapping) string {
	perms := []byte("r---")
	if m.Prot&memspace.ProtWrite != 0 {
		perms[1] = 'w'
	}
	if m.Prot&memspace.ProtExec != 0 {
		perms[2] = 'x'
	}
	if m.Flags&memspace.MapShared != 0 {
		perms[3] = 's'
	} else {
		perms[3] = 'p'
	}
	return string(perms)
}
