package main

import (
	"context"
	"flag"
	"io/fs"
	"strconv"

	"github.com/google/subcommands"

	"github.com/walteh/portos/pkg/fsdir"
)

// Mkdir implements subcommands.Command for the "mkdir" command.
type Mkdir struct {
	parents bool
	mode    string
}

// Name implements subcommands.Command.Name.
func (*Mkdir) Name() string {
	return "mkdir"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkdir) Synopsis() string {
	return "create directories"
}

// Usage implements subcommands.Command.Usage.
func (*Mkdir) Usage() string {
	return `mkdir [flags] <dir>... - create each directory.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mkdir) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.parents, "p", false, "create missing parents; existing directories are not an error")
	f.StringVar(&m.mode, "mode", "0755", "permission bits in octal")
}

// Execute implements subcommands.Command.Execute.
func (m *Mkdir) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	perm, err := parseMode(m.mode)
	if err != nil {
		return failure("%v", err)
	}
	mk := fsdir.Make
	if m.parents {
		mk = fsdir.MakeRecursive
	}
	status := subcommands.ExitSuccess
	for _, dir := range f.Args() {
		if err := mk(dir, perm); err != nil {
			status = failure("%v", err)
		}
	}
	return status
}

func parseMode(s string) (fs.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	return fs.FileMode(v) & fs.ModePerm, nil
}
