package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/walteh/portos/pkg/fsinfo"
	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/syserr"
)

// Stat implements subcommands.Command for the "stat" command.
type Stat struct {
	fields   string
	nofollow bool
}

// Name implements subcommands.Command.Name.
func (*Stat) Name() string {
	return "stat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stat) Synopsis() string {
	return "print file metadata"
}

// Usage implements subcommands.Command.Usage.
func (*Stat) Usage() string {
	return `stat [flags] <path>... - print the requested metadata of each path.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stat) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.fields, "fields", "norm", "comma separated fields, such as min,owner,prot,name or all")
	f.BoolVar(&s.nofollow, "nofollow", false, "describe symbolic links instead of their targets")
}

// Execute implements subcommands.Command.Execute.
func (s *Stat) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	wanted, ok := fsinfo.ParseFields(s.fields)
	if !ok {
		return failure("unknown field in %q", s.fields)
	}
	stat := fsinfo.Stat
	if s.nofollow {
		stat = fsinfo.Lstat
	}

	status := subcommands.ExitSuccess
	for _, path := range f.Args() {
		fi, err := stat(path, wanted)
		switch {
		case errors.Is(err, syserr.ErrIncomplete):
			log.Debugf("%s: %v", path, err)
		case err != nil:
			status = failure("%s: %v", path, err)
			continue
		}
		if err := printInfo(os.Stdout, fi); err != nil {
			return failure("%v", err)
		}
	}
	return status
}
