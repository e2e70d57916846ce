package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/walteh/portos/pkg/fsdir"
	"github.com/walteh/portos/pkg/fsinfo"
	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/syserr"
)

// List implements subcommands.Command for the "ls" command.
type List struct {
	fields string
}

// Name implements subcommands.Command.Name.
func (*List) Name() string {
	return "ls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*List) Synopsis() string {
	return "list a directory"
}

// Usage implements subcommands.Command.Usage.
func (*List) Usage() string {
	return `ls [flags] <dir> - print the type, size and name of each entry.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *List) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.fields, "fields", "name,type,size", "fields to resolve per entry")
}

// Execute implements subcommands.Command.Execute.
func (l *List) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	_, p := setup(args)
	wanted, ok := fsinfo.ParseFields(l.fields)
	if !ok {
		return failure("unknown field in %q", l.fields)
	}

	d, err := fsdir.Open(p, f.Arg(0), fsdir.Options{})
	if err != nil {
		return failure("%v", err)
	}
	defer d.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer tw.Flush()
	for {
		fi, err := d.Read(wanted | fsinfo.Name)
		switch {
		case errors.Is(err, syserr.ErrEndOfStream):
			if n := d.Skipped(); n > 0 {
				log.Infof("Skipped %d entries whose paths exceed the host limit", n)
			}
			return subcommands.ExitSuccess
		case errors.Is(err, syserr.ErrIncomplete):
			log.Debugf("%s: %v", fi.Name, err)
		case err != nil:
			return failure("%v", err)
		}
		printEntry(tw, fi)
	}
}
