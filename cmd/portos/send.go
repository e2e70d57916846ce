//go:build linux || darwin

package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/walteh/portos/pkg/log"
)

// Send implements subcommands.Command for the "send" command.
type Send struct {
	listen  string
	count   int
	retries uint64
}

// Name implements subcommands.Command.Name.
func (*Send) Name() string {
	return "send"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Send) Synopsis() string {
	return "send a file to the next connections"
}

// Usage implements subcommands.Command.Usage.
func (*Send) Usage() string {
	return `send [flags] <file> - accept connections and send the file to each.

Socket-activated listeners are used when present; otherwise -listen is.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Send) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.listen, "listen", "", `address to listen on, "host:port" or "unix:/path"`)
	f.IntVar(&s.count, "count", 1, "connections to serve before exiting")
	f.Uint64Var(&s.retries, "retries", 3, "times to resume a transfer that timed out")
}

// Execute implements subcommands.Command.Execute.
func (s *Send) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, _ := setup(args)

	file, err := os.Open(f.Arg(0))
	if err != nil {
		return failure("%v", err)
	}
	defer file.Close()

	ls, err := listeners(s.listen)
	if err != nil {
		return failure("%v", err)
	}
	defer func() {
		for _, l := range ls {
			l.Close()
		}
	}()

	for i := 0; i < s.count; i++ {
		conn, err := ls[0].Accept()
		if err != nil {
			return failure("accepting: %v", err)
		}
		sock, err := socketOf(conn)
		if err != nil {
			conn.Close()
			return failure("%v", err)
		}
		sock.SetTimeout(conf.Transfer.Timeout.Duration)
		sock.SetTransferOptions(transferOptions(conf))
		p, err := transmit(ctx, sock, file, nil, s.retries)
		sock.Close()
		conn.Close()
		if err != nil {
			return failure("sending to %s: %v", conn.RemoteAddr(), err)
		}
		log.Infof("Sent %d bytes to %s", p.Total, conn.RemoteAddr())
	}
	return subcommands.ExitSuccess
}
