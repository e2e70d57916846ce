//go:build linux || darwin

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/walteh/portos/pkg/config"
	"github.com/walteh/portos/pkg/fsinfo"
	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/syserr"
)

// Serve implements subcommands.Command for the "serve" command.
type Serve struct {
	listen  string
	root    string
	retries uint64
}

// Name implements subcommands.Command.Name.
func (*Serve) Name() string {
	return "serve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Serve) Synopsis() string {
	return "serve files from a directory"
}

// Usage implements subcommands.Command.Usage.
func (*Serve) Usage() string {
	return `serve [flags] - serve files under -root.

Each client sends one line naming a file relative to the root. The reply is
"OK <size>\n" followed by the contents, or "ERR <reason>\n".
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Serve) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.listen, "listen", "", `address to listen on, "host:port" or "unix:/path"`)
	f.StringVar(&s.root, "root", ".", "directory to serve")
	f.Uint64Var(&s.retries, "retries", 3, "times to resume a transfer that timed out")
}

// Execute implements subcommands.Command.Execute.
func (s *Serve) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, _ := setup(args)

	ls, err := listeners(s.listen)
	if err != nil {
		return failure("%v", err)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		for _, l := range ls {
			l.Close()
		}
		return nil
	})
	srv := &server{conf: conf, root: s.root, retries: s.retries}
	for _, l := range ls {
		l := l
		g.Go(func() error {
			for {
				conn, err := l.Accept()
				if err != nil {
					if gctx.Err() != nil || isClosed(err) {
						return nil
					}
					return err
				}
				g.Go(func() error {
					if err := srv.serveConn(gctx, conn); err != nil {
						log.Infof("Serving %s: %v", conn.RemoteAddr(), err)
					}
					return nil
				})
			}
		})
	}
	if err := g.Wait(); err != nil {
		return failure("%v", err)
	}
	return subcommands.ExitSuccess
}

type server struct {
	conf    *config.Config
	root    string
	retries uint64
}

// serveConn answers one request on conn and closes it.
func (srv *server) serveConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	line, err := bufio.NewReader(io.LimitReader(conn, fsinfo.PathMax+1)).ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading request: %w", err)
	}
	name := strings.TrimSuffix(line, "\n")

	f, size, err := srv.open(name)
	if err != nil {
		fmt.Fprintf(conn, "ERR %v\n", err)
		return err
	}
	defer f.Close()

	sock, err := socketOf(conn)
	if err != nil {
		return err
	}
	defer sock.Close()
	sock.SetTimeout(srv.conf.Transfer.Timeout.Duration)
	sock.SetTransferOptions(transferOptions(srv.conf))

	p, err := transmit(ctx, sock, f, []byte(fmt.Sprintf("OK %d\n", size)), srv.retries)
	if err != nil {
		return fmt.Errorf("sending %q after %d bytes: %w", name, p.Total, err)
	}
	log.Debugf("Sent %q (%d bytes) to %s", name, p.Total, conn.RemoteAddr())
	return nil
}

// open opens name under the served root and returns its size.
func (srv *server) open(name string) (*os.File, int64, error) {
	if err := fsinfo.CheckPath(name); err != nil {
		return nil, 0, err
	}
	clean := filepath.Clean(name)
	if !filepath.IsLocal(clean) {
		return nil, 0, fmt.Errorf("%q is outside the served directory: %w", name, syserr.ErrBadPath)
	}
	f, err := os.Open(filepath.Join(srv.root, clean))
	if err != nil {
		return nil, 0, err
	}
	fi, err := fsinfo.StatFile(f, fsinfo.Type|fsinfo.Size)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if fi.Type != fsinfo.TypeRegular {
		f.Close()
		return nil, 0, fmt.Errorf("%q is a %s: %w", name, fi.Type, syserr.ErrInvalidArgument)
	}
	return f, fi.Size, nil
}
