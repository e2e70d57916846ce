//go:build linux || darwin

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/cenkalti/backoff"
	"github.com/coreos/go-systemd/v22/activation"
	"golang.org/x/time/rate"

	"github.com/walteh/portos/pkg/config"
	"github.com/walteh/portos/pkg/fsinfo"
	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/sockio"
	"github.com/walteh/portos/pkg/syserr"
)

// listeners returns the socket-activated listeners passed to the process
// or, if there are none, a listener on addr. addr is "host:port" for TCP
// or "unix:/path" for a Unix domain socket.
func listeners(addr string) ([]net.Listener, error) {
	activated, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("reading activated sockets: %w", err)
	}
	var ls []net.Listener
	for _, l := range activated {
		// Descriptors that are not listening sockets come back nil.
		if l != nil {
			ls = append(ls, l)
		}
	}
	if len(ls) > 0 {
		log.Infof("Using %d socket-activated listeners", len(ls))
		return ls, nil
	}
	if addr == "" {
		return nil, errors.New("no socket-activated listeners and no -listen address")
	}
	network := "tcp"
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		network, addr = "unix", path
	}
	l, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return []net.Listener{l}, nil
}

// socketOf returns a Socket for a duplicate of conn's descriptor.
func socketOf(conn net.Conn) (*sockio.Socket, error) {
	fc, ok := conn.(interface{ File() (*os.File, error) })
	if !ok {
		return nil, fmt.Errorf("%T has no descriptor", conn)
	}
	f, err := fc.File()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return sockio.FromFile(f)
}

// transferOptions converts the configuration into sockio options.
func transferOptions(conf *config.Config) sockio.TransferOptions {
	opts := sockio.TransferOptions{
		SegmentSize: conf.Transfer.SegmentSize,
		StagingSize: conf.Transfer.StagingSize,
	}
	if r := conf.Transfer.RateBytes; r > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(r), r)
	}
	return opts
}

// transmit sends header followed by the whole of f over s. Segments that
// time out are resumed where they stopped, at most retries times.
func transmit(ctx context.Context, s *sockio.Socket, f *os.File, header []byte, retries uint64) (sockio.Progress, error) {
	var total sockio.Progress
	fi, err := fsinfo.StatFile(f, fsinfo.Type|fsinfo.Size)
	if err != nil {
		return total, err
	}
	if fi.Type != fsinfo.TypeRegular {
		return total, fmt.Errorf("%s is a %s, not a regular file: %w", f.Name(), fi.Type, syserr.ErrInvalidArgument)
	}

	pending := header
	attempt := func() error {
		var hdtr *sockio.HeadersTrailers
		if len(pending) > 0 {
			hdtr = &sockio.HeadersTrailers{Headers: [][]byte{pending}}
		}
		p, err := s.SendFile(f, hdtr, total.File, fi.Size-total.File)
		total.Total += p.Total
		total.File += p.File
		// The header is never split from the file data it precedes.
		if sent := p.Total - p.File; sent < int64(len(pending)) {
			if err == nil {
				err = syserr.ErrInvalidArgument
			}
			return backoff.Permanent(err)
		}
		pending = nil
		switch {
		case err == nil:
			return nil
		case errors.Is(err, syserr.ErrTimedOut):
			log.Debugf("Transfer of %s timed out at %d of %d bytes, resuming", f.Name(), total.File, fi.Size)
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	return total, backoff.Retry(attempt, b)
}

// isClosed reports whether err means the listener was closed.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EINVAL)
}
