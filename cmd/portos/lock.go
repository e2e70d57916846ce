package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"

	"github.com/walteh/portos/pkg/config"
	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/procmutex"
	"github.com/walteh/portos/pkg/syserr"
)

// Lock implements subcommands.Command for the "lock" command.
type Lock struct {
	name    string
	timeout time.Duration
	retries uint64
}

// Name implements subcommands.Command.Name.
func (*Lock) Name() string {
	return "lock"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Lock) Synopsis() string {
	return "run a command while holding a named cross-process mutex"
}

// Usage implements subcommands.Command.Usage.
func (*Lock) Usage() string {
	return `lock [flags] -- <command> [args...] - acquire the mutex, run the command, release the mutex.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Lock) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.name, "name", "portos", "mutex name; processes using the same name and namespace exclude each other")
	f.DurationVar(&l.timeout, "timeout", -1, "how long each attempt waits; negative waits forever, zero only tries")
	f.Uint64Var(&l.retries, "retries", 0, "attempts to repeat, with backoff, after an attempt times out")
}

// Execute implements subcommands.Command.Execute.
func (l *Lock) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, p := setup(args)

	m, err := procmutex.Create(p, l.name, procmutex.MechDefault, mutexOptions(conf))
	if err != nil {
		return failure("creating mutex %q: %v", l.name, err)
	}
	defer m.Destroy()

	if err := acquire(ctx, m, l.timeout, l.retries); err != nil {
		return failure("locking %q: %v", l.name, err)
	}
	log.Debugf("Holding %q (%s)", l.name, m.LockFile())

	cmd := exec.CommandContext(ctx, f.Arg(0), f.Args()[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	runErr := cmd.Run()
	if err := m.Unlock(); err != nil {
		log.Warningf("Unlocking %q: %v", l.name, err)
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(runErr, &exitErr):
		return subcommands.ExitStatus(exitErr.ExitCode())
	case runErr != nil:
		return failure("%v", runErr)
	}
	return subcommands.ExitSuccess
}

func mutexOptions(conf *config.Config) procmutex.Options {
	return procmutex.Options{
		Namespace:    conf.Mutex.Namespace,
		PollInterval: conf.Mutex.PollInterval.Duration,
	}
}

// acquire locks m. Each attempt waits up to timeout; attempts that time
// out or find the mutex busy are repeated up to retries times with
// exponential backoff.
func acquire(ctx context.Context, m *procmutex.Mutex, timeout time.Duration, retries uint64) error {
	attempt := func() error {
		var err error
		if timeout < 0 {
			err = m.Lock()
		} else {
			err = m.TimedLock(timeout)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, syserr.ErrTimedOut), errors.Is(err, syserr.ErrBusy):
			log.Debugf("Mutex %q not acquired: %v", m.Name(), err)
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	return backoff.Retry(attempt, b)
}
