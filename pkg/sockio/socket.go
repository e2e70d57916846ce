//go:build linux || darwin

package sockio

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/walteh/portos/pkg/eventfd"
	"github.com/walteh/portos/pkg/syserr"
)

// errClosed is returned by operations on a closed Socket, including
// operations that were waiting when Close was called.
var errClosed error = &syserr.OSError{Op: "socket", Errno: unix.EBADF}

// Direction selects what Wait waits for.
type Direction int

// Directions.
const (
	Readable Direction = iota
	Writable
)

// Socket is a socket descriptor with a timeout. It is safe for concurrent
// use, except that only one SendFile may run at a time.
type Socket struct {
	// fd is the descriptor, or -1 once closed or released.
	fd atomic.Int32

	// typ is SOCK_STREAM, SOCK_DGRAM or SOCK_SEQPACKET.
	typ int

	// efd is signalled by Close to wake blocked operations.
	efd eventfd.Eventfd

	// gate is held for reading by every operation using fd, and for
	// writing by Close while it waits for them to leave.
	gate sync.RWMutex

	// timeout is in nanoseconds: negative waits forever, zero never
	// waits.
	timeout atomic.Int64

	xferOnce sync.Once
	xfer     *transfer
	xferOpts atomic.Pointer[TransferOptions]
}

// New wraps fd, which must be a socket, and takes ownership of it. fd is
// switched to non-blocking mode. The timeout starts out infinite.
func New(fd int) (*Socket, error) {
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return nil, syserr.FromOS("getsockopt", "", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, syserr.FromOS("fcntl", "", err)
	}
	if err := prepare(fd); err != nil {
		return nil, syserr.FromOS("setsockopt", "", err)
	}
	efd, err := eventfd.Create()
	if err != nil {
		return nil, err
	}
	s := &Socket{typ: typ, efd: efd}
	s.fd.Store(int32(fd))
	s.timeout.Store(-1)
	return s, nil
}

// FromFile returns a Socket for a duplicate of f's descriptor. f is left
// open and still owned by the caller.
func FromFile(f *os.File) (*Socket, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		dup    int
		dupErr error
	)
	if err := rc.Control(func(fd uintptr) {
		dup, dupErr = unix.Dup(int(fd))
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, syserr.FromOS("dup", "", dupErr)
	}
	unix.CloseOnExec(dup)
	s, err := New(dup)
	if err != nil {
		unix.Close(dup)
		return nil, err
	}
	return s, nil
}

// Pair returns a connected pair of Unix domain sockets of type typ.
func Pair(typ int) (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, typ|sockCloexec, 0)
	if err != nil {
		return nil, nil, syserr.FromOS("socketpair", "", err)
	}
	if err := setCloexec(fds); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, syserr.FromOS("fcntl", "", err)
	}
	a, err := New(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := New(fds[1])
	if err != nil {
		a.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return a, b, nil
}

// FD returns the descriptor, or -1 if s is closed. It remains owned by s.
func (s *Socket) FD() int {
	return int(s.fd.Load())
}

// Type returns the socket type, such as unix.SOCK_STREAM.
func (s *Socket) Type() int {
	return s.typ
}

func (s *Socket) stream() bool {
	return s.typ == unix.SOCK_STREAM
}

// SetTimeout sets the timeout applied to every wait. A negative d waits
// forever; zero makes operations fail with EAGAIN instead of waiting.
func (s *Socket) SetTimeout(d time.Duration) {
	if d < 0 {
		d = -1
	}
	s.timeout.Store(int64(d))
}

// Timeout returns the current timeout.
func (s *Socket) Timeout() time.Duration {
	return time.Duration(s.timeout.Load())
}

// enter returns the descriptor for an operation. The caller must call
// leave if enter succeeds.
func (s *Socket) enter() (int, error) {
	s.gate.RLock()
	fd := s.fd.Load()
	if fd < 0 {
		s.gate.RUnlock()
		return -1, errClosed
	}
	return int(fd), nil
}

func (s *Socket) leave() {
	s.gate.RUnlock()
}

// detach stops new operations, wakes waiting ones and waits for them to
// return. It returns the descriptor, or -1 if s was already detached.
func (s *Socket) detach() int {
	fd := s.fd.Swap(-1)
	if fd < 0 {
		return -1
	}
	s.efd.Notify()
	s.gate.Lock()
	s.efd.Close()
	s.gate.Unlock()
	return int(fd)
}

// Close closes the socket. Operations waiting on it return an EBADF error.
func (s *Socket) Close() error {
	fd := s.detach()
	if fd < 0 {
		return errClosed
	}
	return syserr.FromOS("close", "", unix.Close(fd))
}

// Release detaches the descriptor from s and returns it to the caller,
// who becomes responsible for closing it. The descriptor stays
// non-blocking.
func (s *Socket) Release() (int, error) {
	fd := s.detach()
	if fd < 0 {
		return -1, errClosed
	}
	return fd, nil
}

// deadlineAfter converts a timeout into a deadline. The zero time means no
// deadline.
func deadlineAfter(d time.Duration) time.Time {
	if d < 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// waitUntil blocks until fd is ready in the given direction, s is closed,
// or deadline passes. A zero deadline never passes.
func (s *Socket) waitUntil(fd int, dir Direction, deadline time.Time) error {
	events := [2]unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLIN},
		// Signalled by Close.
		{Fd: int32(s.efd.FD()), Events: unix.POLLIN},
	}
	if dir == Writable {
		events[0].Events = unix.POLLOUT
	}
	for {
		ms := -1
		if !deadline.IsZero() {
			ms = 0
			if d := time.Until(deadline); d > 0 {
				ms = int((d + time.Millisecond - 1) / time.Millisecond)
			}
		}
		events[0].Revents, events[1].Revents = 0, 0
		n, err := unix.Poll(events[:], ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return syserr.FromOS("poll", "", err)
		}
		if events[1].Revents&unix.POLLIN != 0 {
			return errClosed
		}
		if n > 0 {
			return nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return syserr.ErrTimedOut
		}
	}
}

// block waits after an operation on fd returned EAGAIN. With a zero
// timeout it fails immediately with that EAGAIN.
func (s *Socket) block(fd int, dir Direction, op string) error {
	d := s.Timeout()
	if d == 0 {
		return syserr.FromOS(op, "", unix.EAGAIN)
	}
	return s.waitUntil(fd, dir, deadlineAfter(d))
}

// Wait blocks until s is ready in direction dir, bounded by the socket
// timeout. It returns syserr.ErrTimedOut if the timeout expires first.
func (s *Socket) Wait(dir Direction) error {
	return s.WaitTimeout(dir, s.Timeout())
}

// WaitTimeout is Wait with an explicit timeout. A negative d waits
// forever and zero only checks readiness.
func (s *Socket) WaitTimeout(dir Direction, d time.Duration) error {
	fd, err := s.enter()
	if err != nil {
		return err
	}
	defer s.leave()
	if d == 0 {
		return s.waitUntil(fd, dir, time.Now())
	}
	return s.waitUntil(fd, dir, deadlineAfter(d))
}
