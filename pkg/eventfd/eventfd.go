//go:build linux || darwin

// Package eventfd provides a wakeup signal that can be polled alongside
// other descriptors.
//
// On Linux it is an eventfd(2). Elsewhere a non-blocking pipe stands in:
// the read end is polled and the write end is signalled.
package eventfd

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// sizeofUint64 is the size of the counter written and read on an eventfd.
const sizeofUint64 = 8

// Eventfd is a pollable wakeup signal. The zero value is not usable; use
// Create.
type Eventfd struct {
	// fd is polled for readability.
	fd int
	// wfd is signalled. It equals fd for a native eventfd.
	wfd int
}

// FD returns the descriptor to poll for readability.
func (ev Eventfd) FD() int {
	return ev.fd
}

// Notify signals ev. Signals coalesce: any number of Notify calls before a
// Read wake a poller once.
func (ev Eventfd) Notify() error {
	return ev.Write(1)
}

// Write adds val to the counter of ev.
func (ev Eventfd) Write(val uint64) error {
	var buf [sizeofUint64]byte
	binary.NativeEndian.PutUint64(buf[:], val)
	for {
		_, err := unix.Write(ev.wfd, buf[:ev.writeSize()])
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			// The counter or pipe is full, so a poller is already
			// guaranteed to wake.
			return nil
		default:
			return err
		}
	}
}

// Read consumes pending signals without blocking. It returns unix.EAGAIN
// if there are none.
func (ev Eventfd) Read() (uint64, error) {
	var buf [sizeofUint64]byte
	for {
		n, err := unix.Read(ev.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return ev.value(buf[:n]), nil
	}
}

// Wait blocks until ev is signalled, then consumes the signal.
func (ev Eventfd) Wait() error {
	for {
		if _, err := ev.Read(); err != unix.EAGAIN {
			return err
		}
		fds := []unix.PollFd{{Fd: int32(ev.fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, -1); err != nil && err != unix.EINTR {
			return err
		}
	}
}

// Close releases ev.
func (ev Eventfd) Close() error {
	err := unix.Close(ev.fd)
	if ev.wfd != ev.fd {
		if werr := unix.Close(ev.wfd); err == nil {
			err = werr
		}
	}
	return err
}
