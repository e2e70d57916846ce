package eventfd

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Create returns a pipe-backed signal with both ends non-blocking.
func Create() (Eventfd, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return Eventfd{}, fmt.Errorf("failed to create pipe for eventfd emulation: %w", err)
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return Eventfd{}, err
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return Eventfd{}, err
		}
	}
	return Eventfd{fd: p[0], wfd: p[1]}, nil
}

// writeSize is one byte: the pipe only needs to become readable.
func (ev Eventfd) writeSize() int {
	return 1
}

// value reports how many signals were drained.
func (ev Eventfd) value(buf []byte) uint64 {
	return uint64(len(buf))
}
