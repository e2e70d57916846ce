package eventfd

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Create returns a non-blocking eventfd.
func Create() (Eventfd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return Eventfd{}, fmt.Errorf("failed to create eventfd: %w", err)
	}
	return Eventfd{fd: fd, wfd: fd}, nil
}

func (ev Eventfd) writeSize() int {
	return sizeofUint64
}

func (ev Eventfd) value(buf []byte) uint64 {
	return binary.NativeEndian.Uint64(buf)
}
