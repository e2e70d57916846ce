package sockio

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// buildIovec builds an iovec slice from the given []byte slice, skipping
// empty buffers.
func buildIovec(bufs [][]byte, iovecs []unix.Iovec) []unix.Iovec {
	for i := range bufs {
		if l := len(bufs[i]); l > 0 {
			iov := unix.Iovec{Base: &bufs[i][0]}
			iov.SetLen(l)
			iovecs = append(iovecs, iov)
		}
	}
	return iovecs
}

// sendmsg issues one non-blocking gather send.
func sendmsg(fd int, bufs [][]byte, flags int) (int64, error) {
	iovecs := buildIovec(bufs, make([]unix.Iovec, 0, len(bufs)))
	if len(iovecs) == 0 {
		return 0, nil
	}
	var msg unix.Msghdr
	msg.Iov = &iovecs[0]
	msg.SetIovlen(len(iovecs))
	n, _, e := unix.RawSyscall(unix.SYS_SENDMSG, uintptr(fd), uintptr(unsafe.Pointer(&msg)), uintptr(flags|unix.MSG_DONTWAIT))
	if e != 0 {
		return 0, e
	}
	return int64(n), nil
}
