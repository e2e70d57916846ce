package sockio

import "golang.org/x/sys/unix"

// sendmsg issues one gather send. The descriptor is non-blocking.
func sendmsg(fd int, bufs [][]byte, flags int) (int64, error) {
	n, err := unix.SendmsgBuffers(fd, bufs, nil, nil, flags)
	return int64(n), err
}
