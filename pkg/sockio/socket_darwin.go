package sockio

import "golang.org/x/sys/unix"

const (
	// darwin has no SOCK_CLOEXEC; see setCloexec.
	sockCloexec = 0

	sendFlags = 0
	moreFlag  = 0
)

func setCloexec(fds [2]int) error {
	for _, fd := range fds {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
			return err
		}
	}
	return nil
}

// prepare disables SIGPIPE for fd, which darwin cannot do per send.
func prepare(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
}
