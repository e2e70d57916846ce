//go:build linux || darwin

package sockio

import (
	"math"
	"time"

	"golang.org/x/sys/unix"

	"github.com/walteh/portos/pkg/syserr"
)

var (
	// maxIovecs is the most buffers a single vectored send accepts. It
	// matches UIO_MAXIOV.
	maxIovecs = 1024

	// maxTransfer is the most bytes a single vectored send accepts.
	maxTransfer int64 = math.MaxInt32
)

// Send writes b to the socket and returns the number of bytes written,
// which may be less than len(b).
func (s *Socket) Send(b []byte) (int, error) {
	fd, err := s.enter()
	if err != nil {
		return 0, err
	}
	defer s.leave()
	for {
		n, err := unix.SendmsgN(fd, b, nil, nil, sendFlags)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if err := s.block(fd, Writable, "send"); err != nil {
				return 0, err
			}
		default:
			return 0, syserr.FromOS("send", "", err)
		}
	}
}

// Recv reads into b. A stream peer that has shut down its write side
// yields syserr.ErrEndOfStream.
func (s *Socket) Recv(b []byte) (int, error) {
	fd, err := s.enter()
	if err != nil {
		return 0, err
	}
	defer s.leave()
	for {
		n, err := unix.Read(fd, b)
		switch err {
		case nil:
			if n == 0 && len(b) > 0 && s.stream() {
				return 0, syserr.ErrEndOfStream
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if err := s.block(fd, Readable, "recv"); err != nil {
				return 0, err
			}
		default:
			return 0, syserr.FromOS("recv", "", err)
		}
	}
}

// SendTo sends b as one datagram to to.
func (s *Socket) SendTo(b []byte, to unix.Sockaddr) (int, error) {
	fd, err := s.enter()
	if err != nil {
		return 0, err
	}
	defer s.leave()
	for {
		n, err := unix.SendmsgN(fd, b, nil, to, sendFlags)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if err := s.block(fd, Writable, "sendto"); err != nil {
				return 0, err
			}
		default:
			return 0, syserr.FromOS("sendto", "", err)
		}
	}
}

// RecvFrom receives one datagram into b and returns its sender. A
// datagram larger than b is truncated.
func (s *Socket) RecvFrom(b []byte) (int, unix.Sockaddr, error) {
	fd, err := s.enter()
	if err != nil {
		return 0, nil, err
	}
	defer s.leave()
	for {
		n, from, err := unix.Recvfrom(fd, b, 0)
		switch err {
		case nil:
			if n == 0 && len(b) > 0 && s.stream() {
				return 0, nil, syserr.ErrEndOfStream
			}
			return n, from, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if err := s.block(fd, Readable, "recvfrom"); err != nil {
				return 0, nil, err
			}
		default:
			return 0, nil, syserr.FromOS("recvfrom", "", err)
		}
	}
}

// checkVector rejects vectors that cannot be passed to one native call.
func checkVector(bufs [][]byte) (int64, error) {
	if len(bufs) > maxIovecs {
		return 0, syserr.ErrInvalidArgument
	}
	var total int64
	for _, b := range bufs {
		total += int64(len(b))
		if total > maxTransfer {
			return 0, syserr.ErrInvalidArgument
		}
	}
	return total, nil
}

// SendVectored writes bufs as one gather operation and returns the number
// of bytes written, which may be less than their total length. A vector
// with too many buffers or too many bytes fails with
// syserr.ErrInvalidArgument before anything is sent.
func (s *Socket) SendVectored(bufs [][]byte) (int64, error) {
	total, err := checkVector(bufs)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	fd, err := s.enter()
	if err != nil {
		return 0, err
	}
	defer s.leave()
	for {
		n, err := sendmsg(fd, bufs, sendFlags)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if err := s.block(fd, Writable, "sendmsg"); err != nil {
				return 0, err
			}
		default:
			return 0, syserr.FromOS("sendmsg", "", err)
		}
	}
}

// writeAll sends every byte of bufs, waiting for writability until
// until. It returns the bytes sent even when it fails.
func (s *Socket) writeAll(fd int, bufs [][]byte, flags int, until time.Time) (int64, error) {
	var sent int64
	bufs = consume(bufs, 0)
	for len(bufs) > 0 {
		n, err := sendmsg(fd, bufs, flags)
		if n > 0 {
			sent += n
			bufs = consume(bufs, n)
		}
		switch err {
		case nil:
		case unix.EINTR:
		case unix.EAGAIN:
			if err := s.waitUntil(fd, Writable, until); err != nil {
				return sent, err
			}
		default:
			return sent, syserr.FromOS("sendmsg", "", err)
		}
	}
	return sent, nil
}

// consume drops the first n bytes from bufs.
func consume(bufs [][]byte, n int64) [][]byte {
	for len(bufs) > 0 && n >= int64(len(bufs[0])) {
		n -= int64(len(bufs[0]))
		bufs = bufs[1:]
	}
	if len(bufs) > 0 && n > 0 {
		bufs = append([][]byte{bufs[0][n:]}, bufs[1:]...)
	}
	// Empty buffers would otherwise spin.
	for len(bufs) > 0 && len(bufs[0]) == 0 {
		bufs = bufs[1:]
	}
	return bufs
}
