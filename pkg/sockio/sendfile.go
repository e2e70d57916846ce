//go:build linux || darwin

package sockio

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/syserr"
)

const (
	// DefaultSegmentSize is the most file bytes sent per segment. Each
	// segment must drain within one socket timeout.
	DefaultSegmentSize = 64 << 10

	// DefaultStagingSize is the size of the buffer headers and trailers
	// are collapsed into.
	DefaultStagingSize = 4096

	// copyChunk bounds each read when the host cannot send from a file
	// directly.
	copyChunk = 32 << 10
)

// HeadersTrailers are buffers sent before and after the file data.
type HeadersTrailers struct {
	Headers  [][]byte
	Trailers [][]byte
}

func (h *HeadersTrailers) headers() [][]byte {
	if h == nil {
		return nil
	}
	return h.Headers
}

func (h *HeadersTrailers) trailers() [][]byte {
	if h == nil {
		return nil
	}
	return h.Trailers
}

// Progress reports what a SendFile call sent, including when it fails.
type Progress struct {
	// Total is every byte sent: headers, file data and trailers.
	Total int64
	// File is the file data alone.
	File int64
}

// TransferOptions tune SendFile.
type TransferOptions struct {
	// SegmentSize is the most file bytes sent per segment.
	SegmentSize int
	// StagingSize is the size of the header and trailer staging buffer.
	StagingSize int
	// Limiter, if set, paces file data. A segment that cannot be
	// admitted within the socket timeout fails with syserr.ErrTimedOut.
	Limiter *rate.Limiter
}

func (o TransferOptions) withDefaults() TransferOptions {
	if o.SegmentSize <= 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.StagingSize <= 0 {
		o.StagingSize = DefaultStagingSize
	}
	return o
}

// transfer is per-socket send-file state, created on first use.
type transfer struct {
	busy    atomic.Bool
	staging []byte
	copyBuf []byte
}

// SetTransferOptions replaces the options used by later SendFile calls.
func (s *Socket) SetTransferOptions(o TransferOptions) {
	o = o.withDefaults()
	s.xferOpts.Store(&o)
}

func (s *Socket) transferOptions() TransferOptions {
	if o := s.xferOpts.Load(); o != nil {
		return *o
	}
	return TransferOptions{}.withDefaults()
}

func (s *Socket) transfer() *transfer {
	s.xferOnce.Do(func() {
		s.xfer = &transfer{}
	})
	return s.xfer
}

func totalLen(bufs [][]byte) int {
	var n int
	for _, b := range bufs {
		n += len(b)
	}
	return n
}

// collapse copies bufs into dst, which must be large enough.
func collapse(dst []byte, bufs [][]byte) []byte {
	dst = dst[:0]
	for _, b := range bufs {
		dst = append(dst, b...)
	}
	return dst
}

// SendFile sends length bytes of f starting at offset, preceded by the
// headers and followed by the trailers of hdtr, which may be nil. f's own
// offset is not used or changed.
//
// The file data goes out in segments. Each segment, together with any
// headers or trailers sharing it, must complete within the socket
// timeout or SendFile returns syserr.ErrTimedOut. The returned Progress
// is accurate on every return, and no send is outstanding once SendFile
// returns. A concurrent SendFile on the same socket fails with
// syserr.ErrBusy.
func (s *Socket) SendFile(f *os.File, hdtr *HeadersTrailers, offset, length int64) (Progress, error) {
	var p Progress
	if f == nil || offset < 0 || length < 0 {
		return p, syserr.ErrInvalidArgument
	}
	x := s.transfer()
	if !x.busy.CompareAndSwap(false, true) {
		return p, syserr.ErrBusy
	}
	defer x.busy.Store(false)

	fd, err := s.enter()
	if err != nil {
		return p, err
	}
	defer s.leave()

	opts := s.transferOptions()
	if len(x.staging) != opts.StagingSize {
		x.staging = make([]byte, opts.StagingSize)
	}
	timeout := s.Timeout()

	headers, trailers := hdtr.headers(), hdtr.trailers()
	if length == 0 {
		n, err := s.writeAll(fd, headers, 0, deadlineAfter(timeout))
		p.Total += n
		if err != nil {
			return p, err
		}
		n, err = s.writeAll(fd, trailers, 0, deadlineAfter(timeout))
		p.Total += n
		return p, err
	}

	var head []byte
	if hl := totalLen(headers); hl > 0 {
		if hl <= len(x.staging) {
			head = collapse(x.staging, headers)
		} else {
			n, err := s.writeAll(fd, headers, 0, deadlineAfter(timeout))
			p.Total += n
			if err != nil {
				return p, err
			}
		}
	}

	in := int(f.Fd())
	tl := totalLen(trailers)
	separateTrailers := false
	copyOnly := false
	segSize := int64(opts.SegmentSize)
	if l := opts.Limiter; l != nil && l.Limit() != rate.Inf && l.Burst() > 0 {
		// A segment is admitted by the limiter in one wait.
		segSize = min(segSize, int64(l.Burst()))
	}
	for p.File < length {
		seg := min(length-p.File, segSize)
		var tail []byte
		if p.File+seg == length && tl > 0 {
			if len(head)+tl <= len(x.staging) {
				tail = collapse(x.staging[len(head):], trailers)
			} else {
				separateTrailers = true
			}
		}

		until := deadlineAfter(timeout)
		if opts.Limiter != nil {
			if err := pace(opts.Limiter, seg, until); err != nil {
				return p, err
			}
		}

		if len(head) > 0 {
			n, err := s.writeAll(fd, [][]byte{head}, moreFlag, until)
			p.Total += n
			if err != nil {
				return p, err
			}
			head = nil
		}

		var n int64
		if !copyOnly {
			n, err = s.sendFileSegment(fd, in, offset+p.File, seg, until)
			if err == errUnsupported {
				log.Debugf("sockio: sendfile unsupported for fd %d, copying", in)
				copyOnly = true
				err = nil
			}
		}
		if copyOnly {
			var c int64
			c, err = s.copySegment(fd, f, x, offset+p.File+n, seg-n, until)
			n += c
		}
		p.File += n
		p.Total += n
		if err != nil {
			return p, err
		}

		if len(tail) > 0 {
			n, err := s.writeAll(fd, [][]byte{tail}, 0, until)
			p.Total += n
			if err != nil {
				return p, err
			}
		}
	}

	if separateTrailers {
		n, err := s.writeAll(fd, trailers, 0, deadlineAfter(timeout))
		p.Total += n
		if err != nil {
			return p, err
		}
	}
	return p, nil
}

// pace waits for the limiter to admit seg bytes before until. Every byte
// is charged, in chunks no larger than the limiter's burst.
func pace(l *rate.Limiter, seg int64, until time.Time) error {
	if l.Limit() == rate.Inf {
		return nil
	}
	ctx := context.Background()
	if !until.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, until)
		defer cancel()
	}
	burst := int64(l.Burst())
	if burst <= 0 {
		return fmt.Errorf("limiter admits no bytes: %w", syserr.ErrTimedOut)
	}
	for seg > 0 {
		n := min(seg, burst)
		if err := l.WaitN(ctx, int(n)); err != nil {
			return fmt.Errorf("pacing %d bytes: %w", n, syserr.ErrTimedOut)
		}
		seg -= n
	}
	return nil
}

// errUnsupported means the host cannot send from this file to this
// socket directly.
var errUnsupported = fmt.Errorf("sendfile unsupported: %w", syserr.ErrNotImplemented)

// sendFileSegment sends count bytes of the file in at off with
// sendfile(2). If the host refuses before anything is sent it returns
// errUnsupported.
func (s *Socket) sendFileSegment(fd, in int, off, count int64, until time.Time) (int64, error) {
	var sent int64
	for sent < count {
		o := off + sent
		n, err := unix.Sendfile(fd, in, &o, int(count-sent))
		// darwin reports partial progress alongside EAGAIN, and Linux
		// reports -1 on error.
		if n > 0 {
			sent += int64(n)
		}
		switch err {
		case nil:
			if n <= 0 {
				return sent, fileEnded(off + sent)
			}
		case unix.EINTR:
		case unix.EAGAIN:
			if err := s.waitUntil(fd, Writable, until); err != nil {
				return sent, err
			}
		default:
			if sent == 0 && unsupported(err) {
				return 0, errUnsupported
			}
			return sent, syserr.FromOS("sendfile", "", err)
		}
	}
	return sent, nil
}

func unsupported(err error) bool {
	e, ok := err.(unix.Errno)
	if !ok {
		return false
	}
	// ENOTSUP and EOPNOTSUPP are the same value on Linux.
	return e == unix.EINVAL || e == unix.ENOSYS || e == unix.EOPNOTSUPP || e == unix.ENOTSUP || e == unix.ENOTSOCK
}

// copySegment sends count bytes of f at off by reading them into memory.
func (s *Socket) copySegment(fd int, f *os.File, x *transfer, off, count int64, until time.Time) (int64, error) {
	if x.copyBuf == nil {
		x.copyBuf = make([]byte, copyChunk)
	}
	var sent int64
	for sent < count {
		buf := x.copyBuf[:min(count-sent, int64(len(x.copyBuf)))]
		r, err := f.ReadAt(buf, off+sent)
		if r == 0 {
			if err == nil || err == io.EOF {
				return sent, fileEnded(off + sent)
			}
			return sent, syserr.FromOS("pread", f.Name(), err)
		}
		n, err := s.writeAll(fd, [][]byte{buf[:r]}, 0, until)
		sent += n
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func fileEnded(off int64) error {
	return fmt.Errorf("file ends at offset %d: %w", off, syserr.ErrEndOfStream)
}
