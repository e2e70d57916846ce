//go:build linux || darwin

package sockio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/walteh/portos/pkg/syserr"
)

func newPair(t *testing.T) (*Socket, *Socket) {
	t.Helper()
	a, b, err := Pair(unix.SOCK_STREAM)
	if err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// drain reads from s until the end of stream and delivers what it read.
func drain(s *Socket) <-chan []byte {
	ch := make(chan []byte, 1)
	go func() {
		var out bytes.Buffer
		buf := make([]byte, 8192)
		for {
			n, err := s.Recv(buf)
			out.Write(buf[:n])
			if err != nil {
				ch <- out.Bytes()
				return
			}
		}
	}()
	return ch
}

func tempFile(t *testing.T, data []byte) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestSendRecvEndOfStream(t *testing.T) {
	a, b := newPair(t)

	if n, err := a.Send([]byte("hello")); n != 5 || err != nil {
		t.Fatalf("Send = %d, %v, want 5, nil", n, err)
	}
	buf := make([]byte, 16)
	n, err := b.Recv(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("Recv = %q, %v, want hello", buf[:n], err)
	}

	a.Close()
	if _, err := b.Recv(buf); !errors.Is(err, syserr.ErrEndOfStream) {
		t.Fatalf("Recv after peer close = %v, want end of stream", err)
	}
}

func TestRecvTimeout(t *testing.T) {
	_, b := newPair(t)
	b.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err := b.Recv(make([]byte, 1))
	if !errors.Is(err, syserr.ErrTimedOut) {
		t.Fatalf("Recv = %v, want timed out", err)
	}
	if d := time.Since(start); d < 50*time.Millisecond {
		t.Errorf("Recv returned after %v, before the timeout", d)
	}
}

func TestRecvNonBlocking(t *testing.T) {
	_, b := newPair(t)
	b.SetTimeout(0)

	_, err := b.Recv(make([]byte, 1))
	if errno, ok := syserr.Errno(err); !ok || errno != unix.EAGAIN {
		t.Fatalf("Recv = %v, want EAGAIN", err)
	}
}

func TestCloseWakesWaiter(t *testing.T) {
	a, _ := newPair(t)
	errs := make(chan error, 1)
	go func() {
		_, err := a.Recv(make([]byte, 1))
		errs <- err
	}()

	// Give the receiver time to block.
	time.Sleep(20 * time.Millisecond)
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case err := <-errs:
		if errno, _ := syserr.Errno(err); errno != unix.EBADF {
			t.Errorf("Recv = %v, want EBADF", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Recv still blocked after Close")
	}
	if err := a.Close(); err == nil {
		t.Errorf("second Close succeeded")
	}
	if a.FD() != -1 {
		t.Errorf("FD() = %d after Close, want -1", a.FD())
	}
}

func TestWaitTimeout(t *testing.T) {
	a, b := newPair(t)

	if err := a.WaitTimeout(Writable, 0); err != nil {
		t.Errorf("WaitTimeout(Writable) = %v, want nil", err)
	}
	if err := b.WaitTimeout(Readable, 10*time.Millisecond); !errors.Is(err, syserr.ErrTimedOut) {
		t.Errorf("WaitTimeout(Readable) = %v, want timed out", err)
	}
	a.Send([]byte{1})
	if err := b.Wait(Readable); err != nil {
		t.Errorf("Wait(Readable) = %v, want nil", err)
	}
}

func TestSendVectored(t *testing.T) {
	a, b := newPair(t)

	n, err := a.SendVectored([][]byte{[]byte("ab"), nil, []byte("cd"), []byte("e")})
	if n != 5 || err != nil {
		t.Fatalf("SendVectored = %d, %v, want 5, nil", n, err)
	}
	buf := make([]byte, 16)
	m, _ := b.Recv(buf)
	if got := string(buf[:m]); got != "abcde" {
		t.Errorf("Recv = %q, want abcde", got)
	}
}

func TestSendVectoredLimits(t *testing.T) {
	a, b := newPair(t)
	b.SetTimeout(0)

	setVectorLimits(t, maxIovecs, 8)
	n, err := a.SendVectored([][]byte{make([]byte, 5), make([]byte, 5)})
	if n != 0 || !errors.Is(err, syserr.ErrInvalidArgument) {
		t.Errorf("SendVectored over byte limit = %d, %v, want 0, invalid argument", n, err)
	}

	setVectorLimits(t, 2, 8)
	n, err = a.SendVectored([][]byte{{1}, {2}, {3}})
	if n != 0 || !errors.Is(err, syserr.ErrInvalidArgument) {
		t.Errorf("SendVectored over buffer limit = %d, %v, want 0, invalid argument", n, err)
	}

	// Nothing reached the peer.
	if _, err := b.Recv(make([]byte, 1)); err == nil {
		t.Errorf("peer received data from a rejected send")
	}
}

func TestConsume(t *testing.T) {
	bufs := [][]byte{[]byte("ab"), []byte(""), []byte("cde")}
	got := consume(bufs, 3)
	if len(got) != 1 || string(got[0]) != "de" {
		t.Errorf("consume(3) = %q, want [de]", got)
	}
	if got := consume(bufs, 5); len(got) != 0 {
		t.Errorf("consume(5) = %q, want empty", got)
	}
}

func TestSendFile(t *testing.T) {
	for _, tc := range []struct {
		name     string
		size     int
		offset   int64
		length   int64
		headers  [][]byte
		trailers [][]byte
		opts     TransferOptions
	}{
		{
			name:   "plain",
			size:   100 << 10,
			length: 100 << 10,
		},
		{
			name:     "headers and trailers",
			size:     10000,
			length:   10000,
			headers:  [][]byte{[]byte("HTTP/1.1 200 OK\r\n"), []byte("\r\n")},
			trailers: [][]byte{[]byte("--end--")},
			opts:     TransferOptions{SegmentSize: 3000},
		},
		{
			name:     "offset",
			size:     10000,
			offset:   1234,
			length:   5000,
			headers:  [][]byte{[]byte("head")},
			trailers: [][]byte{[]byte("tail")},
		},
		{
			name:     "headers exceed staging",
			size:     5000,
			length:   5000,
			headers:  [][]byte{bytes.Repeat([]byte("h"), 40)},
			trailers: [][]byte{bytes.Repeat([]byte("t"), 40)},
			opts:     TransferOptions{StagingSize: 16, SegmentSize: 1000},
		},
		{
			name:     "trailers exceed remaining staging",
			size:     5000,
			length:   5000,
			headers:  [][]byte{bytes.Repeat([]byte("h"), 10)},
			trailers: [][]byte{bytes.Repeat([]byte("t"), 10)},
			opts:     TransferOptions{StagingSize: 16},
		},
		{
			name:     "zero length",
			size:     100,
			length:   0,
			headers:  [][]byte{[]byte("only")},
			trailers: [][]byte{[]byte("these")},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, b := newPair(t)
			a.SetTransferOptions(tc.opts)
			data := pattern(tc.size)
			f := tempFile(t, data)
			got := drain(b)

			hdtr := &HeadersTrailers{Headers: tc.headers, Trailers: tc.trailers}
			p, err := a.SendFile(f, hdtr, tc.offset, tc.length)
			if err != nil {
				t.Fatalf("SendFile failed: %v", err)
			}
			a.Close()

			var want []byte
			want = append(want, bytes.Join(tc.headers, nil)...)
			want = append(want, data[tc.offset:tc.offset+tc.length]...)
			want = append(want, bytes.Join(tc.trailers, nil)...)

			if p.File != tc.length {
				t.Errorf("Progress.File = %d, want %d", p.File, tc.length)
			}
			if p.Total != int64(len(want)) {
				t.Errorf("Progress.Total = %d, want %d", p.Total, len(want))
			}
			if r := <-got; !bytes.Equal(r, want) {
				t.Errorf("peer received %d bytes, want %d matching bytes", len(r), len(want))
			}
		})
	}
}

func TestSendFileNilHeadersTrailers(t *testing.T) {
	a, b := newPair(t)
	f := tempFile(t, []byte("content"))
	got := drain(b)

	p, err := a.SendFile(f, nil, 0, 7)
	if err != nil || p.Total != 7 || p.File != 7 {
		t.Fatalf("SendFile = %+v, %v, want 7 bytes", p, err)
	}
	a.Close()
	if r := <-got; string(r) != "content" {
		t.Errorf("peer received %q", r)
	}
}

func TestSendFileInvalid(t *testing.T) {
	a, _ := newPair(t)
	f := tempFile(t, []byte("x"))
	if _, err := a.SendFile(nil, nil, 0, 1); !errors.Is(err, syserr.ErrInvalidArgument) {
		t.Errorf("SendFile(nil) = %v, want invalid argument", err)
	}
	if _, err := a.SendFile(f, nil, -1, 1); !errors.Is(err, syserr.ErrInvalidArgument) {
		t.Errorf("SendFile(offset -1) = %v, want invalid argument", err)
	}
}

func TestSendFilePastEnd(t *testing.T) {
	a, b := newPair(t)
	f := tempFile(t, pattern(100))
	got := drain(b)

	p, err := a.SendFile(f, nil, 0, 200)
	if !errors.Is(err, syserr.ErrEndOfStream) {
		t.Fatalf("SendFile = %v, want end of stream", err)
	}
	if p.File != 100 || p.Total != 100 {
		t.Errorf("Progress = %+v, want 100 file bytes", p)
	}
	a.Close()
	if r := <-got; len(r) != 100 {
		t.Errorf("peer received %d bytes, want 100", len(r))
	}
}

func TestSendFileTimeoutProgress(t *testing.T) {
	a, b := newPair(t)
	a.SetTimeout(100 * time.Millisecond)
	const size = 8 << 20
	f := tempFile(t, pattern(size))

	// Nobody reads, so the socket buffer fills and a segment stalls.
	p, err := a.SendFile(f, &HeadersTrailers{Headers: [][]byte{[]byte("hdr")}}, 0, size)
	if !errors.Is(err, syserr.ErrTimedOut) {
		t.Fatalf("SendFile = %+v, %v, want timed out", p, err)
	}
	if p.File >= size {
		t.Fatalf("Progress.File = %d, want less than %d", p.File, size)
	}
	if p.Total != p.File+3 {
		t.Errorf("Progress.Total = %d, want File+3 = %d", p.Total, p.File+3)
	}

	// The peer holds exactly what was reported.
	b.SetTimeout(0)
	var received int64
	buf := make([]byte, 64<<10)
	for {
		n, err := b.Recv(buf)
		received += int64(n)
		if err != nil {
			break
		}
	}
	if received != p.Total {
		t.Errorf("peer received %d bytes, progress reported %d", received, p.Total)
	}
}

func TestSendFileBusy(t *testing.T) {
	a, b := newPair(t)
	const size = 8 << 20
	f := tempFile(t, pattern(size))

	done := make(chan error, 1)
	go func() {
		_, err := a.SendFile(f, nil, 0, size)
		done <- err
	}()
	for !a.transfer().busy.Load() {
		time.Sleep(time.Millisecond)
	}

	if _, err := a.SendFile(f, nil, 0, 1); !errors.Is(err, syserr.ErrBusy) {
		t.Errorf("concurrent SendFile = %v, want busy", err)
	}

	// Unblock the first transfer.
	b.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Errorf("SendFile to a closed peer succeeded")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("SendFile still blocked after the peer closed")
	}
}

func TestSendFilePacing(t *testing.T) {
	a, b := newPair(t)
	a.SetTimeout(50 * time.Millisecond)
	a.SetTransferOptions(TransferOptions{
		SegmentSize: 1,
		Limiter:     rate.NewLimiter(1, 1),
	})
	f := tempFile(t, []byte("ab"))
	got := drain(b)

	p, err := a.SendFile(f, nil, 0, 2)
	if !errors.Is(err, syserr.ErrTimedOut) {
		t.Fatalf("SendFile = %v, want timed out", err)
	}
	if p.File != 1 {
		t.Errorf("Progress.File = %d, want 1", p.File)
	}
	a.Close()
	if r := <-got; string(r) != "a" {
		t.Errorf("peer received %q, want a", r)
	}
}

func TestSendFilePacingChargesEveryByte(t *testing.T) {
	a, b := newPair(t)
	// The bucket starts with one burst; the remaining 4000 bytes need
	// 400ms at 10000 bytes per second.
	a.SetTransferOptions(TransferOptions{Limiter: rate.NewLimiter(10000, 1000)})
	const size = 5000
	f := tempFile(t, pattern(size))
	got := drain(b)

	start := time.Now()
	p, err := a.SendFile(f, nil, 0, size)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}
	if p.File != size {
		t.Errorf("Progress.File = %d, want %d", p.File, size)
	}
	if elapsed < 350*time.Millisecond {
		t.Errorf("SendFile took %v, want at least 400ms at the configured rate", elapsed)
	}
	a.Close()
	if r := <-got; len(r) != size {
		t.Errorf("peer received %d bytes, want %d", len(r), size)
	}
}

func TestCopySegmentReadError(t *testing.T) {
	a, _ := newPair(t)
	path := filepath.Join(t.TempDir(), "writeonly")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte("data")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	fd, err := a.enter()
	if err != nil {
		t.Fatalf("enter failed: %v", err)
	}
	defer a.leave()
	n, err := a.copySegment(fd, f, a.transfer(), 0, 4, time.Time{})
	if n != 0 {
		t.Errorf("copySegment sent %d bytes, want 0", n)
	}
	if errors.Is(err, syserr.ErrEndOfStream) {
		t.Fatalf("copySegment = %v, a read failure reported as end of stream", err)
	}
	if errno, ok := syserr.Errno(err); !ok || errno != unix.EBADF {
		t.Errorf("copySegment = %v, want EBADF", err)
	}

	// A readable file that is too short still ends the stream.
	short := tempFile(t, []byte("ab"))
	if _, err := a.copySegment(fd, short, a.transfer(), 2, 1, time.Time{}); !errors.Is(err, syserr.ErrEndOfStream) {
		t.Errorf("copySegment past the end = %v, want end of stream", err)
	}
}

func TestDatagram(t *testing.T) {
	open := func() (*Socket, *unix.SockaddrInet4) {
		fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
		if err != nil {
			t.Fatalf("Socket failed: %v", err)
		}
		if err := unix.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}); err != nil {
			unix.Close(fd)
			t.Fatalf("Bind failed: %v", err)
		}
		sa, err := unix.Getsockname(fd)
		if err != nil {
			unix.Close(fd)
			t.Fatalf("Getsockname failed: %v", err)
		}
		s, err := New(fd)
		if err != nil {
			unix.Close(fd)
			t.Fatalf("New failed: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s, sa.(*unix.SockaddrInet4)
	}
	a, aAddr := open()
	b, bAddr := open()
	b.SetTimeout(5 * time.Second)

	if n, err := a.SendTo([]byte("ping"), bAddr); n != 4 || err != nil {
		t.Fatalf("SendTo = %d, %v", n, err)
	}
	buf := make([]byte, 16)
	n, from, err := b.RecvFrom(buf)
	if err != nil {
		t.Fatalf("RecvFrom failed: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("RecvFrom = %q, want ping", buf[:n])
	}
	if sa, ok := from.(*unix.SockaddrInet4); !ok || sa.Port != aAddr.Port {
		t.Errorf("RecvFrom sender = %+v, want port %d", from, aAddr.Port)
	}

	// An empty datagram is not the end of anything.
	if _, err := a.SendTo(nil, bAddr); err != nil {
		t.Fatalf("SendTo(empty) failed: %v", err)
	}
	if n, _, err := b.RecvFrom(buf); n != 0 || err != nil {
		t.Errorf("RecvFrom(empty datagram) = %d, %v, want 0, nil", n, err)
	}
}

func TestFromFile(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair failed: %v", err)
	}
	f := os.NewFile(uintptr(fds[0]), "sock")
	defer f.Close()
	defer unix.Close(fds[1])

	s, err := FromFile(f)
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}
	defer s.Close()
	if s.FD() == fds[0] {
		t.Errorf("FromFile reused the file's descriptor")
	}
	if s.Type() != unix.SOCK_STREAM {
		t.Errorf("Type() = %d, want SOCK_STREAM", s.Type())
	}
	if _, err := s.Send([]byte("x")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	buf := make([]byte, 1)
	if n, err := unix.Read(fds[1], buf); n != 1 || err != nil || buf[0] != 'x' {
		t.Errorf("Read = %d, %v, %q", n, err, buf)
	}
}

func TestRelease(t *testing.T) {
	a, _ := newPair(t)
	fd, err := a.Release()
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	defer unix.Close(fd)
	if _, err := a.Send([]byte("x")); err == nil {
		t.Errorf("Send after Release succeeded")
	}
	if _, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE); err != nil {
		t.Errorf("released descriptor is not usable: %v", err)
	}
}
