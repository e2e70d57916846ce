package procmutex

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/walteh/portos/pkg/pool"
	"github.com/walteh/portos/pkg/syserr"
)

func testOptions(t *testing.T) Options {
	return Options{
		Namespace:    filepath.Join(t.TempDir(), "ns"),
		PollInterval: time.Millisecond,
	}
}

func newPool(t *testing.T) *pool.Pool {
	p := pool.New(nil)
	t.Cleanup(func() { p.Destroy() })
	return p
}

// pair returns two independent handles to one named mutex.
func pair(t *testing.T) (*Mutex, *Mutex) {
	t.Helper()
	p := newPool(t)
	opts := testOptions(t)
	a, err := Create(p, "test/pair", MechDefault, opts)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	b, err := Open(p, "test/pair", opts)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return a, b
}

func TestToken(t *testing.T) {
	for in, want := range map[string]string{
		"plain":        "global.plain",
		"a/b:c":        "global.a_b_c",
		`C:\lock\name`: "global.C__lock_name",
	} {
		if got := Token(in); got != want {
			t.Errorf("Token(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTryLockAcrossHandles(t *testing.T) {
	a, b := pair(t)
	if err := a.TryLock(); err != nil {
		t.Fatalf("a.TryLock() failed: %v", err)
	}

	start := time.Now()
	if err := b.TryLock(); !errors.Is(err, syserr.ErrBusy) {
		t.Fatalf("b.TryLock() = %v, want %v", err, syserr.ErrBusy)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("TryLock blocked for %v", elapsed)
	}

	if err := a.Unlock(); err != nil {
		t.Fatalf("a.Unlock() failed: %v", err)
	}
	if err := b.TryLock(); err != nil {
		t.Fatalf("b.TryLock() after unlock failed: %v", err)
	}
	if err := b.Unlock(); err != nil {
		t.Fatalf("b.Unlock() failed: %v", err)
	}
}

func TestTryLockSameHandle(t *testing.T) {
	m, err := Create(newPool(t), "", MechFlock, testOptions(t))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := m.TryLock(); err != nil {
		t.Fatalf("TryLock() failed: %v", err)
	}
	if err := m.TryLock(); !errors.Is(err, syserr.ErrBusy) {
		t.Fatalf("second TryLock() = %v, want %v", err, syserr.ErrBusy)
	}
	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}
}

func TestTimedLock(t *testing.T) {
	a, b := pair(t)
	if err := a.Lock(); err != nil {
		t.Fatalf("a.Lock() failed: %v", err)
	}

	const wait = 50 * time.Millisecond
	start := time.Now()
	err := b.TimedLock(wait)
	if !errors.Is(err, syserr.ErrTimedOut) {
		t.Fatalf("b.TimedLock() = %v, want %v", err, syserr.ErrTimedOut)
	}
	if errors.Is(err, syserr.ErrBusy) {
		t.Errorf("timeout reported as busy")
	}
	if elapsed := time.Since(start); elapsed < wait {
		t.Errorf("TimedLock returned after %v, want at least %v", elapsed, wait)
	}
	if err := b.TimedLock(0); !errors.Is(err, syserr.ErrTimedOut) {
		t.Errorf("b.TimedLock(0) = %v, want %v", err, syserr.ErrTimedOut)
	}

	if err := a.Unlock(); err != nil {
		t.Fatalf("a.Unlock() failed: %v", err)
	}
	if err := b.TimedLock(5 * time.Second); err != nil {
		t.Fatalf("b.TimedLock() after unlock failed: %v", err)
	}
	b.Unlock()
}

func TestLockWaitsForUnlock(t *testing.T) {
	a, b := pair(t)
	if err := a.Lock(); err != nil {
		t.Fatalf("a.Lock() failed: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- b.Lock()
	}()
	select {
	case err := <-acquired:
		t.Fatalf("b.Lock() returned %v while a held the mutex", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := a.Unlock(); err != nil {
		t.Fatalf("a.Unlock() failed: %v", err)
	}
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("b.Lock() failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("b.Lock() did not return after unlock")
	}
	b.Unlock()
}

func TestMutualExclusion(t *testing.T) {
	a, b := pair(t)
	var (
		inside  atomic.Int32
		counter int
		g       errgroup.Group
	)
	for i := 0; i < 8; i++ {
		m := a
		if i%2 == 1 {
			m = b
		}
		g.Go(func() error {
			for j := 0; j < 20; j++ {
				if err := m.Lock(); err != nil {
					return err
				}
				if n := inside.Add(1); n != 1 {
					t.Errorf("%d holders inside the critical section", n)
				}
				counter++
				inside.Add(-1)
				if err := m.Unlock(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	if counter != 160 {
		t.Errorf("counter = %d, want 160", counter)
	}
}

func TestUnsupportedMech(t *testing.T) {
	p := newPool(t)
	for _, mech := range []Mech{MechFcntl, MechSysVSem, MechPosixSem, MechProcPthread, Mech(42)} {
		_, err := Create(p, "unsupported", mech, testOptions(t))
		if !errors.Is(err, syserr.ErrNotImplemented) {
			t.Errorf("Create(%v) = %v, want %v", mech, err, syserr.ErrNotImplemented)
		}
	}
	if p.Len() != 0 {
		t.Errorf("failed creates left %d registrations", p.Len())
	}
}

func TestUnlockNotHeld(t *testing.T) {
	m, err := Create(newPool(t), "", MechDefault, testOptions(t))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	err = m.Unlock()
	var oe *syserr.OSError
	if !errors.As(err, &oe) || oe.Errno != errNotHeld {
		t.Fatalf("Unlock() = %v, want OSError{%v}", err, errNotHeld)
	}
}

func TestDestroy(t *testing.T) {
	p := newPool(t)
	m, err := Create(p, "", MechDefault, testOptions(t))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	path := m.LockFile()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	if err := m.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := m.Destroy(); err != nil {
			t.Fatalf("Destroy() #%d failed: %v", i, err)
		}
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("unnamed lock file not removed: %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Destroy left %d registrations", p.Len())
	}
	if err := m.Lock(); !errors.Is(err, syserr.ErrInvalidArgument) {
		t.Errorf("Lock() after Destroy = %v, want %v", err, syserr.ErrInvalidArgument)
	}
}

func TestDestroyReleasesHeldLock(t *testing.T) {
	a, b := pair(t)
	if err := a.Lock(); err != nil {
		t.Fatalf("a.Lock() failed: %v", err)
	}
	if err := a.Destroy(); err != nil {
		t.Fatalf("a.Destroy() failed: %v", err)
	}
	if err := b.TryLock(); err != nil {
		t.Fatalf("b.TryLock() after destroy failed: %v", err)
	}
	b.Unlock()
}

func TestDestroyWhileWaiting(t *testing.T) {
	a, b := pair(t)
	if err := a.Lock(); err != nil {
		t.Fatalf("a.Lock() failed: %v", err)
	}
	errs := make(chan error, 1)
	go func() {
		errs <- a.Lock()
	}()
	// Let the second Lock park on the held mutex.
	time.Sleep(20 * time.Millisecond)

	if err := a.Destroy(); err != nil {
		t.Fatalf("a.Destroy() failed: %v", err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, syserr.ErrInvalidArgument) {
			t.Errorf("waiting Lock() = %v, want %v", err, syserr.ErrInvalidArgument)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("waiting Lock() did not return after Destroy")
	}

	a.mu.Lock()
	held := a.held
	a.mu.Unlock()
	if held {
		t.Errorf("destroyed mutex is marked held")
	}
	if err := b.TryLock(); err != nil {
		t.Fatalf("b.TryLock() after destroy failed: %v", err)
	}
	b.Unlock()
}

func TestPoolDestroyReleasesMutex(t *testing.T) {
	p := pool.New(nil)
	opts := testOptions(t)
	a, err := Create(p, "pooled", MechDefault, opts)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := a.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("pool Destroy() failed: %v", err)
	}

	b, err := Open(newPool(t), "pooled", opts)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := b.TryLock(); err != nil {
		t.Fatalf("TryLock() after pool destroy failed: %v", err)
	}
	b.Unlock()
}

func TestOpenErrors(t *testing.T) {
	p := newPool(t)
	opts := testOptions(t)
	if _, err := Open(p, "never-created", opts); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open(missing) = %v, want not-exist", err)
	}
	if _, err := Open(p, "", opts); !errors.Is(err, syserr.ErrInvalidArgument) {
		t.Errorf("Open(unnamed) = %v, want %v", err, syserr.ErrInvalidArgument)
	}
	if _, err := Open(nil, "x", opts); !errors.Is(err, syserr.ErrNoPool) {
		t.Errorf("Open(nil pool) = %v, want %v", err, syserr.ErrNoPool)
	}
	if _, err := Create(nil, "x", MechDefault, opts); !errors.Is(err, syserr.ErrNoPool) {
		t.Errorf("Create(nil pool) = %v, want %v", err, syserr.ErrNoPool)
	}
}

func TestChildInit(t *testing.T) {
	p := newPool(t)
	opts := testOptions(t)

	unnamed, err := Create(p, "", MechDefault, opts)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := unnamed.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if err := unnamed.ChildInit(); err != nil {
		t.Errorf("ChildInit(unnamed) = %v, want nil", err)
	}

	named, err := Create(p, "child", MechDefault, opts)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	before, _ := named.OSHandle()
	if err := named.ChildInit(); err != nil {
		t.Fatalf("ChildInit(named) failed: %v", err)
	}
	if after, _ := named.OSHandle(); after == before {
		t.Errorf("ChildInit kept the inherited lock handle")
	}
	if before.Locked() {
		t.Errorf("inherited lock handle still locked after ChildInit")
	}
	// No lock lingers on the file through the old handle.
	other := flock.New(named.LockFile())
	if ok, err := other.TryLock(); !ok || err != nil {
		t.Fatalf("TryLock() on the lock file = %t, %v, want true", ok, err)
	}
	other.Unlock()
	if err := named.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if err := named.ChildInit(); !errors.Is(err, syserr.ErrBusy) {
		t.Errorf("ChildInit(held) = %v, want %v", err, syserr.ErrBusy)
	}
	named.Unlock()
}

func TestPut(t *testing.T) {
	p := newPool(t)
	path := filepath.Join(t.TempDir(), "put.lock")
	fl := flock.New(path)

	if _, err := Put(nil, fl, MechFlock, true); !errors.Is(err, syserr.ErrNoPool) {
		t.Errorf("Put(nil pool) = %v, want %v", err, syserr.ErrNoPool)
	}
	if _, err := Put(p, fl, MechSysVSem, true); !errors.Is(err, syserr.ErrNotImplemented) {
		t.Errorf("Put(sysvsem) = %v, want %v", err, syserr.ErrNotImplemented)
	}

	m, err := Put(p, fl, MechFlock, false)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("Put without registration registered %d cleanups", p.Len())
	}
	if got, mech := m.OSHandle(); got != fl || mech != MechFlock {
		t.Errorf("OSHandle() = %p, %v, want %p, %v", got, mech, fl, MechFlock)
	}
	if err := m.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}
	if err := m.Destroy(); err != nil {
		t.Fatalf("Destroy() failed: %v", err)
	}
}

func TestMechString(t *testing.T) {
	if got := DefaultName(); got != "flock" {
		t.Errorf("DefaultName() = %q, want flock", got)
	}
	if got := MechProcPthread.String(); got != "proc-pthread" {
		t.Errorf("String() = %q", got)
	}
}
