// Package procmutex provides mutexes shared between processes.
//
// A named mutex is backed by a lock file in a namespace directory, so any
// process that uses the same name and namespace contends for the same
// lock. The lock is advisory and is dropped by the kernel when its owner
// exits, so a lock left by a dead owner is simply acquired by the next
// caller.
//
// No retry policy is applied here; callers that want to retry on
// syserr.ErrBusy or syserr.ErrTimedOut do so themselves.
package procmutex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"

	"github.com/walteh/portos/pkg/fsdir"
	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/pool"
	"github.com/walteh/portos/pkg/syserr"
)

// Mech is a locking mechanism.
type Mech int

// Mechanisms. Only MechDefault, MechDefaultTimed and MechFlock are
// available; the others are recognized and rejected with
// syserr.ErrNotImplemented.
const (
	MechDefault Mech = iota
	MechDefaultTimed
	MechFlock
	MechFcntl
	MechSysVSem
	MechPosixSem
	MechProcPthread
)

// String implements fmt.Stringer.
func (m Mech) String() string {
	switch m {
	case MechDefault:
		return "default"
	case MechDefaultTimed:
		return "default-timed"
	case MechFlock:
		return "flock"
	case MechFcntl:
		return "fcntl"
	case MechSysVSem:
		return "sysvsem"
	case MechPosixSem:
		return "posixsem"
	case MechProcPthread:
		return "proc-pthread"
	default:
		return fmt.Sprintf("Mech(%d)", int(m))
	}
}

func (m Mech) supported() bool {
	switch m {
	case MechDefault, MechDefaultTimed, MechFlock:
		return true
	default:
		return false
	}
}

// DefaultName returns the name of the mechanism MechDefault selects.
func DefaultName() string {
	return MechFlock.String()
}

// DefaultPollInterval is how often a timed lock retries a contended lock
// file.
const DefaultPollInterval = 10 * time.Millisecond

// Options configures where named mutexes live.
type Options struct {
	// Namespace is the directory holding lock files. Empty means
	// DefaultNamespace().
	Namespace string

	// PollInterval is the retry period of TimedLock. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration
}

// DefaultNamespace returns the namespace directory used when
// Options.Namespace is empty.
func DefaultNamespace() string {
	return filepath.Join(os.TempDir(), "portos-locks")
}

func (o Options) namespace() string {
	if o.Namespace == "" {
		return DefaultNamespace()
	}
	return o.Namespace
}

func (o Options) poll() time.Duration {
	if o.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return o.PollInterval
}

var tokenReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

// Token returns the lock file name for a mutex name. Separators are
// flattened so that every name maps into the namespace directory, and the
// global prefix keeps lock files apart from anything else stored there.
func Token(name string) string {
	return "global." + tokenReplacer.Replace(name)
}

var errDestroyed = fmt.Errorf("mutex destroyed: %w", syserr.ErrInvalidArgument)

// Mutex is a process mutex. A Mutex may be used from several goroutines;
// only one of them holds it at a time.
type Mutex struct {
	pool *pool.Pool
	mech Mech
	name string
	path string
	poll time.Duration

	// unnamed mutexes own their lock file and remove it on Destroy.
	unnamed bool
	// registered is set when Destroy must cancel a pool registration.
	registered bool

	// sem serializes goroutines of this process. The lock file lock is
	// held per open file, so it cannot tell goroutines sharing one Mutex
	// apart.
	sem *semaphore.Weighted

	mu        sync.Mutex
	fl        *flock.Flock
	held      bool
	destroyed bool
}

// Create creates a mutex. If name is empty the mutex is private to this
// process and the processes it passes the Mutex to; otherwise any process
// using the same name and namespace shares it.
func Create(p *pool.Pool, name string, mech Mech, opts Options) (*Mutex, error) {
	if p == nil {
		return nil, syserr.ErrNoPool
	}
	if !mech.supported() {
		return nil, fmt.Errorf("mechanism %v: %w", mech, syserr.ErrNotImplemented)
	}
	ns := opts.namespace()
	if err := fsdir.MakeRecursive(ns, 0o755); err != nil {
		return nil, err
	}

	m := &Mutex{
		pool: p,
		mech: mech,
		name: name,
		poll: opts.poll(),
		sem:  semaphore.NewWeighted(1),
	}
	if name == "" {
		f, err := os.CreateTemp(ns, "unnamed.*")
		if err != nil {
			return nil, syserr.FromOS("create", ns, err)
		}
		m.path = f.Name()
		m.unnamed = true
		f.Close()
	} else {
		m.path = filepath.Join(ns, Token(name))
		f, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, syserr.FromOS("create", m.path, err)
		}
		f.Close()
	}
	m.fl = flock.New(m.path)
	if err := m.register(); err != nil {
		m.release()
		return nil, err
	}
	log.Debugf("procmutex: created %q at %s (%v)", name, m.path, mech)
	return m, nil
}

// Open returns a new handle to the existing named mutex name. It is used
// by processes that did not inherit the creating handle.
func Open(p *pool.Pool, name string, opts Options) (*Mutex, error) {
	if p == nil {
		return nil, syserr.ErrNoPool
	}
	if name == "" {
		return nil, fmt.Errorf("unnamed mutexes cannot be opened: %w", syserr.ErrInvalidArgument)
	}
	path := filepath.Join(opts.namespace(), Token(name))
	if _, err := os.Stat(path); err != nil {
		return nil, syserr.FromOS("open", path, err)
	}
	m := &Mutex{
		pool: p,
		mech: MechDefault,
		name: name,
		path: path,
		poll: opts.poll(),
		sem:  semaphore.NewWeighted(1),
		fl:   flock.New(path),
	}
	if err := m.register(); err != nil {
		return nil, err
	}
	return m, nil
}

// ChildInit prepares an inherited Mutex for use in a child process. A
// named mutex gets a fresh lock file handle, so the child contends with
// its parent instead of sharing the parent's lock. An unnamed mutex is
// usable as inherited and ChildInit does nothing.
func (m *Mutex) ChildInit() error {
	if m.unnamed || m.name == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return errDestroyed
	}
	if m.held {
		return fmt.Errorf("mutex %q is held: %w", m.name, syserr.ErrBusy)
	}
	if _, err := os.Stat(m.path); err != nil {
		return syserr.FromOS("open", m.path, err)
	}
	if err := m.fl.Close(); err != nil {
		return syserr.FromOS("close", m.path, err)
	}
	m.fl = flock.New(m.path)
	return nil
}

func (m *Mutex) register() error {
	if err := m.pool.Register(m, m.release); err != nil {
		return err
	}
	m.registered = true
	return nil
}

// lockFile returns the current lock handle, or an error if m is
// destroyed.
func (m *Mutex) lockFile() (*flock.Flock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil, errDestroyed
	}
	return m.fl, nil
}

// claim returns the lock handle once the caller holds the semaphore. If m
// was destroyed while the caller waited, the semaphore is given back.
func (m *Mutex) claim() (*flock.Flock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		m.sem.Release(1)
		return nil, errDestroyed
	}
	return m.fl, nil
}

// acquired records that fl is locked. If m was destroyed while fl was
// being locked, the lock is undone instead.
func (m *Mutex) acquired(fl *flock.Flock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		if err := fl.Unlock(); err != nil {
			log.Warningf("procmutex: releasing %s after destroy: %v", m.path, err)
		}
		m.sem.Release(1)
		return errDestroyed
	}
	m.held = true
	return nil
}

// Lock blocks until m is acquired.
func (m *Mutex) Lock() error {
	if _, err := m.lockFile(); err != nil {
		return err
	}
	if err := m.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	fl, err := m.claim()
	if err != nil {
		return err
	}
	if err := fl.Lock(); err != nil {
		m.sem.Release(1)
		return syserr.FromOS("flock", m.path, err)
	}
	return m.acquired(fl)
}

// TryLock acquires m without blocking. It returns syserr.ErrBusy if m is
// held by anyone else.
func (m *Mutex) TryLock() error {
	if _, err := m.lockFile(); err != nil {
		return err
	}
	if !m.sem.TryAcquire(1) {
		return syserr.ErrBusy
	}
	fl, err := m.claim()
	if err != nil {
		return err
	}
	ok, err := fl.TryLock()
	if err != nil {
		m.sem.Release(1)
		return syserr.FromOS("flock", m.path, err)
	}
	if !ok {
		m.sem.Release(1)
		return syserr.ErrBusy
	}
	return m.acquired(fl)
}

// TimedLock acquires m, waiting at most d. It returns syserr.ErrTimedOut
// if m is still held by someone else when d elapses.
func (m *Mutex) TimedLock(d time.Duration) error {
	if d <= 0 {
		if err := m.TryLock(); !errors.Is(err, syserr.ErrBusy) {
			return err
		}
		return syserr.ErrTimedOut
	}
	if _, err := m.lockFile(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return syserr.ErrTimedOut
	}
	fl, err := m.claim()
	if err != nil {
		return err
	}
	ok, err := fl.TryLockContext(ctx, m.poll)
	switch {
	case ok:
		return m.acquired(fl)
	case err == nil || errors.Is(err, context.DeadlineExceeded):
		m.sem.Release(1)
		return syserr.ErrTimedOut
	default:
		m.sem.Release(1)
		return syserr.FromOS("flock", m.path, err)
	}
}

// Unlock releases m. It fails with a native EPERM error if m is not held.
func (m *Mutex) Unlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return errDestroyed
	}
	if !m.held {
		return &syserr.OSError{Op: "unlock", Path: m.path, Errno: errNotHeld}
	}
	if err := m.fl.Unlock(); err != nil {
		return syserr.FromOS("funlock", m.path, err)
	}
	m.held = false
	m.sem.Release(1)
	return nil
}

// Destroy releases m and cancels its pool registration. A held mutex is
// released first. Destroy is idempotent.
func (m *Mutex) Destroy() error {
	if m.registered {
		m.pool.Kill(m)
	}
	return m.release()
}

func (m *Mutex) release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil
	}
	m.destroyed = true
	m.registered = false

	var first error
	if m.held {
		if err := m.fl.Unlock(); err != nil {
			first = syserr.FromOS("funlock", m.path, err)
		}
		m.held = false
		m.sem.Release(1)
	}
	if err := m.fl.Close(); err != nil && first == nil {
		first = syserr.FromOS("close", m.path, err)
	}
	if m.unnamed {
		if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) && first == nil {
			first = syserr.FromOS("remove", m.path, err)
		}
	}
	return first
}

// Name returns the name m was created with, or "" for unnamed mutexes.
func (m *Mutex) Name() string {
	return m.name
}

// Mech returns the mechanism of m.
func (m *Mutex) Mech() Mech {
	return m.mech
}

// LockFile returns the path of the lock file backing m.
func (m *Mutex) LockFile() string {
	return m.path
}

// OSHandle returns the native lock of m. It remains owned by m.
func (m *Mutex) OSHandle() (*flock.Flock, Mech) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fl, m.mech
}

// Put wraps an existing native lock in a Mutex, taking ownership of it. If
// register is false, the Mutex is not released with p and the caller must
// call Destroy.
func Put(p *pool.Pool, fl *flock.Flock, mech Mech, register bool) (*Mutex, error) {
	if p == nil {
		return nil, syserr.ErrNoPool
	}
	if !mech.supported() {
		return nil, fmt.Errorf("mechanism %v: %w", mech, syserr.ErrNotImplemented)
	}
	if fl == nil {
		return nil, syserr.ErrInvalidArgument
	}
	m := &Mutex{
		pool: p,
		mech: mech,
		path: fl.Path(),
		poll: DefaultPollInterval,
		sem:  semaphore.NewWeighted(1),
		fl:   fl,
	}
	if fl.Locked() {
		m.sem.TryAcquire(1)
		m.held = true
	}
	if register {
		if err := m.register(); err != nil {
			return nil, err
		}
	}
	return m, nil
}
