// Package pool provides scoped ownership for native resources.
//
// A Pool collects release callbacks for the resources allocated within its
// scope. Destroying the pool runs them in reverse registration order, after
// destroying any child pools. Objects that are closed explicitly kill their
// registration so the release runs exactly once.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/syserr"
)

// cleanup is one registered release callback.
type cleanup struct {
	seq     uint64
	res     any
	release func() error
}

func cleanupLess(a, b cleanup) bool {
	return a.seq < b.seq
}

// Pool is a cleanup scope. The zero value is not usable; use New.
type Pool struct {
	parent *Pool

	// mu protects everything below.
	mu        sync.Mutex
	seq       uint64
	cleanups  *btree.BTreeG[cleanup]
	byRes     map[any]uint64
	children  map[*Pool]struct{}
	destroyed bool
}

// New returns a pool. If parent is non-nil the new pool is destroyed
// together with it.
func New(parent *Pool) *Pool {
	p := &Pool{
		parent:   parent,
		cleanups: btree.NewG[cleanup](8, cleanupLess),
		byRes:    make(map[any]uint64),
		children: make(map[*Pool]struct{}),
	}
	if parent != nil {
		parent.mu.Lock()
		if parent.destroyed {
			// A child of a destroyed pool starts out destroyed.
			p.destroyed = true
		} else {
			parent.children[p] = struct{}{}
		}
		parent.mu.Unlock()
	}
	return p
}

// Register arranges for release to run when the pool is destroyed. res
// identifies the registration for Kill and RunCleanup and must be
// comparable; registering the same res twice replaces the first callback.
func (p *Pool) Register(res any, release func() error) error {
	if p == nil {
		return syserr.ErrNoPool
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return fmt.Errorf("register on destroyed pool: %w", syserr.ErrNoPool)
	}
	if seq, ok := p.byRes[res]; ok {
		p.cleanups.Delete(cleanup{seq: seq})
	}
	p.seq++
	p.cleanups.ReplaceOrInsert(cleanup{seq: p.seq, res: res, release: release})
	p.byRes[res] = p.seq
	return nil
}

// Kill cancels the registration for res without running it. It reports
// whether a registration existed.
func (p *Pool) Kill(res any) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(res) != nil
}

// RunCleanup runs and forgets the registration for res.
func (p *Pool) RunCleanup(res any) error {
	if p == nil {
		return syserr.ErrNoPool
	}
	p.mu.Lock()
	c := p.removeLocked(res)
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.release()
}

func (p *Pool) removeLocked(res any) *cleanup {
	seq, ok := p.byRes[res]
	if !ok {
		return nil
	}
	delete(p.byRes, res)
	c, ok := p.cleanups.Delete(cleanup{seq: seq})
	if !ok {
		return nil
	}
	return &c
}

// Len returns the number of pending registrations.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleanups.Len()
}

// Destroy destroys child pools, then runs every pending release callback in
// reverse registration order. All callbacks run even if some fail; the
// first failure is returned and the others are logged. Destroy is
// idempotent.
func (p *Pool) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	children := make([]*Pool, 0, len(p.children))
	for c := range p.children {
		children = append(children, c)
	}
	p.children = nil
	pending := make([]cleanup, 0, p.cleanups.Len())
	p.cleanups.Descend(func(c cleanup) bool {
		pending = append(pending, c)
		return true
	})
	p.cleanups.Clear(false)
	p.byRes = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range children {
		if err := c.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range pending {
		if err := c.release(); err != nil {
			errs = append(errs, err)
		}
	}

	if p.parent != nil {
		p.parent.mu.Lock()
		if p.parent.children != nil {
			delete(p.parent.children, p)
		}
		p.parent.mu.Unlock()
	}

	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs[1:] {
		log.Warningf("pool cleanup failed: %v", err)
	}
	return errs[0]
}

// Destroyed reports whether Destroy has been called.
func (p *Pool) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// ErrDestroyed reports whether err came from using a destroyed pool.
func ErrDestroyed(err error) bool {
	return errors.Is(err, syserr.ErrNoPool)
}
