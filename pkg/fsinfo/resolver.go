package fsinfo

import (
	"fmt"
	"os"

	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/syserr"
)

// strategy is one tier of metadata resolution.
type strategy struct {
	name string

	// provides is every field the strategy may resolve. A strategy is
	// skipped when none of the still-missing fields are in provides.
	provides Field

	// applies restricts the strategy to some targets. nil means any.
	applies func(q *query) bool

	// run resolves as much of q.need() as it can. It returns an error only
	// for native failures that make the whole query fail.
	run func(q *query) error
}

// query is the state shared by the strategies of one Resolve call.
type query struct {
	caps   hostCaps
	target Target
	wanted Field
	info   FileInfo

	// goal is wanted plus Min, which every query resolves where the host
	// can.
	goal Field

	// fd is an open descriptor for the object, or -1. It is either the
	// caller's (byHandle) or opened by the handle strategy.
	fd int

	// closeFD releases fd if the query opened it.
	closeFD func() error
}

// need returns the fields of the goal that are still missing.
func (q *query) need() Field {
	return q.goal &^ q.info.Valid
}

// follow reports whether a trailing symlink is resolved.
func (q *query) follow() bool {
	return q.wanted&Link == 0
}

// set marks the fields in f valid. Link only describes how the query was
// made, so it is marked only when it was asked for.
func (q *query) set(f Field) {
	q.info.Valid |= f &^ Link
	q.info.Valid |= f & Link & q.wanted
}

func (q *query) release() {
	if q.closeFD == nil {
		return
	}
	if err := q.closeFD(); err != nil {
		log.Warningf("fsinfo: closing descriptor for %s: %v", q.target, err)
	}
	q.closeFD = nil
	q.fd = -1
}

func isEntry(q *query) bool { return q.target.kind == byEntry }
func notHandle(q *query) bool { return q.target.kind != byHandle }

// resolveEntry copies what the directory enumeration already knew. A
// symlink's type and inode describe the link, so they are only used when
// the caller asked for the link itself.
func resolveEntry(q *query) error {
	cheap := q.target.cheap
	if cheap == nil {
		return nil
	}
	if cheap.Has(Name) {
		q.info.Name = cheap.Name
		q.set(Name)
	}
	if cheap.Has(Type) && cheap.Type == TypeSymlink && q.follow() {
		return nil
	}
	if cheap.Has(Type) {
		q.info.Type = cheap.Type
		q.set(Type | Link)
	}
	if cheap.Has(Inode) {
		q.info.Inode = cheap.Inode
		q.set(Inode)
	}
	return nil
}

// Resolver answers metadata queries with a fixed list of strategies.
type Resolver struct {
	ctx        *Context
	strategies []strategy
}

// NewResolver returns a Resolver using ctx. A nil ctx means
// DefaultContext().
func NewResolver(ctx *Context) *Resolver {
	if ctx == nil {
		ctx = DefaultContext()
	}
	return &Resolver{
		ctx:        ctx,
		strategies: hostStrategies(),
	}
}

// Resolve describes t, resolving at least the wanted fields and Min where
// the host can. Fields read along the way are valid even if they were not
// wanted. It returns a nil error iff every wanted field is valid. If some
// wanted field could not be resolved, it returns the partial result along
// with an error matching syserr.ErrIncomplete.
func (r *Resolver) Resolve(t Target, wanted Field) (*FileInfo, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if t.flush != nil {
		if err := t.flush.Flush(); err != nil {
			return nil, fmt.Errorf("flushing %s: %w", t.path, err)
		}
	}

	q := &query{
		caps:   r.ctx.hostCaps(),
		target: t,
		wanted: wanted,
		goal:   wanted | Min,
		fd:     -1,
	}
	q.info.Path = t.path
	defer q.release()

	for i := range r.strategies {
		s := &r.strategies[i]
		if q.need() == 0 {
			break
		}
		if q.need()&s.provides == 0 {
			continue
		}
		if s.applies != nil && !s.applies(q) {
			continue
		}
		before := q.info.Valid
		if err := s.run(q); err != nil {
			return nil, err
		}
		if log.IsLogging(log.Debug) {
			log.Debugf("fsinfo: %s: %s resolved %v", t, s.name, q.info.Valid&^before)
		}
	}

	fi := q.info
	fi.scrub()
	if missing := fi.Missing(wanted); missing != 0 {
		return &fi, fmt.Errorf("%s: missing %v: %w", t.path, missing, syserr.ErrIncomplete)
	}
	return &fi, nil
}

// Stat describes the object at path.
func (r *Resolver) Stat(path string, wanted Field) (*FileInfo, error) {
	return r.Resolve(ByPath(path), wanted)
}

// StatFile describes an open file.
func (r *Resolver) StatFile(f *os.File, wanted Field) (*FileInfo, error) {
	return r.Resolve(ByHandle(f), wanted)
}

// StatEntry describes the entry name of directory dir, starting from the
// fields in cheap.
func (r *Resolver) StatEntry(dir, name string, cheap *FileInfo, wanted Field) (*FileInfo, error) {
	return r.Resolve(ByEntry(dir, name, cheap), wanted)
}

var defaultResolver = NewResolver(nil)

// Stat describes the object at path using DefaultContext.
func Stat(path string, wanted Field) (*FileInfo, error) {
	return defaultResolver.Stat(path, wanted)
}

// StatFile describes an open file using DefaultContext.
func StatFile(f *os.File, wanted Field) (*FileInfo, error) {
	return defaultResolver.StatFile(f, wanted)
}

// Lstat is Stat with Link added to wanted.
func Lstat(path string, wanted Field) (*FileInfo, error) {
	return defaultResolver.Stat(path, wanted|Link)
}

// translate maps a native failure of op on the query's target into the
// error taxonomy.
func (q *query) translate(op string, err error) error {
	return syserr.FromOS(op, q.target.path, err)
}
