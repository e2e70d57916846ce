// Package fsdir enumerates directories and creates directory trees.
//
// A Dir prefetches its first entry when opened, so a missing or unreadable
// directory is reported by Open rather than by the first Read. Entries
// whose full path would reach the host path limit are skipped: they could
// not be used with any other call.
package fsdir

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/walteh/portos/pkg/fsinfo"
	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/pool"
	"github.com/walteh/portos/pkg/syserr"
)

// pathMax is the limit entry paths are checked against. Tests lower it.
var pathMax = fsinfo.PathMax

// entry is one name as reported by the enumeration.
type entry struct {
	name string
	typ  fsinfo.FileType
	// known is the set of cheap fields the enumeration reported.
	known fsinfo.Field
	ino   uint64
}

// entryReader is the host enumeration cursor.
type entryReader interface {
	// next returns the next raw entry, including "." and "..", or io.EOF.
	next() (entry, error)
	close() error
	handle() uintptr
}

// Options configures a Dir.
type Options struct {
	// Resolver answers queries for fields the enumeration does not report.
	// If nil, a resolver on fsinfo.DefaultContext is used.
	Resolver *fsinfo.Resolver
}

var defaultResolver = fsinfo.NewResolver(nil)

// Dir is an open directory.
type Dir struct {
	pool *pool.Pool
	res  *fsinfo.Resolver

	// root is the directory path, ending in exactly one separator.
	root string

	r entryReader

	// first is the prefetched entry, valid while bof is set.
	first entry
	bof   bool
	eof   bool

	// skipped counts entries dropped for exceeding the path limit.
	skipped int
	closed  bool
}

// Open opens the directory at path and reads its first entry. The Dir is
// released when p is destroyed unless it is closed first.
func Open(p *pool.Pool, path string, opts Options) (*Dir, error) {
	if p == nil {
		return nil, syserr.ErrNoPool
	}
	if err := fsinfo.CheckPath(path); err != nil {
		return nil, err
	}
	d := &Dir{
		pool: p,
		res:  opts.Resolver,
		root: normalize(path),
	}
	if d.res == nil {
		d.res = defaultResolver
	}
	if err := d.open(); err != nil {
		return nil, err
	}
	if err := p.Register(d, d.release); err != nil {
		d.release()
		return nil, err
	}
	return d, nil
}

// normalize returns path ending in exactly one separator.
func normalize(path string) string {
	sep := string(filepath.Separator)
	trimmed := strings.TrimRight(path, sep+"/")
	if trimmed == "" {
		return sep
	}
	return trimmed + sep
}

func (d *Dir) open() error {
	r, err := openReader(d.root)
	if err != nil {
		return syserr.FromOS("opendir", d.root, err)
	}
	d.r = r
	d.eof = false
	e, err := d.advance()
	switch err {
	case nil:
		d.first = e
		d.bof = true
	case io.EOF:
		d.bof = false
		d.eof = true
	default:
		d.r.close()
		d.r = nil
		return syserr.FromOS("readdir", d.root, err)
	}
	return nil
}

// advance returns the next usable entry.
func (d *Dir) advance() (entry, error) {
	for {
		e, err := d.r.next()
		if err != nil {
			return entry{}, err
		}
		if e.name == "." || e.name == ".." {
			continue
		}
		if len(d.root)+len(e.name) >= pathMax {
			d.skipped++
			log.Debugf("fsdir: skipping %q in %s: path too long", e.name, d.root)
			continue
		}
		return e, nil
	}
}

// Path returns the directory path with its trailing separator.
func (d *Dir) Path() string {
	return d.root
}

// Skipped returns the number of entries dropped so far because their path
// would exceed the host limit.
func (d *Dir) Skipped() int {
	return d.skipped
}

// Read returns the next entry with at least the wanted fields, or
// syserr.ErrEndOfStream once the directory is exhausted.
//
// Name, and where the host reports them Type and Inode, come from the
// enumeration itself. Other fields are resolved with a metadata query on
// the entry. As with fsinfo.Resolver.Resolve, the partial result is
// returned together with syserr.ErrIncomplete when some wanted field
// cannot be resolved.
func (d *Dir) Read(wanted fsinfo.Field) (*fsinfo.FileInfo, error) {
	if d.closed {
		return nil, syserr.ErrNoDir
	}
	var e entry
	switch {
	case d.bof:
		e = d.first
		d.first = entry{}
		d.bof = false
	case d.eof:
		return nil, syserr.ErrEndOfStream
	default:
		var err error
		e, err = d.advance()
		if err == io.EOF {
			d.eof = true
			return nil, syserr.ErrEndOfStream
		}
		if err != nil {
			return nil, syserr.FromOS("readdir", d.root, err)
		}
	}

	cheap := &fsinfo.FileInfo{
		Valid: e.known | fsinfo.Name,
		Type:  e.typ,
		Inode: e.ino,
		Name:  e.name,
		Path:  d.root + e.name,
	}
	// A link's type and inode describe the link, not what the caller will
	// open through it.
	if e.typ == fsinfo.TypeSymlink && wanted&fsinfo.Link == 0 {
		cheap.Valid &^= fsinfo.Type | fsinfo.Inode
	}
	if cheap.Missing(wanted&^fsinfo.Link) == 0 {
		if wanted&fsinfo.Link != 0 {
			cheap.Valid |= fsinfo.Link
		}
		return cheap, nil
	}
	return d.res.StatEntry(d.root, e.name, cheap, wanted|cheap.Valid)
}

// Rewind repositions the Dir at its first entry. The host has no rewind
// for an enumeration, so the directory is closed and opened again; entries
// created or removed in between are reflected.
func (d *Dir) Rewind() error {
	if d.closed {
		return syserr.ErrNoDir
	}
	if d.r != nil {
		if err := d.r.close(); err != nil {
			return syserr.FromOS("closedir", d.root, err)
		}
		d.r = nil
	}
	d.bof = false
	d.skipped = 0
	return d.open()
}

// Close releases the Dir. It is safe to call more than once.
func (d *Dir) Close() error {
	if d.closed {
		return nil
	}
	d.pool.Kill(d)
	return d.release()
}

func (d *Dir) release() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.r == nil {
		return nil
	}
	r := d.r
	d.r = nil
	return syserr.FromOS("closedir", d.root, r.close())
}

// Handle returns the host descriptor of the enumeration. It stays owned by
// the Dir and becomes invalid on Rewind or Close.
func (d *Dir) Handle() (uintptr, error) {
	if d.closed || d.r == nil {
		return 0, syserr.ErrNoDir
	}
	return d.r.handle(), nil
}

// PutHandle would wrap a host directory descriptor in a Dir. Enumeration
// state cannot be recovered from a bare descriptor, so it always fails.
func PutHandle(p *pool.Pool, h uintptr) (*Dir, error) {
	if p == nil {
		return nil, syserr.ErrNoPool
	}
	return nil, syserr.ErrNotImplemented
}

// ReadAll reads the remaining entries of d. Entries that could only be
// partly resolved are included with their Valid mask.
func (d *Dir) ReadAll(wanted fsinfo.Field) ([]*fsinfo.FileInfo, error) {
	var all []*fsinfo.FileInfo
	for {
		fi, err := d.Read(wanted)
		if syserr.StatusOf(err) == syserr.EndOfStream {
			return all, nil
		}
		if err != nil && syserr.StatusOf(err) != syserr.Incomplete {
			return all, err
		}
		all = append(all, fi)
	}
}

// Remove removes the empty directory at path.
func Remove(path string) error {
	if err := fsinfo.CheckPath(path); err != nil {
		return err
	}
	return syserr.FromOS("rmdir", path, os.Remove(path))
}
