//go:build linux || darwin

package fsinfo

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/walteh/portos/pkg/log"
)

// rawStat is the part of a native stat result the strategies read.
type rawStat struct {
	mode   uint32
	size   int64
	blocks int64
	atime  time.Time
	mtime  time.Time
	ctime  time.Time
	uid    uint32
	gid    uint32
	ino    uint64
	dev    uint64
	nlink  uint64
}

func hostStrategies() []strategy {
	return []strategy{
		{
			name:     "entry",
			provides: Dirent | Link,
			applies:  isEntry,
			run:      resolveEntry,
		},
		{
			name:     "attributes",
			provides: Min | Name | Link,
			applies:  notHandle,
			run:      resolveAttributes,
		},
		{
			name:     "handle",
			provides: Min | Ident | Nlink | Name | Link,
			applies:  wantsHandle,
			run:      resolveHandle,
		},
		{
			name:     "security",
			provides: Owner | Prot,
			run:      resolveSecurity,
		},
		{
			name:     "allocation",
			provides: CSize,
			run:      resolveAllocation,
		},
	}
}

// wantsHandle reports whether an open descriptor is needed: always for
// handles, and for paths only when the identity of the object is wanted.
// Identity is read from a descriptor so that every later field describes
// the same object even if the path is replaced concurrently.
func wantsHandle(q *query) bool {
	return q.target.kind == byHandle || q.need()&(Ident|Nlink) != 0
}

func fileType(mode uint32) FileType {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return TypeRegular
	case unix.S_IFDIR:
		return TypeDir
	case unix.S_IFCHR:
		return TypeCharDevice
	case unix.S_IFBLK:
		return TypeBlockDevice
	case unix.S_IFIFO:
		return TypePipe
	case unix.S_IFLNK:
		return TypeSymlink
	case unix.S_IFSOCK:
		return TypeSocket
	default:
		return TypeUnknown
	}
}

// fill copies the fields in f that are not valid yet from st.
func (q *query) fill(st *rawStat, f Field) {
	f &^= q.info.Valid
	fi := &q.info
	if f&Type != 0 {
		fi.Type = fileType(st.mode)
	}
	if f&Size != 0 {
		fi.Size = st.size
	}
	if f&Atime != 0 {
		fi.Atime = st.atime
	}
	if f&Mtime != 0 {
		fi.Mtime = st.mtime
	}
	if f&Ctime != 0 {
		fi.Ctime = st.ctime
	}
	if f&Inode != 0 {
		fi.Inode = st.ino
	}
	if f&Dev != 0 {
		fi.Device = st.dev
	}
	if f&Nlink != 0 {
		fi.Nlink = st.nlink
	}
	if f&User != 0 {
		fi.User = st.uid
	}
	if f&Group != 0 {
		fi.Group = st.gid
	}
	q.set(f)
}

// stat describes the object through the query's descriptor if there is
// one, and by path otherwise.
func (q *query) stat(f Field) (rawStat, error) {
	if q.fd >= 0 {
		st, err := statFD(q.caps, q.fd, f)
		return st, q.translate("fstat", err)
	}
	st, err := statPath(q.caps, q.target.path, q.follow(), f)
	return st, q.translate("stat", err)
}

func resolveAttributes(q *query) error {
	st, err := statPath(q.caps, q.target.path, q.follow(), Min)
	if err != nil {
		return q.translate("stat", err)
	}
	q.fill(&st, Min)
	q.info.Name = q.target.name()
	q.set(Name | Link)
	return nil
}

func resolveHandle(q *query) error {
	if q.fd < 0 {
		if err := q.open(); err != nil {
			return err
		}
	}
	st, err := q.stat(Min | Ident | Nlink)
	if err != nil {
		return err
	}
	q.fill(&st, Min|Ident|Nlink)
	q.info.Name = q.target.name()
	q.set(Name | Link)
	return nil
}

// open sets q.fd. A path that cannot be opened because the caller lacks
// read access is opened again without access to its contents. Objects
// that cannot be opened at all, such as sockets or files the reduced open
// is still denied, are left to be described by path.
func (q *query) open() error {
	if q.target.kind == byHandle {
		q.fd = int(q.target.file.Fd())
		return nil
	}
	path := q.target.path
	fd, err := openObject(path, q.follow(), false)
	if err == unix.EACCES {
		log.Debugf("fsinfo: %s: open denied, retrying without content access", path)
		fd, err = openObject(path, q.follow(), true)
	}
	switch err {
	case nil:
	case unix.EACCES, unix.ENXIO, unix.EOPNOTSUPP, unix.ENODEV:
		return nil
	default:
		return q.translate("open", err)
	}
	q.fd = fd
	q.closeFD = func() error {
		return unix.Close(fd)
	}
	return nil
}

func resolveSecurity(q *query) error {
	st, err := q.stat(Owner | Prot)
	if err != nil {
		return err
	}
	if !q.caps.ownership {
		q.info.Protection = synthesize(st.mode&0o200 != 0)
		q.set(Prot)
		return nil
	}
	q.fill(&st, Owner)
	if q.need()&Prot == 0 {
		return nil
	}
	perm := Perm(st.mode & 0o777)
	if q.caps.acl && fileType(st.mode) != TypeSymlink {
		acl, ok, err := effectivePerm(q)
		if err != nil {
			return err
		}
		if ok {
			perm = acl
		}
	}
	q.info.Protection = perm
	q.set(Prot)
	return nil
}

// resolveAllocation reports the space allocated to regular files. Other
// objects have no meaningful allocation and CSize stays invalid.
func resolveAllocation(q *query) error {
	st, err := q.stat(CSize)
	if err != nil {
		return err
	}
	if fileType(st.mode) != TypeRegular {
		return nil
	}
	q.info.CSize = st.blocks * 512
	q.set(CSize)
	return nil
}

func tsTime(ts unix.Timespec) time.Time {
	return time.Unix(ts.Unix())
}

func retryEINTR(fn func() error) error {
	for {
		if err := fn(); err != unix.EINTR {
			return err
		}
	}
}
