//go:build !linux && !darwin

package fsinfo

import (
	"io/fs"
	"os"

	"github.com/walteh/portos/pkg/syserr"
)

const hostPathMax = 4096

// Hosts in this build only expose what os.FileInfo carries: no identity,
// no ownership and a single read-only flag folded into the mode.
func detectHostCaps() hostCaps {
	return hostCaps{}
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
			run:      resolveAttributes,
		},
		{
			name:     "security",
			provides: Prot,
			run:      synthesizeProt,
		},
	}
}

func (q *query) osStat() (fs.FileInfo, error) {
	var (
		fi  fs.FileInfo
		err error
	)
	switch {
	case q.target.kind == byHandle:
		fi, err = q.target.file.Stat()
	case q.follow():
		fi, err = os.Stat(q.target.path)
	default:
		fi, err = os.Lstat(q.target.path)
	}
	if err != nil {
		return nil, syserr.FromOS("stat", q.target.path, err)
	}
	return fi, nil
}

func fileTypeOf(m fs.FileMode) FileType {
	switch {
	case m.IsRegular():
		return TypeRegular
	case m&fs.ModeDir != 0:
		return TypeDir
	case m&fs.ModeSymlink != 0:
		return TypeSymlink
	case m&fs.ModeNamedPipe != 0:
		return TypePipe
	case m&fs.ModeSocket != 0:
		return TypeSocket
	case m&fs.ModeCharDevice != 0:
		return TypeCharDevice
	case m&fs.ModeDevice != 0:
		return TypeBlockDevice
	default:
		return TypeUnknown
	}
}

func resolveAttributes(q *query) error {
	fi, err := q.osStat()
	if err != nil {
		return err
	}
	q.info.Type = fileTypeOf(fi.Mode())
	q.info.Size = fi.Size()
	q.info.Mtime = fi.ModTime()
	q.set(Type | Size | Mtime)
	if atime, ctime, ok := sysTimes(fi); ok {
		q.info.Atime = atime
		q.info.Ctime = ctime
		q.set(Atime | Ctime)
	}
	q.info.Name = q.target.name()
	q.set(Name | Link)
	return nil
}

func synthesizeProt(q *query) error {
	fi, err := q.osStat()
	if err != nil {
		return err
	}
	q.info.Protection = synthesize(fi.Mode().Perm()&0o200 != 0)
	q.set(Prot)
	return nil
}

func setAttrs(path string, attrs, mask Attr) error {
	fi, err := os.Stat(path)
	if err != nil {
		return syserr.FromOS("stat", path, err)
	}
	old := FromMode(fi.Mode())
	perm := applyAttrs(old, attrs, mask)
	if perm == old {
		return nil
	}
	return syserr.FromOS("chmod", path, os.Chmod(path, perm.Mode()))
}

func setPerms(string, Perm) error {
	return syserr.ErrNotImplemented
}
