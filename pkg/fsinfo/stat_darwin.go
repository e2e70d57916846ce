//go:build darwin

package fsinfo

import (
	"golang.org/x/sys/unix"
)

const hostPathMax = 1024

func detectHostCaps() hostCaps {
	// Extended ACLs on darwin are not exposed as xattrs.
	return hostCaps{ownership: true}
}

func fromStat(s *unix.Stat_t) rawStat {
	st := rawStat{
		mode:   uint32(s.Mode),
		size:   s.Size,
		blocks: s.Blocks,
		atime:  tsTime(s.Atim),
		mtime:  tsTime(s.Mtim),
		ctime:  tsTime(s.Ctim),
		uid:    s.Uid,
		gid:    s.Gid,
		ino:    s.Ino,
		dev:    uint64(uint32(s.Dev)),
		nlink:  uint64(s.Nlink),
	}
	if s.Btim.Sec > 0 || s.Btim.Nsec > 0 {
		st.ctime = tsTime(s.Btim)
	}
	return st
}

func statPath(_ hostCaps, path string, follow bool, _ Field) (rawStat, error) {
	var s unix.Stat_t
	err := retryEINTR(func() error {
		if follow {
			return unix.Stat(path, &s)
		}
		return unix.Lstat(path, &s)
	})
	if err != nil {
		return rawStat{}, err
	}
	return fromStat(&s), nil
}

func statFD(_ hostCaps, fd int, _ Field) (rawStat, error) {
	var s unix.Stat_t
	if err := retryEINTR(func() error { return unix.Fstat(fd, &s) }); err != nil {
		return rawStat{}, err
	}
	return fromStat(&s), nil
}

// openObject opens path for metadata queries. O_SYMLINK opens a link
// itself; O_EVTONLY needs no read access to the object.
func openObject(path string, follow, reduced bool) (int, error) {
	flags := unix.O_RDONLY | unix.O_NONBLOCK | unix.O_NOCTTY | unix.O_CLOEXEC
	if reduced {
		flags = unix.O_EVTONLY | unix.O_NONBLOCK | unix.O_CLOEXEC
	}
	if !follow {
		flags |= unix.O_SYMLINK
	}
	var fd int
	err := retryEINTR(func() error {
		var err error
		fd, err = unix.Open(path, flags, 0)
		return err
	})
	return fd, err
}

func effectivePerm(*query) (Perm, bool, error) {
	return 0, false, nil
}
