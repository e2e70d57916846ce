//go:build linux

package fsinfo

import (
	"time"

	"golang.org/x/sys/unix"
)

const hostPathMax = unix.PathMax

func detectHostCaps() hostCaps {
	var stx unix.Statx_t
	err := retryEINTR(func() error {
		return unix.Statx(unix.AT_FDCWD, "/", 0, unix.STATX_TYPE, &stx)
	})
	return hostCaps{
		// ENOSYS on old kernels, EPERM under some seccomp filters.
		statx:     err == nil,
		acl:       true,
		ownership: true,
	}
}

// statxMask returns the statx fields needed for f.
func statxMask(f Field) int {
	m := unix.STATX_TYPE
	if f&Size != 0 {
		m |= unix.STATX_SIZE
	}
	if f&Atime != 0 {
		m |= unix.STATX_ATIME
	}
	if f&Mtime != 0 {
		m |= unix.STATX_MTIME
	}
	if f&Ctime != 0 {
		m |= unix.STATX_CTIME | unix.STATX_BTIME
	}
	if f&Inode != 0 {
		m |= unix.STATX_INO
	}
	if f&Nlink != 0 {
		m |= unix.STATX_NLINK
	}
	if f&User != 0 {
		m |= unix.STATX_UID
	}
	if f&Group != 0 {
		m |= unix.STATX_GID
	}
	if f&Prot != 0 {
		m |= unix.STATX_MODE
	}
	if f&CSize != 0 {
		m |= unix.STATX_BLOCKS
	}
	return m
}

func fromStatx(stx *unix.Statx_t) rawStat {
	st := rawStat{
		mode:   uint32(stx.Mode),
		size:   int64(stx.Size),
		blocks: int64(stx.Blocks),
		atime:  sxTime(stx.Atime),
		mtime:  sxTime(stx.Mtime),
		ctime:  sxTime(stx.Ctime),
		uid:    stx.Uid,
		gid:    stx.Gid,
		ino:    stx.Ino,
		dev:    unix.Mkdev(stx.Dev_major, stx.Dev_minor),
		nlink:  uint64(stx.Nlink),
	}
	if stx.Mask&unix.STATX_BTIME != 0 {
		st.ctime = sxTime(stx.Btime)
	}
	return st
}

func fromStat(s *unix.Stat_t) rawStat {
	return rawStat{
		mode:   s.Mode,
		size:   s.Size,
		blocks: s.Blocks,
		atime:  tsTime(s.Atim),
		mtime:  tsTime(s.Mtim),
		ctime:  tsTime(s.Ctim),
		uid:    s.Uid,
		gid:    s.Gid,
		ino:    s.Ino,
		dev:    uint64(s.Dev),
		nlink:  uint64(s.Nlink),
	}
}

func sxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

func statPath(caps hostCaps, path string, follow bool, f Field) (rawStat, error) {
	if caps.statx {
		flags := unix.AT_STATX_SYNC_AS_STAT
		if !follow {
			flags |= unix.AT_SYMLINK_NOFOLLOW
		}
		var stx unix.Statx_t
		err := retryEINTR(func() error {
			return unix.Statx(unix.AT_FDCWD, path, flags, statxMask(f), &stx)
		})
		if err != nil {
			return rawStat{}, err
		}
		return fromStatx(&stx), nil
	}
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

func statFD(caps hostCaps, fd int, f Field) (rawStat, error) {
	if caps.statx {
		var stx unix.Statx_t
		err := retryEINTR(func() error {
			return unix.Statx(fd, "", unix.AT_EMPTY_PATH|unix.AT_STATX_SYNC_AS_STAT, statxMask(f), &stx)
		})
		if err != nil {
			return rawStat{}, err
		}
		return fromStatx(&stx), nil
	}
	var s unix.Stat_t
	if err := retryEINTR(func() error { return unix.Fstat(fd, &s) }); err != nil {
		return rawStat{}, err
	}
	return fromStat(&s), nil
}

// openObject opens path for metadata queries. A symlink that is not
// followed and a reduced open both use O_PATH, which needs no access to
// the object itself.
func openObject(path string, follow, reduced bool) (int, error) {
	flags := unix.O_RDONLY | unix.O_NONBLOCK | unix.O_NOCTTY | unix.O_CLOEXEC
	if !follow || reduced {
		flags = unix.O_PATH | unix.O_CLOEXEC
	}
	if !follow {
		flags |= unix.O_NOFOLLOW
	}
	var fd int
	err := retryEINTR(func() error {
		var err error
		fd, err = unix.Open(path, flags, 0)
		return err
	})
	return fd, err
}
