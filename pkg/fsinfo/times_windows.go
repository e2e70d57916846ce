package fsinfo

import (
	"io/fs"
	"syscall"
	"time"
)

// sysTimes returns the access and creation times recorded by the host.
func sysTimes(fi fs.FileInfo) (atime, ctime time.Time, ok bool) {
	d, ok := fi.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(0, d.LastAccessTime.Nanoseconds()), time.Unix(0, d.CreationTime.Nanoseconds()), true
}
