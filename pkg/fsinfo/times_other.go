//go:build !linux && !darwin && !windows

package fsinfo

import (
	"io/fs"
	"time"
)

// sysTimes returns false: os.FileInfo carries no access or creation time
// on this host.
func sysTimes(fs.FileInfo) (atime, ctime time.Time, ok bool) {
	return time.Time{}, time.Time{}, false
}
