package fsinfo

import (
	"github.com/walteh/portos/pkg/syserr"
)

// PathMax is the host limit on the length of a path, in bytes, including
// the terminating NUL of the native representation.
const PathMax = hostPathMax

// NameMax is the host limit on the length of a single path component.
const NameMax = 255

// pathMax is the limit enforced by CheckPath. Tests lower it.
var pathMax = PathMax

// CheckPath rejects paths that cannot be handed to the host: paths at or
// beyond the length limit fail with syserr.ErrNameTooLong, wildcard
// characters with syserr.ErrPathWild and NUL or control characters with
// syserr.ErrBadPath.
func CheckPath(path string) error {
	if path == "" {
		return syserr.ErrBadPath
	}
	if err := checkLength(path); err != nil {
		return err
	}
	for i := 0; i < len(path); i++ {
		switch c := path[i]; {
		case c == '*' || c == '?':
			return syserr.ErrPathWild
		case c < 0x20 || c == 0x7f:
			return syserr.ErrBadPath
		}
	}
	return nil
}

// TooLong reports whether path would exceed the host path limit once
// converted to its native form.
func TooLong(path string) bool {
	return len(path) >= pathMax
}

func checkLength(path string) error {
	if TooLong(path) {
		return syserr.ErrNameTooLong
	}
	return nil
}
