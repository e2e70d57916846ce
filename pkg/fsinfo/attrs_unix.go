//go:build linux || darwin

package fsinfo

import (
	"golang.org/x/sys/unix"

	"github.com/walteh/portos/pkg/syserr"
)

func setAttrs(path string, attrs, mask Attr) error {
	var st unix.Stat_t
	if err := retryEINTR(func() error { return unix.Stat(path, &st) }); err != nil {
		return syserr.FromOS("stat", path, err)
	}
	old := Perm(uint32(st.Mode) & 0o777)
	perm := applyAttrs(old, attrs, mask)
	if perm == old {
		return nil
	}
	return setPerms(path, perm)
}

func setPerms(path string, perm Perm) error {
	err := retryEINTR(func() error { return unix.Chmod(path, uint32(perm&0o777)) })
	return syserr.FromOS("chmod", path, err)
}
