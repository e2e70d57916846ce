package fsinfo

import (
	"os"
	"time"

	"github.com/walteh/portos/pkg/syserr"
)

// Attr is a portable file attribute.
type Attr uint32

// Attributes accepted by SetAttrs.
const (
	AttrReadOnly Attr = 1 << iota
	AttrExecutable
	// AttrHidden is honored only by hosts that record it. Elsewhere it is
	// ignored.
	AttrHidden
)

// SetAttrs sets the attributes in mask to their value in attrs. Attributes
// outside mask are left alone, and nothing is written if no change
// results.
func SetAttrs(path string, attrs, mask Attr) error {
	if err := CheckPath(path); err != nil {
		return err
	}
	if mask&(AttrReadOnly|AttrExecutable) == 0 {
		return nil
	}
	return setAttrs(path, attrs, mask)
}

// SetMtime sets the modification time of path, leaving its access time
// unchanged.
func SetMtime(path string, mtime time.Time) error {
	if err := CheckPath(path); err != nil {
		return err
	}
	return syserr.FromOS("chtimes", path, os.Chtimes(path, time.Time{}, mtime))
}

// SetPerms sets the permission bits of path. Hosts without ownership
// information return syserr.ErrNotImplemented.
func SetPerms(path string, perm Perm) error {
	if err := CheckPath(path); err != nil {
		return err
	}
	return setPerms(path, perm)
}

// applyAttrs returns perm with attrs applied. Clearing read-only restores
// only the owner's write bit.
func applyAttrs(perm Perm, attrs, mask Attr) Perm {
	const (
		write = UserWrite | GroupWrite | WorldWrite
		exec  = UserExecute | GroupExecute | WorldExecute
	)
	if mask&AttrReadOnly != 0 {
		if attrs&AttrReadOnly != 0 {
			perm &^= write
		} else {
			perm |= UserWrite
		}
	}
	if mask&AttrExecutable != 0 {
		if attrs&AttrExecutable != 0 {
			perm |= UserExecute
		} else {
			perm &^= exec
		}
	}
	return perm
}
