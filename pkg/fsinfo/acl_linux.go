package fsinfo

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

const aclAccessXattr = "system.posix_acl_access"

// POSIX ACL xattr layout, see acl(5) and linux/posix_acl_xattr.h.
const (
	aclVersion   = 2
	aclHdrSize   = 4
	aclEntrySize = 8

	aclUserObj  = 0x01
	aclUser     = 0x02
	aclGroupObj = 0x04
	aclGroup    = 0x08
	aclMask     = 0x10
	aclOther    = 0x20
)

// effectivePerm reads the access ACL and returns the rights it grants the
// owner, the owning group and everyone else. ok is false if the object
// carries no ACL beyond its mode bits.
func effectivePerm(q *query) (Perm, bool, error) {
	buf := make([]byte, 256)
	for {
		n, err := getACL(q, buf)
		switch err {
		case nil:
			p, ok := parseACL(buf[:n])
			return p, ok, nil
		case unix.ERANGE:
			size, err := getACL(q, nil)
			if err != nil {
				return 0, false, q.translate("getxattr", err)
			}
			if size == 0 {
				return 0, false, nil
			}
			buf = make([]byte, size)
		case unix.ENODATA, unix.ENOTSUP:
			return 0, false, nil
		default:
			return 0, false, q.translate("getxattr", err)
		}
	}
}

func getACL(q *query, buf []byte) (int, error) {
	var n int
	err := retryEINTR(func() error {
		var err error
		switch {
		case q.target.kind == byHandle:
			n, err = unix.Fgetxattr(q.fd, aclAccessXattr, buf)
		case q.follow():
			n, err = unix.Getxattr(q.target.path, aclAccessXattr, buf)
		default:
			n, err = unix.Lgetxattr(q.target.path, aclAccessXattr, buf)
		}
		return err
	})
	return n, err
}

// parseACL folds an access ACL into user, group and world rights. The
// group scope is the owning group's entry limited by the mask, which is
// what members of that group are actually granted.
func parseACL(b []byte) (Perm, bool) {
	if len(b) < aclHdrSize || binary.LittleEndian.Uint32(b) != aclVersion {
		return 0, false
	}
	var user, group, other Perm
	var haveUser, haveOther bool
	mask := scopeMask
	for b = b[aclHdrSize:]; len(b) >= aclEntrySize; b = b[aclEntrySize:] {
		tag := binary.LittleEndian.Uint16(b[0:])
		perm := Perm(binary.LittleEndian.Uint16(b[2:])) & scopeMask
		switch tag {
		case aclUserObj:
			user, haveUser = perm, true
		case aclGroupObj:
			group = perm
		case aclMask:
			mask = perm
		case aclOther:
			other, haveOther = perm, true
		case aclUser, aclGroup:
			// Named entries grant rights to specific principals and are
			// not part of the three scopes.
		}
	}
	if !haveUser || !haveOther {
		return 0, false
	}
	return user<<scopeUser | (group&mask)<<scopeGroup | other<<scopeWorld, true
}
