// Package fsinfo resolves file metadata with explicit field validity.
//
// A caller names the fields it wants; the resolver runs an ordered list of
// strategies, cheapest first, and each strategy only runs if it can supply
// a field that is still missing. The returned FileInfo carries a Valid mask
// and every field outside it is left at its zero value.
//
// Stat returns a nil error only if every wanted field was resolved. When
// the host cannot supply some field it returns the partial FileInfo
// together with syserr.ErrIncomplete.
package fsinfo

import (
	"io/fs"
	"strings"
	"time"
)

// Field is a bitmask of FileInfo fields.
type Field uint32

// Fields. Link is a request modifier: when wanted, a symbolic link is
// reported as itself instead of being followed.
const (
	Link Field = 1 << iota
	Mtime
	Ctime
	Atime
	Size
	CSize
	Dev
	Inode
	Nlink
	Type
	User
	Group
	UProt
	GProt
	WProt
	Name
)

// Composite field sets.
const (
	// Min is what every host resolves with a single attribute query.
	Min = Type | Size | Atime | Ctime | Mtime
	// Ident identifies the underlying object.
	Ident  = Dev | Inode
	Owner  = User | Group
	Prot   = UProt | GProt | WProt
	Norm   = Min | Ident | Nlink | Owner | Prot
	Dirent = Type | Inode | Name
	All    = Norm | CSize | Name | Link
)

var fieldNames = []struct {
	f    Field
	name string
}{
	{Link, "link"},
	{Mtime, "mtime"},
	{Ctime, "ctime"},
	{Atime, "atime"},
	{Size, "size"},
	{CSize, "csize"},
	{Dev, "dev"},
	{Inode, "inode"},
	{Nlink, "nlink"},
	{Type, "type"},
	{User, "user"},
	{Group, "group"},
	{UProt, "uprot"},
	{GProt, "gprot"},
	{WProt, "wprot"},
	{Name, "name"},
}

// String implements fmt.Stringer.
func (f Field) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, fn := range fieldNames {
		if f&fn.f != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseFields parses a comma separated list of field names. The composite
// names "min", "ident", "owner", "prot", "norm", "dirent" and "all" are
// accepted as well.
func ParseFields(s string) (Field, bool) {
	var f Field
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		switch part {
		case "min":
			f |= Min
			continue
		case "ident":
			f |= Ident
			continue
		case "owner":
			f |= Owner
			continue
		case "prot":
			f |= Prot
			continue
		case "norm":
			f |= Norm
			continue
		case "dirent":
			f |= Dirent
			continue
		case "all":
			f |= All
			continue
		}
		found := false
		for _, fn := range fieldNames {
			if fn.name == part {
				f |= fn.f
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return f, true
}

// FileType is the kind of filesystem object.
type FileType int

// File types.
const (
	TypeUnknown FileType = iota
	TypeRegular
	TypeDir
	TypeCharDevice
	TypeBlockDevice
	TypePipe
	TypeSymlink
	TypeSocket
)

// String implements fmt.Stringer.
func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDir:
		return "directory"
	case TypeCharDevice:
		return "char-device"
	case TypeBlockDevice:
		return "block-device"
	case TypePipe:
		return "pipe"
	case TypeSymlink:
		return "symlink"
	case TypeSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// Perm holds read/write/execute bits for the user, group and world scopes.
// The layout matches the classic octal permission triplets so Perm(0o640)
// means user read/write, group read.
type Perm uint32

// Permission bits.
const (
	WorldExecute Perm = 1 << iota
	WorldWrite
	WorldRead
	GroupExecute
	GroupWrite
	GroupRead
	UserExecute
	UserWrite
	UserRead

	// ReadOnly is set when the host reports a read-only attribute. It is
	// private to hosts without ownership information and is not covered by
	// any Valid bit.
	ReadOnly Perm = 1 << 16

	scopeMask Perm = 0o7
)

// Permission scopes, expressed as the left shift from the world triplet.
type scope uint

const (
	scopeWorld scope = 0
	scopeGroup scope = 3
	scopeUser  scope = 6
)

// Scope returns the rwx triplet for the given shift (0 world, 3 group,
// 6 user) in the low three bits.
func (p Perm) scope(s scope) Perm {
	return (p >> s) & scopeMask
}

// Mode converts p to an fs.FileMode permission set.
func (p Perm) Mode() fs.FileMode {
	return fs.FileMode(p & 0o777)
}

// FromMode converts fs.FileMode permission bits to a Perm.
func FromMode(m fs.FileMode) Perm {
	return Perm(m.Perm())
}

// synthesize guesses permission bits on hosts that only report a
// read-only flag: every scope may read and execute, and may write unless
// the object is read-only.
func synthesize(writable bool) Perm {
	world := WorldRead | WorldExecute
	var perm Perm
	if writable {
		world |= WorldWrite
	} else {
		perm = ReadOnly
	}
	return perm | world<<scopeUser | world<<scopeGroup | world
}

// FileInfo is the result of a metadata query. A field is meaningful iff its
// bit is set in Valid; unset fields hold zero values.
type FileInfo struct {
	Valid Field

	Type       FileType
	Size       int64
	CSize      int64
	Atime      time.Time
	Ctime      time.Time
	Mtime      time.Time
	User       uint32
	Group      uint32
	Protection Perm
	Inode      uint64
	Device     uint64
	Nlink      uint64

	// Name is the final path component as recorded by the filesystem.
	Name string

	// Path is the path the query was made with, if any. It is not covered
	// by Valid.
	Path string
}

// Has reports whether every field in f is valid.
func (fi *FileInfo) Has(f Field) bool {
	return fi.Valid&f == f
}

// Missing returns the subset of wanted that is not valid.
func (fi *FileInfo) Missing(wanted Field) Field {
	return wanted &^ fi.Valid
}

// IsDir reports whether the object is known to be a directory.
func (fi *FileInfo) IsDir() bool {
	return fi.Has(Type) && fi.Type == TypeDir
}

// scrub zeroes every field that is not valid, so that values a strategy
// computed but did not vouch for never reach the caller.
func (fi *FileInfo) scrub() {
	if !fi.Has(Type) {
		fi.Type = TypeUnknown
	}
	if !fi.Has(Size) {
		fi.Size = 0
	}
	if !fi.Has(CSize) {
		fi.CSize = 0
	}
	if !fi.Has(Atime) {
		fi.Atime = time.Time{}
	}
	if !fi.Has(Ctime) {
		fi.Ctime = time.Time{}
	}
	if !fi.Has(Mtime) {
		fi.Mtime = time.Time{}
	}
	if !fi.Has(User) {
		fi.User = 0
	}
	if !fi.Has(Group) {
		fi.Group = 0
	}
	var keep Perm
	if fi.Has(UProt) {
		keep |= scopeMask << scopeUser
	}
	if fi.Has(GProt) {
		keep |= scopeMask << scopeGroup
	}
	if fi.Has(WProt) {
		keep |= scopeMask << scopeWorld
	}
	fi.Protection &= keep | ReadOnly
	if !fi.Has(Inode) {
		fi.Inode = 0
	}
	if !fi.Has(Dev) {
		fi.Device = 0
	}
	if !fi.Has(Nlink) {
		fi.Nlink = 0
	}
	if !fi.Has(Name) {
		fi.Name = ""
	}
}
