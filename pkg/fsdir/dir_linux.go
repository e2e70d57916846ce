package fsdir

import (
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"github.com/walteh/portos/pkg/fsinfo"
)

// linux_dirent64 layout:
//
//	struct linux_dirent64 {
//	    ino64_t        d_ino;    // offset 0
//	    off64_t        d_off;    // offset 8
//	    unsigned short d_reclen; // offset 16
//	    unsigned char  d_type;   // offset 18
//	    char           d_name[]; // offset 19
//	};
const (
	direntInoOffset    = 0
	direntReclenOffset = 16
	direntTypeOffset   = 18
	direntNameOffset   = 19

	// direntBufSize holds many entries of the longest possible name.
	direntBufSize = 8192
)

var errBadDirent = errors.New("malformed directory entry")

type direntReader struct {
	fd   int
	buf  []byte
	data []byte
}

func openReader(path string) (entryReader, error) {
	var fd int
	for {
		var err error
		fd, err = unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	return &direntReader{fd: fd, buf: make([]byte, direntBufSize)}, nil
}

func (r *direntReader) next() (entry, error) {
	if len(r.data) == 0 {
		var (
			n   int
			err error
		)
		for {
			n, err = unix.ReadDirent(r.fd, r.buf)
			if err != unix.EINTR {
				break
			}
		}
		if err != nil {
			return entry{}, err
		}
		if n <= 0 {
			return entry{}, io.EOF
		}
		r.data = r.buf[:n]
	}

	if len(r.data) < direntNameOffset {
		return entry{}, errBadDirent
	}
	reclen := int(binary.NativeEndian.Uint16(r.data[direntReclenOffset:]))
	if reclen < direntNameOffset || reclen > len(r.data) {
		return entry{}, errBadDirent
	}
	rec := r.data[:reclen]
	r.data = r.data[reclen:]

	name := rec[direntNameOffset:]
	for i, b := range name {
		if b == 0 {
			name = name[:i]
			break
		}
	}
	e := entry{
		name:  string(name),
		ino:   binary.NativeEndian.Uint64(rec[direntInoOffset:]),
		known: fsinfo.Inode,
	}
	if typ, ok := direntType(rec[direntTypeOffset]); ok {
		e.typ = typ
		e.known |= fsinfo.Type
	}
	return e, nil
}

// direntType maps d_type. DT_UNKNOWN is reported by filesystems that do
// not store the type in the directory.
func direntType(t uint8) (fsinfo.FileType, bool) {
	switch t {
	case unix.DT_REG:
		return fsinfo.TypeRegular, true
	case unix.DT_DIR:
		return fsinfo.TypeDir, true
	case unix.DT_LNK:
		return fsinfo.TypeSymlink, true
	case unix.DT_CHR:
		return fsinfo.TypeCharDevice, true
	case unix.DT_BLK:
		return fsinfo.TypeBlockDevice, true
	case unix.DT_FIFO:
		return fsinfo.TypePipe, true
	case unix.DT_SOCK:
		return fsinfo.TypeSocket, true
	default:
		return fsinfo.TypeUnknown, false
	}
}

func (r *direntReader) close() error {
	return unix.Close(r.fd)
}

func (r *direntReader) handle() uintptr {
	return uintptr(r.fd)
}
