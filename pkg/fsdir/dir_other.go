//go:build !linux

package fsdir

import (
	"io"
	"io/fs"
	"os"
	"syscall"

	"github.com/walteh/portos/pkg/fsinfo"
)

const readBatch = 128

// fileReader enumerates with os.File.ReadDir, which reports names and
// types but no inode numbers.
type fileReader struct {
	f       *os.File
	pending []fs.DirEntry
}

func openReader(path string) (entryReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !fi.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "opendir", Path: path, Err: syscall.ENOTDIR}
	}
	return &fileReader{f: f}, nil
}

func (r *fileReader) next() (entry, error) {
	if len(r.pending) == 0 {
		des, err := r.f.ReadDir(readBatch)
		if len(des) == 0 {
			if err == nil {
				err = io.EOF
			}
			return entry{}, err
		}
		r.pending = des
	}
	de := r.pending[0]
	r.pending = r.pending[1:]
	return entry{
		name:  de.Name(),
		typ:   typeOf(de.Type()),
		known: fsinfo.Type,
	}, nil
}

func typeOf(m fs.FileMode) fsinfo.FileType {
	switch {
	case m.IsRegular():
		return fsinfo.TypeRegular
	case m&fs.ModeDir != 0:
		return fsinfo.TypeDir
	case m&fs.ModeSymlink != 0:
		return fsinfo.TypeSymlink
	case m&fs.ModeNamedPipe != 0:
		return fsinfo.TypePipe
	case m&fs.ModeSocket != 0:
		return fsinfo.TypeSocket
	case m&fs.ModeCharDevice != 0:
		return fsinfo.TypeCharDevice
	case m&fs.ModeDevice != 0:
		return fsinfo.TypeBlockDevice
	default:
		return fsinfo.TypeUnknown
	}
}

func (r *fileReader) close() error {
	return r.f.Close()
}

func (r *fileReader) handle() uintptr {
	return r.f.Fd()
}
