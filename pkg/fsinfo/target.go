package fsinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/walteh/portos/pkg/syserr"
)

type targetKind int

const (
	byPath targetKind = iota
	byHandle
	byEntry
)

// Flusher is implemented by buffered writers whose pending data must reach
// the file before its metadata is read.
type Flusher interface {
	Flush() error
}

// Target names the object a query describes. It is one of ByPath,
// ByHandle, ByFlushedHandle or ByEntry.
type Target struct {
	kind  targetKind
	path  string
	file  *os.File
	flush Flusher

	// cheap holds what a directory enumeration already reported. Only set
	// for byEntry.
	cheap *FileInfo
}

// ByPath targets the object at path.
func ByPath(path string) Target {
	return Target{kind: byPath, path: path}
}

// ByHandle targets an open file. The file is not closed by the query.
func ByHandle(f *os.File) Target {
	return Target{kind: byHandle, path: f.Name(), file: f}
}

// ByFlushedHandle is ByHandle with w flushed before the query runs.
//
// Nothing stops another writer from dirtying w again between the flush and
// the query.
func ByFlushedHandle(f *os.File, w Flusher) Target {
	t := ByHandle(f)
	t.flush = w
	return t
}

// ByEntry targets the entry name found while enumerating dir. cheap holds
// the fields the enumeration reported; it may be nil.
func ByEntry(dir, name string, cheap *FileInfo) Target {
	return Target{kind: byEntry, path: joinEntry(dir, name), cheap: cheap}
}

// Path returns the path the target refers to.
func (t Target) Path() string {
	return t.path
}

// String implements fmt.Stringer.
func (t Target) String() string {
	switch t.kind {
	case byHandle:
		return fmt.Sprintf("handle(%s)", t.path)
	case byEntry:
		return fmt.Sprintf("entry(%s)", t.path)
	default:
		return fmt.Sprintf("path(%s)", t.path)
	}
}

// name is the final path component used for the Name field.
func (t Target) name() string {
	if t.kind == byEntry && t.cheap != nil && t.cheap.Has(Name) {
		return t.cheap.Name
	}
	return filepath.Base(t.path)
}

// validate checks the target before any native call is made.
func (t Target) validate() error {
	switch t.kind {
	case byHandle:
		if t.file == nil {
			return fmt.Errorf("nil file: %w", syserr.ErrInvalidArgument)
		}
		return nil
	case byEntry:
		return checkLength(t.path)
	default:
		return CheckPath(t.path)
	}
}

func joinEntry(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return dir + name
	}
	return dir + string(filepath.Separator) + name
}
