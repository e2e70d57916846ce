package fsdir

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/walteh/portos/pkg/fsinfo"
	"github.com/walteh/portos/pkg/syserr"
)

// Make creates the directory path with permission bits perm, subject to
// the process umask.
func Make(path string, perm fs.FileMode) error {
	if err := fsinfo.CheckPath(path); err != nil {
		return err
	}
	return syserr.FromOS("mkdir", path, os.Mkdir(path, perm))
}

// MakeRecursive creates path and any missing parents. A directory that
// already exists, or that a concurrent caller creates first, is not an
// error.
func MakeRecursive(path string, perm fs.FileMode) error {
	path = strings.TrimRight(path, string(filepath.Separator)+"/")
	if path == "" {
		return nil
	}
	err := Make(path, perm)
	switch {
	case err == nil, errors.Is(err, fs.ErrExist):
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	i := strings.LastIndexAny(path, string(filepath.Separator)+"/")
	if i <= 0 {
		// No parent left to create.
		return err
	}
	if err := MakeRecursive(path[:i], perm); err != nil {
		return err
	}
	if err := Make(path, perm); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}
