package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/walteh/portos/pkg/fsinfo"
)

// printInfo writes every valid field of fi, one per line.
func printInfo(w io.Writer, fi *fsinfo.FileInfo) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "%s:\n", fi.Path)
	row := func(f fsinfo.Field, v any) {
		if fi.Has(f) {
			fmt.Fprintf(tw, "  %s:\t%v\n", f, v)
		}
	}
	row(fsinfo.Name, fi.Name)
	row(fsinfo.Type, fi.Type)
	row(fsinfo.Size, fi.Size)
	row(fsinfo.CSize, fi.CSize)
	row(fsinfo.Mtime, fi.Mtime.Format(time.RFC3339Nano))
	row(fsinfo.Ctime, fi.Ctime.Format(time.RFC3339Nano))
	row(fsinfo.Atime, fi.Atime.Format(time.RFC3339Nano))
	row(fsinfo.User, fi.User)
	row(fsinfo.Group, fi.Group)
	if fi.Valid&fsinfo.Prot != 0 {
		fmt.Fprintf(tw, "  %s:\t%v\n", fsinfo.Prot&fi.Valid, fi.Protection.Mode())
	}
	row(fsinfo.Inode, fi.Inode)
	row(fsinfo.Dev, fi.Device)
	row(fsinfo.Nlink, fi.Nlink)
	if missing := fi.Missing(fsinfo.All); missing != 0 && fi.Valid != 0 {
		fmt.Fprintf(tw, "  unresolved:\t%s\n", missing)
	}
	return tw.Flush()
}

// printEntry writes one directory listing line for fi. Unknown values
// print as "-".
func printEntry(w io.Writer, fi *fsinfo.FileInfo) {
	typ, size := "-", "-"
	if fi.Has(fsinfo.Type) {
		typ = fi.Type.String()
	}
	if fi.Has(fsinfo.Size) {
		size = fmt.Sprint(fi.Size)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\n", typ, size, fi.Name)
}
