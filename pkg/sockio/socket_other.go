//go:build !linux && !darwin

package sockio

import (
	"os"

	"github.com/walteh/portos/pkg/syserr"
)

// Socket is not supported on this host.
type Socket struct{}

// New returns syserr.ErrNotImplemented.
func New(int) (*Socket, error) {
	return nil, syserr.ErrNotImplemented
}

// FromFile returns syserr.ErrNotImplemented.
func FromFile(*os.File) (*Socket, error) {
	return nil, syserr.ErrNotImplemented
}

// Pair returns syserr.ErrNotImplemented.
func Pair(int) (*Socket, *Socket, error) {
	return nil, nil, syserr.ErrNotImplemented
}
