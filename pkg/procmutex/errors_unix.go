//go:build !windows && !plan9

package procmutex

import "syscall"

const errNotHeld = syscall.EPERM
