package procmutex

import "syscall"

// ERROR_NOT_OWNER, as returned by ReleaseMutex.
const errNotHeld = syscall.Errno(288)
