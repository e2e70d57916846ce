// Package sockio transfers data over sockets with explicit timeouts.
//
// A Socket owns a non-blocking descriptor. Every operation tries the
// native call first and, when the descriptor is not ready, waits for it
// with poll(2), bounded by the socket's timeout. Close wakes all waiters.
//
// Partial transfers are normal: Send, SendVectored and SendTo report how
// many bytes went out. Recv reports a graceful close of a stream peer as
// syserr.ErrEndOfStream, never as a zero-length success.
//
// Only Linux and darwin are supported. On other hosts New and Pair return
// syserr.ErrNotImplemented.
package sockio
