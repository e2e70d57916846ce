//go:build linux || darwin

package sockio

import "testing"

// setVectorLimits lowers the limits SendVectored checks until t ends.
func setVectorLimits(t *testing.T, iovecs int, bytes int64) {
	oldIovecs, oldBytes := maxIovecs, maxTransfer
	maxIovecs, maxTransfer = iovecs, bytes
	t.Cleanup(func() { maxIovecs, maxTransfer = oldIovecs, oldBytes })
}
