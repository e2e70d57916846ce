package fsdir

import "testing"

// setPathMax lowers the limit on entry paths until t ends.
func setPathMax(t *testing.T, n int) {
	old := pathMax
	pathMax = n
	t.Cleanup(func() { pathMax = old })
}
