package fsinfo

import "testing"

// setPathMax lowers the limit CheckPath enforces until t ends.
func setPathMax(t *testing.T, n int) {
	old := pathMax
	pathMax = n
	t.Cleanup(func() { pathMax = old })
}
