//go:build !linux

package lsp

// apply is a no-op on platforms without prlimit.
func (l ProcessLimits) apply(pid int) error {
	return nil
}
