//go:build linux

package lsp

import (
	"golang.org/x/sys/unix"
)

// apply installs the limits on an already-started process. Prlimit can
// adjust another process's rlimits, so the limits land after Start
// without an exec shim.
func (l ProcessLimits) apply(pid int) error {
	if l.MaxMemoryBytes > 0 {
		rl := unix.Rlimit{Cur: l.MaxMemoryBytes, Max: l.MaxMemoryBytes}
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, &rl, nil); err != nil {
			return err
		}
	}
	if l.MaxCPUSeconds > 0 {
		rl := unix.Rlimit{Cur: l.MaxCPUSeconds, Max: l.MaxCPUSeconds}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &rl, nil); err != nil {
			return err
		}
	}
	if l.MaxOpenFiles > 0 {
		rl := unix.Rlimit{Cur: l.MaxOpenFiles, Max: l.MaxOpenFiles}
		if err := unix.Prlimit(pid, unix.RLIMIT_NOFILE, &rl, nil); err != nil {
			return err
		}
	}
	return nil
}
