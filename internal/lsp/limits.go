package lsp

// ProcessLimits bounds the resources of a spawned language server. A
// zero field means unlimited. The Manager passes limits through to the
// launcher untouched.
type ProcessLimits struct {
	MaxMemoryBytes uint64 `json:"max_memory_bytes"`
	MaxCPUSeconds  uint64 `json:"max_cpu_seconds"`
	MaxOpenFiles   uint64 `json:"max_open_files"`
}

// DefaultProcessLimits returns the limits applied to servers that do
// not configure their own: 2 GiB of address space and 1024 open files,
// CPU time unlimited.
func DefaultProcessLimits() ProcessLimits {
	return ProcessLimits{
		MaxMemoryBytes: 2 << 30,
		MaxOpenFiles:   1024,
	}
}

// UnlimitedProcessLimits returns limits that constrain nothing.
func UnlimitedProcessLimits() ProcessLimits {
	return ProcessLimits{}
}

// IsUnlimited reports whether no limit is set.
func (l ProcessLimits) IsUnlimited() bool {
	return l == ProcessLimits{}
}
