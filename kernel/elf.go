package kernel

import "github.com/rghisi/rosx-kernel/kernelerr"

// ELFLoader is the narrow boundary to an ELF relocator, an external
// collaborator spec §1 explicitly scopes out of the core: a real loader
// would parse program headers, relocate against the task's heap, and
// return the entry point. Kernel.LoadELF consumes this interface rather
// than an implementation so the core stays buildable and testable
// without one.
type ELFLoader interface {
	// Load relocates the ELF image in data and returns its entry point,
	// ready to run as a task body.
	Load(data []byte) (entry func(k *Kernel), err error)
}

// NoELFLoader is installed by default; it rejects every load, surfacing
// as a reportable error rather than a panic since an absent loader is an
// expected configuration, not a kernel-data invariant violation.
type NoELFLoader struct{}

func (NoELFLoader) Load([]byte) (func(k *Kernel), error) {
	return nil, kernelerr.New("kernel.LoadELF", kernelerr.NotFound, "no ELF loader configured")
}
