package future

import (
	"github.com/rghisi/rosx-kernel/genarena"
	"github.com/rghisi/rosx-kernel/kernelerr"
)

// Handle addresses a Future in a Registry.
type Handle = genarena.Handle

// Registry owns every registered Future. Only the scheduler thread calls
// its methods, so it needs no internal locking: the kernel's single-
// threaded execution model totally orders every call.
type Registry struct {
	arena *genarena.Arena[*Future]
}

// NewRegistry constructs an empty future registry.
func NewRegistry(initialCapacity int) *Registry {
	return &Registry{arena: genarena.New[*Future](initialCapacity)}
}

// Register adds f to the registry and returns its handle.
func (r *Registry) Register(f *Future) (Handle, error) {
	h, err := r.arena.Add(f)
	if err != nil {
		return Handle{}, kernelerr.Wrap("future.Register", kernelerr.OutOfMemory, err)
	}
	return h, nil
}

// Poll evaluates h's completion predicate. A stale handle reads as
// complete, since the only way a blocked task's future handle goes stale
// is the scheduler having already removed it after completion.
func (r *Registry) Poll(h Handle) bool {
	f, err := r.arena.Borrow(h)
	if err != nil {
		return true
	}
	return (*f).IsCompleted()
}

// Replace swaps the future at h for a new one without handing out a
// fresh handle, so a blocked task's recorded handle stays valid across
// the swap.
func (r *Registry) Replace(h Handle, f *Future) error {
	fp, err := r.arena.Borrow(h)
	if err != nil {
		return kernelerr.Wrap("future.Replace", kernelerr.NotFound, err)
	}
	*fp = f
	return nil
}

// Get resolves h to its Future, or NotFound.
func (r *Registry) Get(h Handle) (*Future, error) {
	fp, err := r.arena.Borrow(h)
	if err != nil {
		return nil, kernelerr.Wrap("future.Get", kernelerr.NotFound, err)
	}
	return *fp, nil
}

// Remove deletes h's slot once the scheduler has observed its completion
// and unblocked the owning task.
func (r *Registry) Remove(h Handle) error {
	_, err := r.arena.Remove(h)
	if err != nil {
		return kernelerr.Wrap("future.Remove", kernelerr.NotFound, err)
	}
	return nil
}
