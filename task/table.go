package task

import (
	"github.com/rghisi/rosx-kernel/genarena"
	"github.com/rghisi/rosx-kernel/kernelerr"
)

// Table wraps a generational arena of tasks behind the operations the
// rest of the kernel needs: creation, lookup, state and stack-pointer
// access, and removal.
type Table struct {
	arena     *genarena.Arena[*Task]
	nextID    uint32
	stackSize int
}

// NewTable constructs an empty task table with room for initialCapacity
// tasks before its first growth.
func NewTable(initialCapacity int) *Table {
	return &Table{
		arena:     genarena.New[*Task](initialCapacity),
		stackSize: DefaultStackSize,
	}
}

// SetStackSize overrides the stack size CreateFromEntry gives new tasks.
func (t *Table) SetStackSize(size int) {
	if size > 0 {
		t.stackSize = size
	}
}

// CreateFromEntry allocates a new task from an entry address and two
// machine-word arguments, in the Created state.
func (t *Table) CreateFromEntry(name string, entry, arg1, arg2 uintptr) (Handle, error) {
	id := t.nextID
	t.nextID++
	return t.Add(NewWithStackSize(id, name, entry, arg1, arg2, t.stackSize))
}

// Add inserts an externally-constructed task (e.g. the dedicated
// scheduler task, which has no conventional entry point).
func (t *Table) Add(task *Task) (Handle, error) {
	h, err := t.arena.Add(task)
	if err != nil {
		return Handle{}, kernelerr.Wrap("task.Add", kernelerr.OutOfMemory, err)
	}
	return h, nil
}

// Borrow resolves h to its Task, or NotFound.
func (t *Table) Borrow(h Handle) (*Task, error) {
	tp, err := t.arena.Borrow(h)
	if err != nil {
		return nil, kernelerr.Wrap("task.Borrow", kernelerr.NotFound, err)
	}
	return *tp, nil
}

// Remove deletes h's slot, bumping its generation. Removing the slot of a
// task that was never Terminated is a caller error the task table does
// not itself police; the scheduler only removes tasks it has observed in
// Terminated state.
func (t *Table) Remove(h Handle) error {
	_, err := t.arena.Remove(h)
	if err != nil {
		return kernelerr.Wrap("task.Remove", kernelerr.NotFound, err)
	}
	return nil
}

// Contains reports whether h currently resolves to a live task.
func (t *Table) Contains(h Handle) bool {
	return t.arena.Contains(h)
}

// GetState returns h's state, or Terminated if the handle no longer
// resolves (mirroring the original's "unknown task reads as terminated"
// convention, since a stale handle can only mean the task already left).
func (t *Table) GetState(h Handle) State {
	tp, err := t.Borrow(h)
	if err != nil {
		return Terminated
	}
	return tp.State()
}

// SetState sets h's state; a no-op if h is stale.
func (t *Table) SetState(h Handle, s State) {
	if tp, err := t.Borrow(h); err == nil {
		tp.SetState(s)
	}
}

// StackPointer reads h's saved stack pointer, or 0 if stale.
func (t *Table) StackPointer(h Handle) uintptr {
	tp, err := t.Borrow(h)
	if err != nil {
		return 0
	}
	return tp.StackPointer()
}

// StackPointerRef returns a writable pointer to h's stack-pointer slot,
// or nil if stale.
func (t *Table) StackPointerRef(h Handle) *uintptr {
	tp, err := t.Borrow(h)
	if err != nil {
		return nil
	}
	return tp.StackPointerRef()
}

// SetYieldReason records why h's task last gave up the CPU; a no-op if h
// is stale.
func (t *Table) SetYieldReason(h Handle, r YieldReason) {
	if tp, err := t.Borrow(h); err == nil {
		tp.SetYieldReason(r)
	}
}
