// Package task owns the task table: the generational handle table of
// schedulable execution contexts, their state machine, and the stack
// pointer bookkeeping the context-switch protocol reads and writes.
package task

import (
	"fmt"

	"github.com/rghisi/rosx-kernel/genarena"
)

// Handle addresses a task in a TaskTable.
type Handle = genarena.Handle

// State is a task's execution state.
type State int

const (
	Created State = iota
	Ready
	Running
	Blocked
	Terminated
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// YieldReason records why a Running task most recently gave up the CPU,
// driving the MLFQ's enqueue decision.
type YieldReason int

const (
	// YieldNone means the task has not run yet, or its reason was
	// explicitly cleared (e.g. after being newly readied by an unblock).
	YieldNone YieldReason = iota
	// YieldVoluntary means the task called task_yield or otherwise gave
	// up the CPU on its own initiative.
	YieldVoluntary
	// YieldPreempted means the scheduler forced a switch because the
	// task's quantum expired.
	YieldPreempted
)

func (r YieldReason) String() string {
	switch r {
	case YieldNone:
		return "none"
	case YieldVoluntary:
		return "voluntary"
	case YieldPreempted:
		return "preempted"
	default:
		return fmt.Sprintf("yield_reason(%d)", int(r))
	}
}

// DefaultStackSize is the fixed per-task kernel stack size (16 KiB,
// matching the original's 2048-word stack).
const DefaultStackSize = 16 * 1024

// Task is a unit of schedulable execution with its own stack.
type Task struct {
	ID   uint32
	Name string

	state       State
	yieldReason YieldReason
	priority    int

	// stackPointer is the saved stack pointer while the task is not
	// running; while running it is owned by the CPU port. It is only
	// ever read/written by the scheduler thread.
	stackPointer uintptr

	entry     uintptr
	entryArg1 uintptr
	entryArg2 uintptr

	stack []byte
}

// New constructs a task in the Created state with its own dedicated
// stack, ready to be handed to a CPU port's InitializeStack.
func New(id uint32, name string, entry, arg1, arg2 uintptr) *Task {
	return NewWithStackSize(id, name, entry, arg1, arg2, DefaultStackSize)
}

// NewWithStackSize is New with an explicit stack size, for kernels
// configured with a non-default per-task stack.
func NewWithStackSize(id uint32, name string, entry, arg1, arg2 uintptr, stackSize int) *Task {
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	return &Task{
		ID:        id,
		Name:      name,
		state:     Created,
		stack:     make([]byte, stackSize),
		entry:     entry,
		entryArg1: arg1,
		entryArg2: arg2,
	}
}

func (t *Task) State() State             { return t.state }
func (t *Task) SetState(s State)         { t.state = s }
func (t *Task) YieldReason() YieldReason { return t.yieldReason }
func (t *Task) SetYieldReason(r YieldReason) {
	t.yieldReason = r
}
func (t *Task) Priority() int     { return t.priority }
func (t *Task) SetPriority(p int) { t.priority = p }
func (t *Task) Entry() (entry, arg1, arg2 uintptr) {
	return t.entry, t.entryArg1, t.entryArg2
}
func (t *Task) Stack() []byte { return t.stack }

// StackPointer reads the saved stack pointer.
func (t *Task) StackPointer() uintptr { return t.stackPointer }

// SetStackPointer writes the saved stack pointer. The task's stack
// pointer slot must be written before any context swap involving it, per
// the execution-state invariant.
func (t *Task) SetStackPointer(sp uintptr) { t.stackPointer = sp }

// StackPointerRef returns a pointer to the stack pointer slot itself, for
// CPU ports that need to write through it as part of swap_context (the
// "scheduler-task's stack-pointer slot" described in the component
// design).
func (t *Task) StackPointerRef() *uintptr { return &t.stackPointer }

// IsSchedulable reports whether the task can currently be placed on a
// ready queue: true for every state except Created (not yet launched) and
// Terminated (collected).
func (t *Task) IsSchedulable() bool {
	return t.state != Created && t.state != Terminated
}
