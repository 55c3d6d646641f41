// Package future implements the wait/wake registry: a closed, tagged
// variant of completion conditions (sleep, task-completion, IPC-reply)
// polled once per scheduler pass, deliberately avoiding boxed interface
// dispatch in that hot loop.
package future

import "github.com/rghisi/rosx-kernel/task"

// Kind discriminates which variant a Future holds.
type Kind int

const (
	KindTime Kind = iota
	KindTaskCompletion
	KindIPCReply
)

// Reply is the small fixed-shape payload an IPC reply future carries once
// satisfied; it mirrors the IPC wire format (tag plus word slots).
type Reply struct {
	Tag   uint32
	Words [4]uint64
}

// Future is a tagged union over the three completion-condition shapes the
// kernel needs. Exactly one of the Kind-specific fields is meaningful for
// a given Kind.
type Future struct {
	Kind Kind

	// KindTime
	DeadlineMS uint64
	now        func() uint64

	// KindTaskCompletion
	Awaited task.Handle
	tasks   *task.Table

	// KindIPCReply
	ready bool
	reply Reply
}

// NewTime constructs a sleep future that completes once nowFn() is at
// least deadlineMS. nowFn is injected so tests can control time
// deterministically instead of reading a real clock.
func NewTime(deadlineMS uint64, nowFn func() uint64) *Future {
	return &Future{Kind: KindTime, DeadlineMS: deadlineMS, now: nowFn}
}

// NewTaskCompletion constructs a future that completes once awaited is no
// longer schedulable (i.e. has reached Terminated and been reaped, or its
// handle otherwise no longer resolves).
func NewTaskCompletion(tasks *task.Table, awaited task.Handle) *Future {
	return &Future{Kind: KindTaskCompletion, tasks: tasks, Awaited: awaited}
}

// NewIPCReply constructs an unsatisfied IPC reply future; Satisfy
// delivers the reply payload once the endpoint registry completes the
// rendezvous.
func NewIPCReply() *Future {
	return &Future{Kind: KindIPCReply}
}

// Satisfy delivers a reply payload to a KindIPCReply future. It is a
// contract violation to call it on any other kind.
func (f *Future) Satisfy(r Reply) {
	if f.Kind != KindIPCReply {
		panic("future: Satisfy called on a non-IPCReply future")
	}
	f.reply = r
	f.ready = true
}

// Reply returns the delivered reply payload; valid only once IsCompleted
// is true for a KindIPCReply future.
func (f *Future) Reply() Reply { return f.reply }

// IsCompleted evaluates the completion predicate for whichever kind this
// future holds.
func (f *Future) IsCompleted() bool {
	switch f.Kind {
	case KindTime:
		return f.now() >= f.DeadlineMS
	case KindTaskCompletion:
		if f.tasks == nil {
			return true
		}
		return !f.tasks.Contains(f.Awaited)
	case KindIPCReply:
		return f.ready
	default:
		return false
	}
}
