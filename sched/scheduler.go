// Package sched implements the multi-level feedback queue scheduler, the
// blocked-task poll loop, and the execution state (current task, the
// scheduler's own saved context, and the preemption gate) that drives the
// context-switch protocol. Only the scheduler thread — the goroutine that
// drives the scheduler passes (Kernel.Run/RunOnce) — ever calls these methods on the
// scheduler-stack side; task-side methods (SwitchOut) are called from
// whatever goroutine the current task is running on, which is safe
// because cpuport.Port.SwapContext's channel handoff establishes a
// happens-before edge between every pair of callers, reproducing the
// kernel's single-task-at-a-time invariant without extra locking.
package sched

import (
	"github.com/rghisi/rosx-kernel/cpuport"
	"github.com/rghisi/rosx-kernel/future"
	"github.com/rghisi/rosx-kernel/internal/logging"
	"github.com/rghisi/rosx-kernel/kernelerr"
	"github.com/rghisi/rosx-kernel/task"
)

// DefaultLevels is K, the number of MLFQ priority levels, matching the
// original's default.
const DefaultLevels = 3

// Config tunes the scheduler's policy knobs.
type Config struct {
	// Levels is K, the number of MLFQ priority levels (0..K-1).
	Levels int
	// QuantumTicks gives the per-level tick budget before a running task
	// is preempted; index 0 is the highest-priority level. If shorter
	// than Levels, the last entry is reused for remaining levels. Widening
	// quantum per level is a knob, not a requirement (spec §4.8).
	QuantumTicks []int
}

// DefaultConfig returns K=3 levels with quanta 4, 8, 16 ticks, widening at
// lower priority as the component design allows but does not require.
func DefaultConfig() Config {
	return Config{
		Levels:       DefaultLevels,
		QuantumTicks: []int{4, 8, 16},
	}
}

func (c Config) quantumFor(level int) int {
	if len(c.QuantumTicks) == 0 {
		return 1
	}
	if level >= len(c.QuantumTicks) {
		level = len(c.QuantumTicks) - 1
	}
	return c.QuantumTicks[level]
}

type blockedEntry struct {
	task   task.Handle
	future future.Handle
}

// Scheduler owns the MLFQ ready queues, the blocked list, the
// hardware-interrupt inbox, and the execution state (current task,
// scheduler's own stack pointer, preemption gate) described in spec §4.8
// and §4.9 as one component.
type Scheduler struct {
	cfg     Config
	port    cpuport.Port
	tasks   *task.Table
	futures *future.Registry
	log     *logging.Logger

	levels  [][]task.Handle
	blocked []blockedEntry

	idleTask   task.Handle
	hasIdle    bool
	current    task.Handle
	hasCurrent bool

	schedulerSP cpuport.StackPointer
	quantum     map[task.Handle]int

	hwInbox    []byte
	charBuffer []byte

	passes uint64
}

// New constructs a scheduler bound to the given port and shared tables.
func New(cfg Config, port cpuport.Port, tasks *task.Table, futures *future.Registry) *Scheduler {
	if cfg.Levels <= 0 {
		cfg.Levels = DefaultLevels
	}
	return &Scheduler{
		cfg:     cfg,
		port:    port,
		tasks:   tasks,
		futures: futures,
		log:     logging.Default(),
		levels:  make([][]task.Handle, cfg.Levels),
		quantum: make(map[task.Handle]int),
	}
}

// RegisterSchedulerContext records the stack pointer of the goroutine that
// will run Loop, i.e. the scheduler thread's own context, which every
// task-to-scheduler swap targets.
func (s *Scheduler) RegisterSchedulerContext(sp cpuport.StackPointer) {
	s.schedulerSP = sp
}

// SetIdleTask designates the task run when every ready queue is empty.
// Calling it twice is a contract violation: the original treats a second
// assignment as a programming error, not a reportable one.
func (s *Scheduler) SetIdleTask(h task.Handle) {
	if s.hasIdle {
		kernelerr.Halt("sched: SetIdleTask called twice")
	}
	s.idleTask = h
	s.hasIdle = true
}

// Levels reports K, for tests.
func (s *Scheduler) Levels() int { return s.cfg.Levels }

// enqueueAtLevel pushes h onto the tail of level, marking it Ready.
func (s *Scheduler) enqueueAtLevel(h task.Handle, level int) {
	if level < 0 {
		level = 0
	}
	if level >= s.cfg.Levels {
		level = s.cfg.Levels - 1
	}
	if tp, err := s.tasks.Borrow(h); err == nil {
		tp.SetPriority(level)
	}
	s.quantum[h] = s.cfg.quantumFor(level)
	s.tasks.SetState(h, task.Ready)
	s.levels[level] = append(s.levels[level], h)
}

// EnqueueNew readies a newly created task (or one just unblocked) at
// level 0, clearing its yield reason, per the "newly-ready task ... goes
// into level 0" enqueue rule.
func (s *Scheduler) EnqueueNew(h task.Handle) {
	s.tasks.SetYieldReason(h, task.YieldNone)
	s.enqueueAtLevel(h, 0)
}

// reclassify applies the MLFQ enqueue rule appropriate to a task that has
// just stopped running, based on its current state and yield reason.
func (s *Scheduler) reclassify(h task.Handle) {
	if s.hasIdle && h == s.idleTask {
		// The idle task never enters the ready queues; it is the fallback
		// when every level is empty.
		return
	}
	switch s.tasks.GetState(h) {
	case task.Running:
		tp, err := s.tasks.Borrow(h)
		if err != nil {
			return
		}
		switch tp.YieldReason() {
		case task.YieldPreempted:
			level := tp.Priority() + 1
			if level >= s.cfg.Levels {
				level = s.cfg.Levels - 1
			}
			s.enqueueAtLevel(h, level)
		case task.YieldVoluntary:
			s.enqueueAtLevel(h, tp.Priority())
		default:
			s.enqueueAtLevel(h, 0)
		}
	case task.Terminated:
		s.log.Debug("reaping terminated task", "task", h.String())
		delete(s.quantum, h)
		_ = s.tasks.Remove(h)
	case task.Blocked, task.Ready, task.Created:
		// no-op, per spec §4.8 step (5).
	}
}

// Block moves h out of the ready path and onto the blocked list, parked
// on fh. The scheduler's poll pass unblocks it once fh completes.
func (s *Scheduler) Block(h task.Handle, fh future.Handle) {
	s.tasks.SetState(h, task.Blocked)
	s.blocked = append(s.blocked, blockedEntry{task: h, future: fh})
}

// PushHWInterrupt appends a raw scancode byte to the hardware-interrupt
// inbox, to be drained and translated on the next scheduler pass.
func (s *Scheduler) PushHWInterrupt(scancode byte) {
	s.hwInbox = append(s.hwInbox, scancode)
}

// TryReadChar pops the oldest buffered character produced by a prior
// scancode translation, or (0, false) if none is available.
func (s *Scheduler) TryReadChar() (byte, bool) {
	if len(s.charBuffer) == 0 {
		return 0, false
	}
	c := s.charBuffer[0]
	s.charBuffer = s.charBuffer[1:]
	return c, true
}

func (s *Scheduler) drainHWInterrupts() {
	if len(s.hwInbox) == 0 {
		return
	}
	for _, sc := range s.hwInbox {
		if ch, ok := scancodeToASCII[sc]; ok {
			s.charBuffer = append(s.charBuffer, ch)
		}
	}
	s.hwInbox = s.hwInbox[:0]
}

// pollBlocked unblocks every task whose future has completed, freeing
// that future and readying the task at level 0, per the "cleared its
// yield reason" enqueue rule.
func (s *Scheduler) pollBlocked() {
	remaining := s.blocked[:0]
	for _, e := range s.blocked {
		if s.futures.Poll(e.future) {
			_ = s.futures.Remove(e.future)
			s.EnqueueNew(e.task)
			continue
		}
		remaining = append(remaining, e)
	}
	s.blocked = remaining
}

// popReady pops the head of the lowest-numbered non-empty level, or the
// idle task if every level is empty.
func (s *Scheduler) popReady() (task.Handle, bool) {
	for lvl := 0; lvl < s.cfg.Levels; lvl++ {
		q := s.levels[lvl]
		if len(q) == 0 {
			continue
		}
		h := q[0]
		s.levels[lvl] = q[1:]
		return h, true
	}
	if s.hasIdle {
		return s.idleTask, true
	}
	return task.Handle{}, false
}

// RunPass performs one scheduler pass: drain hardware interrupts, poll
// the blocked list, pick and run the next task, then reclassify it on
// return.
func (s *Scheduler) RunPass() {
	s.passes++
	s.drainHWInterrupts()
	s.pollBlocked()

	h, ok := s.popReady()
	if !ok {
		return
	}

	s.current = h
	s.hasCurrent = true
	s.tasks.SetState(h, task.Running)
	if _, ok := s.quantum[h]; !ok {
		if tp, err := s.tasks.Borrow(h); err == nil {
			s.quantum[h] = s.cfg.quantumFor(tp.Priority())
		}
	}

	spRef := s.tasks.StackPointerRef(h)
	if spRef == nil {
		s.reclassify(h)
		return
	}
	target := cpuport.StackPointer(*spRef)
	s.port.SwapContext(&s.schedulerSP, target)
	s.hasCurrent = false
	s.reclassify(h)
}

// Passes reports the number of scheduler passes run, for tests.
func (s *Scheduler) Passes() uint64 { return s.passes }

// CurrentTask reports the task currently swapped in, valid only while
// called from that task's own goroutine (e.g. from within a trap
// dispatch), and ok=false if no task is currently running (the scheduler
// thread itself, or between passes).
func (s *Scheduler) CurrentTask() (task.Handle, bool) {
	return s.current, s.hasCurrent
}

// ChargeQuantum decrements h's remaining tick budget by one and reports
// whether it has been exhausted. Real hardware delivers the timer IRQ
// asynchronously mid-instruction; the architecture-specific trampoline
// that makes that possible is explicitly out of scope (spec §1), so this
// host harness instead checks the budget at trap entry/exit — every
// suspension point the kernel actually controls — which reproduces the
// same MLFQ demotion outcome for any task that makes kernel calls, the
// only population the core can ever observe running code from.
func (s *Scheduler) ChargeQuantum(h task.Handle) bool {
	remaining, ok := s.quantum[h]
	if !ok {
		return false
	}
	remaining--
	if remaining > 0 {
		s.quantum[h] = remaining
		return false
	}
	// Exhausted; the next enqueue refreshes the budget for whatever level
	// the task lands on.
	delete(s.quantum, h)
	return true
}

// SwitchOut is the task-side half of the context-switch protocol: called
// from within the currently running task's own goroutine (via a kernel
// syscall such as task_yield, wait_future, or a quantum-expiry trap), it
// records why the task is giving up the CPU and swaps back to the
// scheduler thread, returning only once the scheduler swaps back into
// this task. Per spec §4.9, preemption is enabled immediately on resume.
func (s *Scheduler) SwitchOut(h task.Handle, reason task.YieldReason) {
	s.tasks.SetYieldReason(h, reason)
	spRef := s.tasks.StackPointerRef(h)
	if spRef == nil {
		return
	}
	s.port.SwapContext((*cpuport.StackPointer)(spRef), s.schedulerSP)
	s.port.EnableInterrupts()
}

// Loop runs bare scheduler passes until stop is closed. Kernel.Run does
// not use it: it loops over Kernel.RunOnce, which also trims expired
// timer entries and counts context switches around each pass.
func (s *Scheduler) Loop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			s.RunPass()
		}
	}
}
