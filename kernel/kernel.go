// Package kernel wires the memory, task, future, ipc, timer, and sched
// components into the bootable facade spec §6 describes as the
// bootloader's handoff target, and implements the syscall dispatcher of
// spec §4.10 on top of it.
package kernel

import (
	"github.com/rghisi/rosx-kernel/cpuport"
	"github.com/rghisi/rosx-kernel/future"
	"github.com/rghisi/rosx-kernel/internal/logging"
	"github.com/rghisi/rosx-kernel/ipc"
	"github.com/rghisi/rosx-kernel/kernelerr"
	"github.com/rghisi/rosx-kernel/memory"
	"github.com/rghisi/rosx-kernel/sched"
	"github.com/rghisi/rosx-kernel/task"
	"github.com/rghisi/rosx-kernel/timer"
)

// OutputSink is the bootloader-supplied default output callable (spec
// §6): print writes len bytes starting at ptr to it.
type OutputSink func(p []byte) (int, error)

// Kernel is the process-wide service bundle: every kernel object reachable
// from outside is reached through it, and every mutation on it happens on
// the scheduler stack with interrupts disabled, per spec §5's
// shared-resource policy.
type Kernel struct {
	cfg  Config
	port cpuport.Port
	log  *logging.Logger

	tasks     *task.Table
	futures   *future.Registry
	endpoints *ipc.Registry
	timer     *timer.Timer
	scheduler *sched.Scheduler

	chunks     *memory.ChunkAllocator
	kernelHeap *memory.HeapAllocator
	taskHeaps  map[task.Handle]*memory.HeapAllocator

	elfLoader ELFLoader
	output    OutputSink
	observer  Observer
	metrics   *Metrics

	stop chan struct{}
}

// New constructs a Kernel from cfg, wiring every component but not yet
// starting the scheduler thread; call Boot for that.
func New(cfg Config, port cpuport.Port, output OutputSink) (*Kernel, error) {
	chunks, err := memory.NewChunkAllocator(cfg.ChunkSize, cfg.MemoryRanges)
	if err != nil {
		return nil, err
	}

	tasks := task.NewTable(cfg.TaskTableCapacity)
	tasks.SetStackSize(cfg.DefaultTaskStackSize)
	futures := future.NewRegistry(cfg.FutureTableCapacity)
	endpoints := ipc.NewRegistry(futures, cfg.EndpointTableCapacity)
	tm := timer.New()
	schedCfg := sched.Config{Levels: cfg.SchedulerLevels, QuantumTicks: cfg.QuantumTicks}
	scheduler := sched.New(schedCfg, port, tasks, futures)

	k := &Kernel{
		cfg:        cfg,
		port:       port,
		log:        logging.Default(),
		tasks:      tasks,
		futures:    futures,
		endpoints:  endpoints,
		timer:      tm,
		scheduler:  scheduler,
		chunks:     chunks,
		kernelHeap: memory.NewHeapAllocator(chunks, memory.KernelOwner()),
		taskHeaps:  make(map[task.Handle]*memory.HeapAllocator),
		elfLoader:  NoELFLoader{},
		output:     output,
		observer:   NoOpObserver{},
		metrics:    NewMetrics(port.GetSystemTime()),
		stop:       make(chan struct{}),
	}
	return k, nil
}

// SetELFLoader installs a real ELF relocator; without one, LoadELF always
// fails.
func (k *Kernel) SetELFLoader(l ELFLoader) { k.elfLoader = l }

// SetObserver installs an event observer; NoOpObserver is the default.
func (k *Kernel) SetObserver(o Observer) { k.observer = o }

// Metrics returns the kernel's polled counter set.
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// Boot performs the bootloader handoff sequence (spec §6): bring up the
// CPU port, register the calling goroutine as the scheduler's own
// context, and install the idle task.
func (k *Kernel) Boot() error {
	if err := k.port.Setup(); err != nil {
		return err
	}

	// Ports with goroutine-backed contexts need the booting goroutine
	// itself registered as the scheduler's own context; a bare-metal port
	// would capture the running stack pointer inside its first swap
	// instead.
	var schedSP cpuport.StackPointer
	if reg, ok := k.port.(interface{ RegisterCurrent() cpuport.StackPointer }); ok {
		schedSP = reg.RegisterCurrent()
	}
	k.scheduler.RegisterSchedulerContext(schedSP)

	idleH, err := k.tasks.Add(task.New(0, "idle", 0, 0, 0))
	if err != nil {
		return err
	}
	idleSP := k.port.InitializeStack(func(uintptr, uintptr) {
		for {
			k.scheduler.SwitchOut(idleH, task.YieldVoluntary)
		}
	}, 0, 0)
	idleTask, err := k.tasks.Borrow(idleH)
	if err != nil {
		return err
	}
	idleTask.SetStackPointer(uintptr(idleSP))
	k.scheduler.SetIdleTask(idleH)

	k.log.Info("kernel boot complete",
		"chunk_size", k.cfg.ChunkSize,
		"total_chunks", k.chunks.TotalChunks(),
		"mlfq_levels", k.cfg.SchedulerLevels,
	)
	return nil
}

// Run executes scheduler passes until Shutdown is called, trimming
// expired timer entries before each pass, exactly as RunOnce does.
func (k *Kernel) Run() {
	for {
		select {
		case <-k.stop:
			return
		default:
			k.RunOnce()
		}
	}
}

// RunOnce executes exactly one scheduler pass (draining expired timers
// first), for callers driving the loop themselves, e.g. tests and the
// demo entrypoint.
func (k *Kernel) RunOnce() {
	k.drainTimers()
	before := k.scheduler.Passes()
	k.scheduler.RunPass()
	if k.scheduler.Passes() != before {
		k.metrics.RecordContextSwitch()
		k.observer.ObserveContextSwitch()
	}
}

func (k *Kernel) drainTimers() {
	// Expired entries are dropped: a sleep future evaluates the clock
	// itself when polled, so the deadline multimap only needs trimming.
	k.timer.PopExpired(k.port.GetSystemTime())
}

// Shutdown stops Run's loop. If cfg.DestroyEndpointsOnIdle is set, every
// registered endpoint is destroyed first, waking any blocked waiters.
func (k *Kernel) Shutdown() {
	if k.cfg.DestroyEndpointsOnIdle {
		k.endpoints.DestroyAll()
	}
	close(k.stop)
}

// taskOwner maps a task handle to the memory.Owner identity its
// allocations and chunk reclaim are tracked under.
func taskOwner(h task.Handle) memory.Owner {
	return memory.TaskOwner(uint64(encodeHandle(h.Index, h.Generation)))
}

func (k *Kernel) heapFor(h task.Handle, ok bool) *memory.HeapAllocator {
	if !ok {
		return k.kernelHeap
	}
	hp, exists := k.taskHeaps[h]
	if !exists {
		hp = memory.NewHeapAllocator(k.chunks, taskOwner(h))
		k.taskHeaps[h] = hp
	}
	return hp
}

// Exec creates a new task running fn, scheduling it ready at MLFQ level 0
// (spec §4.8's "newly-ready task" rule). fn receives k so it can call back
// into kernel operations; its entry trampoline enables preemption before
// calling fn and, when fn returns, marks the task Terminated, reclaims its
// chunks, and yields one final time, per spec §4.9's entry-trampoline
// contract.
func (k *Kernel) Exec(name string, fn func(k *Kernel)) (task.Handle, error) {
	h, err := k.tasks.CreateFromEntry(name, 0, 0, 0)
	if err != nil {
		return task.Handle{}, err
	}

	sp := k.port.InitializeStack(func(uintptr, uintptr) {
		k.port.EnableInterrupts()
		fn(k)
		k.tasks.SetState(h, task.Terminated)
		k.chunks.DeallocateByOwner(taskOwner(h))
		delete(k.taskHeaps, h)
		k.scheduler.SwitchOut(h, task.YieldVoluntary)
	}, 0, 0)

	tp, err := k.tasks.Borrow(h)
	if err != nil {
		return task.Handle{}, err
	}
	tp.SetStackPointer(uintptr(sp))
	k.scheduler.EnqueueNew(h)
	k.log.Info("task created", "task", h.String(), "name", name)
	return h, nil
}

// current resolves the calling task from the scheduler's execution
// state; callers running on the scheduler stack itself (ok=false) act on
// behalf of the kernel.
func (k *Kernel) current() (task.Handle, bool) {
	return k.scheduler.CurrentTask()
}

// TaskYield is the `yield` syscall: the calling task voluntarily gives up
// the CPU, re-entering the ready queue at its current MLFQ level.
func (k *Kernel) TaskYield() {
	h, ok := k.current()
	if !ok {
		return
	}
	k.scheduler.SwitchOut(h, task.YieldVoluntary)
}

// Sleep is the `sleep(ms)` syscall: blocks the calling task until at
// least ms milliseconds have elapsed.
func (k *Kernel) Sleep(ms uint64) error {
	h, ok := k.current()
	if !ok {
		return kernelerr.New("kernel.Sleep", kernelerr.NotFound, "Sleep called with no current task")
	}
	now := k.port.GetSystemTime()
	fut := future.NewTime(now+ms, k.port.GetSystemTime)
	fh, err := k.futures.Register(fut)
	if err != nil {
		return err
	}
	k.timer.AddSleep(now, ms, fh)
	k.scheduler.Block(h, fh)
	k.scheduler.SwitchOut(h, task.YieldNone)
	return nil
}

// WaitFuture is the `wait_future(handle)` syscall: blocks the calling
// task until the referenced future completes.
func (k *Kernel) WaitFuture(fh future.Handle) error {
	h, ok := k.current()
	if !ok {
		return kernelerr.New("kernel.WaitFuture", kernelerr.NotFound, "WaitFuture called with no current task")
	}
	k.scheduler.Block(h, fh)
	k.scheduler.SwitchOut(h, task.YieldNone)
	return nil
}

// IsFutureCompleted is the `is_future_completed(handle)` syscall: a
// non-blocking poll.
func (k *Kernel) IsFutureCompleted(fh future.Handle) bool {
	return k.futures.Poll(fh)
}

// withInterruptsGated runs fn with interrupts disabled, restoring them
// afterwards if they were enabled on entry. The heap may be called from
// either scheduler context or a user task, so each allocator call gates
// the preemption tick for its duration.
func (k *Kernel) withInterruptsGated(fn func()) {
	if !k.port.AreInterruptsEnabled() {
		fn()
		return
	}
	k.port.DisableInterrupts()
	fn()
	k.port.EnableInterrupts()
}

// Alloc is the `alloc(size, align)` syscall, served from the calling
// task's own per-owner heap (or the kernel heap, off-task).
func (k *Kernel) Alloc(size, align uint64) (uint64, error) {
	h, ok := k.current()
	var ptr uint64
	var err error
	k.withInterruptsGated(func() {
		hp := k.heapFor(h, ok)
		ptr, err = hp.Allocate(size, align)
	})
	if err != nil {
		k.log.Warn("allocation failed", "size", size, "err", err.Error())
	}
	k.metrics.RecordAlloc(size, err != nil)
	k.observer.ObserveAlloc(size, err != nil)
	return ptr, err
}

// Dealloc is the `dealloc(address)` syscall.
func (k *Kernel) Dealloc(ptr uint64) error {
	h, ok := k.current()
	var err error
	k.withInterruptsGated(func() {
		hp := k.heapFor(h, ok)
		if !hp.Contains(ptr) {
			// fall back to the kernel heap: a kernel-allocated buffer handed
			// to a task and freed back from task context would otherwise
			// report NotFound against the wrong heap.
			hp = k.kernelHeap
		}
		err = hp.Free(ptr)
	})
	k.metrics.RecordDealloc(0)
	k.observer.ObserveDealloc(0)
	return err
}

// LoadELF is the `load_elf(bytes)` syscall: relocates an ELF image via
// the installed ELFLoader and execs a task at its entry point.
func (k *Kernel) LoadELF(name string, data []byte) (task.Handle, error) {
	entry, err := k.elfLoader.Load(data)
	if err != nil {
		return task.Handle{}, err
	}
	return k.Exec(name, entry)
}

// IPCFind is the `ipc_find(name)` syscall.
func (k *Kernel) IPCFind(name string) (ipc.Handle, error) {
	return k.endpoints.Find(name)
}

// IPCCreate registers a new named endpoint, used by IPC servers (e.g.
// ipcservice/random) at startup; this is not itself a syscall number
// since ordinary user tasks only ever look endpoints up, never create
// them, per spec §4.6.
func (k *Kernel) IPCCreate(name string) (ipc.Handle, error) {
	return k.endpoints.Create(name)
}

// IPCSend is the `ipc_send(endpoint, msg)` syscall: blocks the calling
// task until the server replies.
func (k *Kernel) IPCSend(ep ipc.Handle, msg ipc.Message) (ipc.Message, error) {
	h, ok := k.current()
	if !ok {
		return ipc.Message{}, kernelerr.New("kernel.IPCSend", kernelerr.NotFound, "IPCSend called with no current task")
	}
	fh, err := k.endpoints.Send(ep, h, msg)
	if err != nil {
		return ipc.Message{}, err
	}
	k.metrics.RecordIPCSend()
	k.observer.ObserveIPC("send")

	// Hold the future itself, not just its handle: the scheduler frees
	// the registry slot when it unblocks this task, before control
	// returns here.
	f, err := k.futures.Get(fh)
	if err != nil {
		return ipc.Message{}, err
	}
	k.scheduler.Block(h, fh)
	k.scheduler.SwitchOut(h, task.YieldNone)

	// A Destroy while this task was blocked wakes it with a zero-value
	// message; report that as the endpoint being gone.
	if _, err := k.endpoints.State(ep); err != nil {
		return ipc.Message{}, err
	}
	return f.Reply(), nil
}

// IPCRecv blocks the calling task (an IPC server) until a client sends to
// ep, returning the message and a token Reply must be called with.
func (k *Kernel) IPCRecv(ep ipc.Handle) (ipc.Message, ipc.ReplyToken, error) {
	h, ok := k.current()
	if !ok {
		return ipc.Message{}, ipc.ReplyToken{}, kernelerr.New("kernel.IPCRecv", kernelerr.NotFound, "IPCRecv called with no current task")
	}
	fh, err := k.endpoints.Recv(ep, h)
	if err != nil {
		return ipc.Message{}, ipc.ReplyToken{}, err
	}
	k.metrics.RecordIPCRecv()
	k.observer.ObserveIPC("recv")

	// As in IPCSend: keep the future alive past the registry slot's
	// reclamation by the scheduler's unblock pass.
	f, err := k.futures.Get(fh)
	if err != nil {
		return ipc.Message{}, ipc.ReplyToken{}, err
	}
	k.scheduler.Block(h, fh)
	k.scheduler.SwitchOut(h, task.YieldNone)

	msg := f.Reply()

	token, err := k.endpoints.TokenFor(ep)
	if err != nil {
		return ipc.Message{}, ipc.ReplyToken{}, err
	}
	return msg, token, nil
}

// IPCReply completes a rendezvous a server previously received via
// IPCRecv.
func (k *Kernel) IPCReply(token ipc.ReplyToken, msg ipc.Message) error {
	err := k.endpoints.Reply(token, msg)
	k.metrics.RecordIPCReply()
	k.observer.ObserveIPC("reply")
	return err
}

// Print is the `print(ptr, len)` syscall, writing to the bootloader's
// default output sink.
func (k *Kernel) Print(p []byte) error {
	if k.output == nil {
		return nil
	}
	_, err := k.output(p)
	return err
}

// PushHWInterrupt feeds a raw scancode into the scheduler's keyboard
// translation path.
func (k *Kernel) PushHWInterrupt(scancode byte) {
	k.scheduler.PushHWInterrupt(scancode)
}

// TryReadChar is the `try_read_char` syscall: a non-blocking poll.
func (k *Kernel) TryReadChar() (byte, bool) {
	return k.scheduler.TryReadChar()
}

// ReadChar is the `read_char` syscall: blocks the calling task, yielding
// repeatedly, until a character is available. The base design has no
// dedicated keyboard future kind, so this polls via voluntary yields
// rather than a true blocking wait, matching the original's absence of
// an input-ready future.
func (k *Kernel) ReadChar() (byte, error) {
	h, ok := k.current()
	if !ok {
		return 0, kernelerr.New("kernel.ReadChar", kernelerr.NotFound, "ReadChar called with no current task")
	}
	for {
		if c, ok := k.scheduler.TryReadChar(); ok {
			return c, nil
		}
		k.scheduler.SwitchOut(h, task.YieldVoluntary)
	}
}
