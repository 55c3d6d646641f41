package kernel

import (
	"unsafe"

	"github.com/rghisi/rosx-kernel/future"
	"github.com/rghisi/rosx-kernel/ipc"
	"github.com/rghisi/rosx-kernel/kernelerr"
	"github.com/rghisi/rosx-kernel/task"
)

var (
	errNoCharAvailable     = kernelerr.New("kernel.Dispatch", kernelerr.NotFound, "no character buffered")
	errUnknownSyscall      = kernelerr.New("kernel.Dispatch", kernelerr.NotFound, "unrecognized syscall number")
	errRawEntryUnsupported = kernelerr.New("kernel.Dispatch", kernelerr.NotFound, "raw-address exec requires an architecture trampoline; use Kernel.Exec or LoadELF")
)

// ptrLenBytes reinterprets a (ptr, len) syscall argument pair as a byte
// slice. The trap ABI (spec §6) hands the kernel raw machine words
// describing caller-reachable bytes in the same address space — there is
// no virtual memory separation to cross (spec's Non-goals), so this
// unsafe reconstruction is the trap boundary doing exactly what a real
// architecture's syscall entry does, not a workaround.
func ptrLenBytes(ptr, length uintptr) []byte {
	if ptr == 0 || length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(length))
}

// Dispatch is the single indexed trap entry point of spec §4.10: given a
// syscall number and three machine-word arguments, it performs the
// corresponding kernel operation and returns one machine word, Fail for
// any error or an unrecognized num. ChargeQuantum is consulted on every
// call and, if the calling task's quantum has just expired, it is forced
// to preempt before Dispatch returns to it — reproducing a timer IRQ
// arriving at the trap boundary rather than truly asynchronously (see
// Scheduler.ChargeQuantum).
func (k *Kernel) Dispatch(num uint32, a1, a2, a3 uintptr) uintptr {
	// Preemption is disabled on every kernel entry and restored when
	// control returns to the task.
	wasEnabled := k.port.AreInterruptsEnabled()
	if wasEnabled {
		k.port.DisableInterrupts()
	}

	start := k.port.GetSystemTime()
	current, hasCurrent := k.current()

	result, err := k.dispatchOne(num, a1, a2, a3)

	elapsedMS := k.port.GetSystemTime() - start
	k.metrics.RecordSyscall(elapsedMS*1_000_000, err != nil)
	k.observer.ObserveSyscall(elapsedMS*1_000_000, err != nil)

	if hasCurrent && k.scheduler.ChargeQuantum(current) {
		// SwitchOut re-enables preemption itself once the task resumes.
		k.scheduler.SwitchOut(current, task.YieldPreempted)
	} else if wasEnabled {
		k.port.EnableInterrupts()
	}

	if err != nil {
		if err == errUnknownSyscall {
			k.log.Warn("unrecognized syscall number", "num", num)
		}
		return Fail
	}
	return result
}

func (k *Kernel) dispatchOne(num uint32, a1, a2, a3 uintptr) (uintptr, error) {
	switch num {
	case SyscallPrint:
		if err := k.Print(ptrLenBytes(a1, a2)); err != nil {
			return 0, err
		}
		return 0, nil

	case SyscallSleep:
		if err := k.Sleep(uint64(a1)); err != nil {
			return 0, err
		}
		return 0, nil

	case SyscallYield:
		k.TaskYield()
		return 0, nil

	case SyscallReadChar:
		c, err := k.ReadChar()
		if err != nil {
			return 0, err
		}
		return uintptr(c), nil

	case SyscallTryReadChar:
		c, ok := k.TryReadChar()
		if !ok {
			return 0, errNoCharAvailable
		}
		return uintptr(c), nil

	case SyscallWaitFuture:
		idx, gen := decodeHandle(a1)
		fh := future.Handle{Index: idx, Generation: gen}
		if err := k.WaitFuture(fh); err != nil {
			return 0, err
		}
		return 0, nil

	case SyscallIsFutureCompleted:
		idx, gen := decodeHandle(a1)
		fh := future.Handle{Index: idx, Generation: gen}
		if k.IsFutureCompleted(fh) {
			return 1, nil
		}
		return 0, nil

	case SyscallAlloc:
		ptr, err := k.Alloc(uint64(a1), uint64(a2))
		if err != nil {
			return 0, err
		}
		return uintptr(ptr), nil

	case SyscallDealloc:
		if err := k.Dealloc(uint64(a1)); err != nil {
			return 0, err
		}
		return 0, nil

	case SyscallLoadELF:
		h, err := k.LoadELF("elf-task", ptrLenBytes(a1, a2))
		if err != nil {
			return 0, err
		}
		return encodeHandle(h.Index, h.Generation), nil

	case SyscallIPCFind:
		h, err := k.IPCFind(string(ptrLenBytes(a1, a2)))
		if err != nil {
			return 0, err
		}
		return encodeHandle(h.Index, h.Generation), nil

	case SyscallIPCSend:
		idx, gen := decodeHandle(a1)
		ep := ipc.Handle{Index: idx, Generation: gen}
		reply, err := k.IPCSend(ep, ipc.Message{Tag: uint32(a2)})
		if err != nil {
			return 0, err
		}
		return encodeReplyBits(reply), nil

	case SyscallExec:
		// exec(entry): the entry argument is a raw address meant for the
		// CPU port trampoline. Constructing a task directly from a bare
		// address (rather than a Go closure, as Kernel.Exec expects)
		// requires the same architecture-specific entry-construction the
		// ELF relocator needs; see LoadELF and ELFLoader.
		return 0, errRawEntryUnsupported

	default:
		return 0, errUnknownSyscall
	}
}

// encodeReplyBits packs a reply's tag and first payload word into one
// machine word's worth of ABI-visible bits: the tag in the high 32 bits,
// the low 32 bits of Words[0] in the low 32 bits. Callers needing the
// full reply (all four words) should use the typed IPCSend method
// directly instead of going through Dispatch.
func encodeReplyBits(r ipc.Message) uintptr {
	return uintptr(r.Tag)<<32 | uintptr(uint32(r.Words[0]))
}
