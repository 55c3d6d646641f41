package kernel

import (
	"github.com/rghisi/rosx-kernel/memory"
	"github.com/rghisi/rosx-kernel/sched"
	"github.com/rghisi/rosx-kernel/task"
)

// Config bundles every tunable knob the kernel façade needs to boot,
// matching the teacher's DeviceParams/Options-plus-DefaultConfig pattern
// (backend.go) generalized from device parameters to kernel parameters.
type Config struct {
	// MemoryRanges describes the usable physical memory the bootloader
	// handed off, per spec §6. At least one range is required.
	MemoryRanges []memory.Range
	// ChunkSize is the coarse allocation granularity (spec §3, default
	// 64 KiB).
	ChunkSize uint64
	// SchedulerLevels is K, the MLFQ priority level count.
	SchedulerLevels int
	// QuantumTicks gives the per-level tick budget; see sched.Config.
	QuantumTicks []int
	// DefaultTaskStackSize overrides task.DefaultStackSize when nonzero.
	DefaultTaskStackSize int
	// TaskTableCapacity, FutureTableCapacity, EndpointTableCapacity size
	// the respective generational arenas' initial capacity.
	TaskTableCapacity     int
	FutureTableCapacity   int
	EndpointTableCapacity int
	// DestroyEndpointsOnIdle controls whether Shutdown destroys every
	// still-registered endpoint (waking any waiters with
	// EndpointNotFound) instead of leaving them for process exit to
	// reclaim, resolving the open question in spec §9 about endpoint
	// permanence.
	DestroyEndpointsOnIdle bool
}

// DefaultMemorySize is the size of the single synthetic memory range
// DefaultConfig reserves for a host-simulated boot when the caller has no
// real bootloader-supplied ranges to hand in (16 MiB).
const DefaultMemorySize = 16 * 1024 * 1024

// DefaultConfig returns a configuration suitable for running the kernel
// as a host simulation: one 16 MiB synthetic memory range, 64 KiB chunks,
// K=3 MLFQ levels with the scheduler package's default quanta, and
// task.DefaultStackSize per-task stacks.
func DefaultConfig() Config {
	return Config{
		MemoryRanges:           []memory.Range{{Base: 0x1000, Size: DefaultMemorySize}},
		ChunkSize:              memory.DefaultChunkSize,
		SchedulerLevels:        sched.DefaultLevels,
		QuantumTicks:           sched.DefaultConfig().QuantumTicks,
		DefaultTaskStackSize:   task.DefaultStackSize,
		TaskTableCapacity:      16,
		FutureTableCapacity:    32,
		EndpointTableCapacity:  8,
		DestroyEndpointsOnIdle: false,
	}
}
