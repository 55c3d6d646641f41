package kernel

import (
	"sort"
	"sync/atomic"
)

// LatencyBuckets are the upper bounds (in nanoseconds) of the log-spaced
// histogram buckets dispatch latency is sorted into, the same 1us-10s
// spread the device-I/O metrics this package is descended from used for
// per-request latency.
var LatencyBuckets = []uint64{
	1_000,       // 1us
	10_000,      // 10us
	100_000,     // 100us
	1_000_000,   // 1ms
	10_000_000,  // 10ms
	100_000_000, // 100ms
	1_000_000_000,
	10_000_000_000,
}

// Metrics accumulates counters for the kernel's four hot paths: context
// switches, syscall dispatches, IPC exchanges, and allocator operations.
// Every field is updated with atomic operations since the scheduler
// thread, task goroutines mid-syscall, and an observer reading a snapshot
// concurrently may all touch it.
type Metrics struct {
	ContextSwitches uint64

	Syscalls      uint64
	SyscallErrors uint64

	IPCSends   uint64
	IPCRecvs   uint64
	IPCReplies uint64

	AllocOps      uint64
	DeallocOps    uint64
	AllocFailures uint64

	BytesAllocated uint64
	BytesFreed     uint64

	latencyBuckets [9]uint64 // 8 finite buckets + overflow
	latencySum     uint64
	latencyCount   uint64

	startedAtMS uint64
}

// NewMetrics constructs a zeroed metrics set, stamping startedAtMS as the
// boot reference point for derived rates in Snapshot.
func NewMetrics(nowMS uint64) *Metrics {
	return &Metrics{startedAtMS: nowMS}
}

// RecordContextSwitch increments the context-switch counter. Called once
// per Scheduler.RunPass that actually swaps into a task.
func (m *Metrics) RecordContextSwitch() {
	atomic.AddUint64(&m.ContextSwitches, 1)
}

// RecordSyscall records one trap dispatch and its latency in nanoseconds,
// incrementing SyscallErrors too when the call failed.
func (m *Metrics) RecordSyscall(latencyNS uint64, failed bool) {
	atomic.AddUint64(&m.Syscalls, 1)
	if failed {
		atomic.AddUint64(&m.SyscallErrors, 1)
	}
	m.recordLatency(latencyNS)
}

// RecordIPCSend, RecordIPCRecv, and RecordIPCReply count each half of a
// rendezvous independently, since a Send and its matching Recv/Reply do
// not always land in the same scheduler pass.
func (m *Metrics) RecordIPCSend()  { atomic.AddUint64(&m.IPCSends, 1) }
func (m *Metrics) RecordIPCRecv()  { atomic.AddUint64(&m.IPCRecvs, 1) }
func (m *Metrics) RecordIPCReply() { atomic.AddUint64(&m.IPCReplies, 1) }

// RecordAlloc records a successful (or failed) allocator request of size
// bytes.
func (m *Metrics) RecordAlloc(size uint64, failed bool) {
	atomic.AddUint64(&m.AllocOps, 1)
	if failed {
		atomic.AddUint64(&m.AllocFailures, 1)
		return
	}
	atomic.AddUint64(&m.BytesAllocated, size)
}

// RecordDealloc records a free of size bytes.
func (m *Metrics) RecordDealloc(size uint64) {
	atomic.AddUint64(&m.DeallocOps, 1)
	atomic.AddUint64(&m.BytesFreed, size)
}

func (m *Metrics) recordLatency(ns uint64) {
	atomic.AddUint64(&m.latencySum, ns)
	atomic.AddUint64(&m.latencyCount, 1)
	idx := len(LatencyBuckets)
	for i, bound := range LatencyBuckets {
		if ns <= bound {
			idx = i
			break
		}
	}
	atomic.AddUint64(&m.latencyBuckets[idx], 1)
}

// Snapshot is a point-in-time, non-atomic view of Metrics suitable for
// logging or inspection without further synchronization.
type Snapshot struct {
	ContextSwitches  uint64
	Syscalls         uint64
	SyscallErrorRate float64
	IPCSends         uint64
	IPCRecvs         uint64
	IPCReplies       uint64
	AllocOps         uint64
	DeallocOps       uint64
	AllocFailures    uint64
	BytesAllocated   uint64
	BytesFreed       uint64

	SyscallLatencyP50NS uint64
	SyscallLatencyP99NS uint64
}

// Snapshot computes derived statistics over the counters accumulated so
// far, including linearly-interpolated latency percentiles across the
// log-spaced buckets.
func (m *Metrics) Snapshot() Snapshot {
	syscalls := atomic.LoadUint64(&m.Syscalls)
	errs := atomic.LoadUint64(&m.SyscallErrors)
	var errRate float64
	if syscalls > 0 {
		errRate = float64(errs) / float64(syscalls)
	}

	return Snapshot{
		ContextSwitches:     atomic.LoadUint64(&m.ContextSwitches),
		Syscalls:            syscalls,
		SyscallErrorRate:    errRate,
		IPCSends:            atomic.LoadUint64(&m.IPCSends),
		IPCRecvs:            atomic.LoadUint64(&m.IPCRecvs),
		IPCReplies:          atomic.LoadUint64(&m.IPCReplies),
		AllocOps:            atomic.LoadUint64(&m.AllocOps),
		DeallocOps:          atomic.LoadUint64(&m.DeallocOps),
		AllocFailures:       atomic.LoadUint64(&m.AllocFailures),
		BytesAllocated:      atomic.LoadUint64(&m.BytesAllocated),
		BytesFreed:          atomic.LoadUint64(&m.BytesFreed),
		SyscallLatencyP50NS: m.percentile(0.50),
		SyscallLatencyP99NS: m.percentile(0.99),
	}
}

// percentile interpolates within the bucket whose cumulative count first
// reaches the target fraction of observations, assuming a uniform
// distribution within the bucket's [prevBound, bound] span; the top
// overflow bucket reports its lower bound.
func (m *Metrics) percentile(p float64) uint64 {
	total := atomic.LoadUint64(&m.latencyCount)
	if total == 0 {
		return 0
	}
	target := uint64(p * float64(total))

	var cumulative uint64
	var prevBound uint64
	for i, bound := range LatencyBuckets {
		count := atomic.LoadUint64(&m.latencyBuckets[i])
		if cumulative+count >= target {
			if count == 0 {
				return bound
			}
			frac := float64(target-cumulative) / float64(count)
			return prevBound + uint64(frac*float64(bound-prevBound))
		}
		cumulative += count
		prevBound = bound
	}
	return LatencyBuckets[len(LatencyBuckets)-1]
}

// Reset zeroes every counter, leaving startedAtMS untouched.
func (m *Metrics) Reset() {
	atomic.StoreUint64(&m.ContextSwitches, 0)
	atomic.StoreUint64(&m.Syscalls, 0)
	atomic.StoreUint64(&m.SyscallErrors, 0)
	atomic.StoreUint64(&m.IPCSends, 0)
	atomic.StoreUint64(&m.IPCRecvs, 0)
	atomic.StoreUint64(&m.IPCReplies, 0)
	atomic.StoreUint64(&m.AllocOps, 0)
	atomic.StoreUint64(&m.DeallocOps, 0)
	atomic.StoreUint64(&m.AllocFailures, 0)
	atomic.StoreUint64(&m.BytesAllocated, 0)
	atomic.StoreUint64(&m.BytesFreed, 0)
	atomic.StoreUint64(&m.latencySum, 0)
	atomic.StoreUint64(&m.latencyCount, 0)
	for i := range m.latencyBuckets {
		atomic.StoreUint64(&m.latencyBuckets[i], 0)
	}
}

// Observer receives notifications of kernel events as they happen,
// independent of the polled Metrics counters, for callers that want to
// react rather than periodically sample (e.g. a rate limiter over
// repeated trap errors).
type Observer interface {
	ObserveContextSwitch()
	ObserveSyscall(latencyNS uint64, failed bool)
	ObserveIPC(kind string)
	ObserveAlloc(size uint64, failed bool)
	ObserveDealloc(size uint64)
}

// NoOpObserver discards every event; it is the default until a caller
// installs something real.
type NoOpObserver struct{}

func (NoOpObserver) ObserveContextSwitch()       {}
func (NoOpObserver) ObserveSyscall(uint64, bool) {}
func (NoOpObserver) ObserveIPC(string)           {}
func (NoOpObserver) ObserveAlloc(uint64, bool)   {}
func (NoOpObserver) ObserveDealloc(uint64)       {}

// MetricsObserver bridges Observer calls into a Metrics instance.
type MetricsObserver struct {
	M *Metrics
}

func (o MetricsObserver) ObserveContextSwitch() { o.M.RecordContextSwitch() }
func (o MetricsObserver) ObserveSyscall(latencyNS uint64, failed bool) {
	o.M.RecordSyscall(latencyNS, failed)
}
func (o MetricsObserver) ObserveIPC(kind string) {
	switch kind {
	case "send":
		o.M.RecordIPCSend()
	case "recv":
		o.M.RecordIPCRecv()
	case "reply":
		o.M.RecordIPCReply()
	}
}
func (o MetricsObserver) ObserveAlloc(size uint64, failed bool) { o.M.RecordAlloc(size, failed) }
func (o MetricsObserver) ObserveDealloc(size uint64)            { o.M.RecordDealloc(size) }

// sortedBucketBounds is exposed for tests asserting the histogram stays
// monotonic.
func sortedBucketBounds() []uint64 {
	b := make([]uint64, len(LatencyBuckets))
	copy(b, LatencyBuckets)
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	return b
}
