package kernel

import (
	"testing"
)

func TestMetricsCountersAndErrorRate(t *testing.T) {
	m := NewMetrics(0)

	snap := m.Snapshot()
	if snap.Syscalls != 0 {
		t.Errorf("Expected 0 initial syscalls, got %d", snap.Syscalls)
	}

	m.RecordSyscall(1_000_000, false) // 1ms, success
	m.RecordSyscall(2_000_000, false) // 2ms, success
	m.RecordSyscall(500_000, true)    // 0.5ms, error
	m.RecordContextSwitch()
	m.RecordIPCSend()
	m.RecordIPCRecv()
	m.RecordIPCReply()
	m.RecordAlloc(1024, false)
	m.RecordAlloc(512, true)
	m.RecordDealloc(1024)

	snap = m.Snapshot()

	if snap.Syscalls != 3 {
		t.Errorf("Expected 3 syscalls, got %d", snap.Syscalls)
	}
	expectedErrorRate := float64(1) / float64(3)
	if snap.SyscallErrorRate < expectedErrorRate-0.01 || snap.SyscallErrorRate > expectedErrorRate+0.01 {
		t.Errorf("Expected error rate ~%.2f, got %.2f", expectedErrorRate, snap.SyscallErrorRate)
	}
	if snap.ContextSwitches != 1 {
		t.Errorf("Expected 1 context switch, got %d", snap.ContextSwitches)
	}
	if snap.IPCSends != 1 || snap.IPCRecvs != 1 || snap.IPCReplies != 1 {
		t.Errorf("Expected 1 of each IPC counter, got %d/%d/%d", snap.IPCSends, snap.IPCRecvs, snap.IPCReplies)
	}
	if snap.AllocOps != 2 {
		t.Errorf("Expected 2 alloc ops, got %d", snap.AllocOps)
	}
	if snap.AllocFailures != 1 {
		t.Errorf("Expected 1 alloc failure, got %d", snap.AllocFailures)
	}
	// Only successful allocations count toward byte totals.
	if snap.BytesAllocated != 1024 {
		t.Errorf("Expected 1024 bytes allocated, got %d", snap.BytesAllocated)
	}
	if snap.BytesFreed != 1024 {
		t.Errorf("Expected 1024 bytes freed, got %d", snap.BytesFreed)
	}
}

func TestMetricsLatencyPercentiles(t *testing.T) {
	m := NewMetrics(0)

	// 100 observations of 0.5ms, all landing in the 1ms bucket.
	for i := 0; i < 100; i++ {
		m.RecordSyscall(500_000, false)
	}

	snap := m.Snapshot()
	if snap.SyscallLatencyP50NS == 0 {
		t.Error("Expected nonzero p50")
	}
	if snap.SyscallLatencyP99NS < snap.SyscallLatencyP50NS {
		t.Errorf("p99 (%d) below p50 (%d)", snap.SyscallLatencyP99NS, snap.SyscallLatencyP50NS)
	}
	if snap.SyscallLatencyP99NS > 1_000_000 {
		t.Errorf("All observations in the 1ms bucket; p99 %d beyond its bound", snap.SyscallLatencyP99NS)
	}
}

func TestMetricsBucketBoundsMonotonic(t *testing.T) {
	bounds := sortedBucketBounds()
	for i := range bounds {
		if bounds[i] != LatencyBuckets[i] {
			t.Errorf("LatencyBuckets not sorted at index %d", i)
		}
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics(0)
	m.RecordSyscall(1_000, false)
	m.RecordContextSwitch()
	m.Reset()

	snap := m.Snapshot()
	if snap.Syscalls != 0 || snap.ContextSwitches != 0 {
		t.Errorf("Expected zeroed counters after Reset, got syscalls=%d switches=%d", snap.Syscalls, snap.ContextSwitches)
	}
	if snap.SyscallLatencyP50NS != 0 {
		t.Errorf("Expected zero p50 after Reset, got %d", snap.SyscallLatencyP50NS)
	}
}

func TestMetricsObserverBridgesToMetrics(t *testing.T) {
	m := NewMetrics(0)
	var o Observer = MetricsObserver{M: m}

	o.ObserveContextSwitch()
	o.ObserveSyscall(1_000, true)
	o.ObserveIPC("send")
	o.ObserveIPC("recv")
	o.ObserveIPC("reply")
	o.ObserveAlloc(64, false)
	o.ObserveDealloc(64)

	snap := m.Snapshot()
	if snap.ContextSwitches != 1 {
		t.Errorf("Expected 1 context switch, got %d", snap.ContextSwitches)
	}
	if snap.Syscalls != 1 {
		t.Errorf("Expected 1 syscall, got %d", snap.Syscalls)
	}
	if snap.IPCSends != 1 || snap.IPCRecvs != 1 || snap.IPCReplies != 1 {
		t.Errorf("Expected 1 of each IPC counter, got %d/%d/%d", snap.IPCSends, snap.IPCRecvs, snap.IPCReplies)
	}
}
