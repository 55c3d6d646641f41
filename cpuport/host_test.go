//go:build linux

package cpuport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestHostPort sets up a HostPort with a fast tick, skipping the test
// when the host denies io_uring (common in sandboxed CI containers).
func newTestHostPort(t *testing.T) *HostPort {
	t.Helper()
	p := NewHostPort(8, time.Millisecond)
	if err := p.Setup(); err != nil {
		t.Skipf("io_uring unavailable on this host: %v", err)
	}
	t.Cleanup(p.Teardown)
	return p
}

func TestHostPortInterruptGate(t *testing.T) {
	p := NewHostPort(0, 0)

	p.EnableInterrupts()
	require.True(t, p.AreInterruptsEnabled())

	p.DisableInterrupts()
	require.False(t, p.AreInterruptsEnabled())
}

func TestHostPortSetupClearsInterruptGate(t *testing.T) {
	p := newTestHostPort(t)
	require.False(t, p.AreInterruptsEnabled(), "the gate stays cleared until a task trampoline enables it")
}

func TestHostPortTickAdvancesClock(t *testing.T) {
	p := newTestHostPort(t)

	start := p.GetSystemTime()
	require.Eventually(t, func() bool {
		return p.GetSystemTime() > start
	}, time.Second, time.Millisecond, "timeout completions should advance the millisecond clock")
}

func TestHostPortSwapContextRendezvous(t *testing.T) {
	p := newTestHostPort(t)

	schedSP := p.RegisterCurrent()
	ran := false
	var taskSP StackPointer
	taskSP = p.InitializeStack(func(uintptr, uintptr) {
		ran = true
		p.SwapContext(&taskSP, schedSP)
	}, 0, 0)

	p.SwapContext(&schedSP, taskSP)
	require.True(t, ran, "swap must hand control to the task context and back")
}
