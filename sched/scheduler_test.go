package sched_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rghisi/rosx-kernel/cpuport"
	"github.com/rghisi/rosx-kernel/future"
	"github.com/rghisi/rosx-kernel/sched"
	"github.com/rghisi/rosx-kernel/task"
)

func newFixture(t *testing.T) (*sched.Scheduler, *cpuport.GoroutinePort, *task.Table, *future.Registry, uint64) {
	t.Helper()
	var now uint64 = 1000
	port := cpuport.NewGoroutinePort(func() uint64 { return now })
	tasks := task.NewTable(8)
	futures := future.NewRegistry(8)
	s := sched.New(sched.DefaultConfig(), port, tasks, futures)

	schedSP := port.RegisterCurrent()
	s.RegisterSchedulerContext(schedSP)

	idleH, err := tasks.Add(task.New(0, "idle", 0, 0, 0))
	require.NoError(t, err)
	idleSP := port.InitializeStack(func(uintptr, uintptr) {
		for {
			s.SwitchOut(idleH, task.YieldVoluntary)
		}
	}, 0, 0)
	idleTask, err := tasks.Borrow(idleH)
	require.NoError(t, err)
	idleTask.SetStackPointer(uintptr(idleSP))
	s.SetIdleTask(idleH)

	return s, port, tasks, futures, now
}

// spawnPreemptedWorker creates a ready task whose body immediately
// reports YieldPreempted and gives up the CPU, modeling "ran for its
// quantum, then the tick forced a switch" without needing to simulate
// real tick timing (see Scheduler.ChargeQuantum's doc comment).
func spawnPreemptedWorker(t *testing.T, s *sched.Scheduler, port *cpuport.GoroutinePort, tasks *task.Table) task.Handle {
	t.Helper()
	h, err := tasks.Add(task.New(1, "worker", 0, 0, 0))
	require.NoError(t, err)
	sp := port.InitializeStack(func(uintptr, uintptr) {
		s.SwitchOut(h, task.YieldPreempted)
	}, 0, 0)
	tp, err := tasks.Borrow(h)
	require.NoError(t, err)
	tp.SetStackPointer(uintptr(sp))
	s.EnqueueNew(h)
	return h
}

func TestRunPassDemotesPreemptedTask(t *testing.T) {
	s, port, tasks, _, _ := newFixture(t)
	h := spawnPreemptedWorker(t, s, port, tasks)

	s.RunPass()
	tp, err := tasks.Borrow(h)
	require.NoError(t, err)
	require.Equal(t, task.Ready, tp.State())
	require.Equal(t, 1, tp.Priority(), "preempted from level 0 re-appears at level 1")

	// re-arm: the worker's stack was consumed by its first, one-shot
	// entry closure; point it at a fresh one for the second preemption.
	sp := port.InitializeStack(func(uintptr, uintptr) {
		s.SwitchOut(h, task.YieldPreempted)
	}, 0, 0)
	tp.SetStackPointer(uintptr(sp))

	s.RunPass()
	tp, err = tasks.Borrow(h)
	require.NoError(t, err)
	require.Equal(t, 2, tp.Priority(), "preempted again from level 1 demotes to level 2")

	sp = port.InitializeStack(func(uintptr, uintptr) {
		s.SwitchOut(h, task.YieldPreempted)
	}, 0, 0)
	tp.SetStackPointer(uintptr(sp))

	s.RunPass()
	tp, err = tasks.Borrow(h)
	require.NoError(t, err)
	require.Equal(t, 2, tp.Priority(), "level saturates at K-1")
}

func TestRunPassKeepsVoluntaryYieldAtSameLevel(t *testing.T) {
	s, port, tasks, _, _ := newFixture(t)
	h := spawnPreemptedWorker(t, s, port, tasks)
	s.RunPass() // one preemption demotes it to level 1

	sp := port.InitializeStack(func(uintptr, uintptr) {
		s.SwitchOut(h, task.YieldVoluntary)
	}, 0, 0)
	tp, err := tasks.Borrow(h)
	require.NoError(t, err)
	tp.SetStackPointer(uintptr(sp))

	s.RunPass()
	tp, err = tasks.Borrow(h)
	require.NoError(t, err)
	require.Equal(t, task.Ready, tp.State())
	require.Equal(t, 1, tp.Priority(), "voluntary yield returns to its current level")
}

func TestPollBlockedUnblocksOnCompletedFuture(t *testing.T) {
	s, port, tasks, futures, now := newFixture(t)

	h, err := tasks.Add(task.New(3, "sleeper", 0, 0, 0))
	require.NoError(t, err)
	sp := port.InitializeStack(func(uintptr, uintptr) {
		s.SwitchOut(h, task.YieldNone)
	}, 0, 0)
	tp, err := tasks.Borrow(h)
	require.NoError(t, err)
	tp.SetStackPointer(uintptr(sp))

	fut := future.NewTime(now+50, func() uint64 { return now })
	fh, err := futures.Register(fut)
	require.NoError(t, err)
	s.Block(h, fh)

	s.RunPass() // not expired yet; worker stays blocked, idle runs
	require.Equal(t, task.Blocked, tasks.GetState(h))

	now += 50
	s.RunPass() // now expired; poll unblocks it, readies it at level 0
	tp, err = tasks.Borrow(h)
	require.NoError(t, err)
	require.Equal(t, task.Ready, tp.State())
	require.Equal(t, 0, tp.Priority())
}

func TestTerminatedTaskIsReaped(t *testing.T) {
	s, port, tasks, _, _ := newFixture(t)
	h, err := tasks.Add(task.New(4, "finisher", 0, 0, 0))
	require.NoError(t, err)
	sp := port.InitializeStack(func(uintptr, uintptr) {
		tasks.SetState(h, task.Terminated)
		s.SwitchOut(h, task.YieldVoluntary)
	}, 0, 0)
	tp, err := tasks.Borrow(h)
	require.NoError(t, err)
	tp.SetStackPointer(uintptr(sp))
	s.EnqueueNew(h)

	s.RunPass()
	require.False(t, tasks.Contains(h))
}

func TestHardwareInterruptsTranslateToBufferedChars(t *testing.T) {
	s, _, _, _, _ := newFixture(t)
	s.PushHWInterrupt(0x1e) // 'a'
	s.PushHWInterrupt(0x30) // 'b'

	_, ok := s.TryReadChar()
	require.False(t, ok, "nothing buffered until a pass drains the inbox")

	s.RunPass() // idle task runs; drain happens regardless of who's scheduled
	c, ok := s.TryReadChar()
	require.True(t, ok)
	require.Equal(t, byte('a'), c)
	c, ok = s.TryReadChar()
	require.True(t, ok)
	require.Equal(t, byte('b'), c)
	_, ok = s.TryReadChar()
	require.False(t, ok)
}

func TestChargeQuantumExpiresAfterConfiguredTicks(t *testing.T) {
	s, port, tasks, _, _ := newFixture(t)
	h, err := tasks.Add(task.New(5, "busy", 0, 0, 0))
	require.NoError(t, err)
	sp := port.InitializeStack(func(uintptr, uintptr) {
		s.SwitchOut(h, task.YieldVoluntary)
	}, 0, 0)
	tp, err := tasks.Borrow(h)
	require.NoError(t, err)
	tp.SetStackPointer(uintptr(sp))
	s.EnqueueNew(h)
	s.RunPass() // establishes h's quantum budget for level 0 (4 ticks, see DefaultConfig)

	for i := 0; i < 3; i++ {
		require.False(t, s.ChargeQuantum(h))
	}
	require.True(t, s.ChargeQuantum(h), "fourth charge exhausts the level-0 budget of 4")
}
