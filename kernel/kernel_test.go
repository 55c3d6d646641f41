package kernel_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rghisi/rosx-kernel/cpuport"
	"github.com/rghisi/rosx-kernel/ipc"
	"github.com/rghisi/rosx-kernel/ipcservice/random"
	"github.com/rghisi/rosx-kernel/kernel"
	"github.com/rghisi/rosx-kernel/memory"
)

func newTestKernel(t *testing.T) (*kernel.Kernel, *cpuport.GoroutinePort, *uint64) {
	t.Helper()
	var now uint64 = 1000
	port := cpuport.NewGoroutinePort(func() uint64 { return now })

	cfg := kernel.DefaultConfig()
	cfg.MemoryRanges = []memory.Range{{Base: 0x1000, Size: 1024 * 1024}}

	var out bytes.Buffer
	k, err := kernel.New(cfg, port, func(p []byte) (int, error) { return out.Write(p) })
	require.NoError(t, err)
	require.NoError(t, k.Boot())

	return k, port, &now
}

func TestBootRunsIdleTaskWhenNoOtherTaskReady(t *testing.T) {
	k, _, _ := newTestKernel(t)
	k.RunOnce()
	require.EqualValues(t, 1, k.Metrics().Snapshot().ContextSwitches)
}

func TestSleepScenarioBlocksUntilDeadline(t *testing.T) {
	k, _, now := newTestKernel(t)
	*now = 100

	woke := false
	_, err := k.Exec("sleeper", func(k *kernel.Kernel) {
		require.NoError(t, k.Sleep(50))
		woke = true
	})
	require.NoError(t, err)

	k.RunOnce() // sleeper runs, calls Sleep(50), blocks
	require.False(t, woke)

	*now = 149
	k.RunOnce() // not expired yet; idle runs
	require.False(t, woke)

	*now = 150
	// drain passes until the sleeper is polled ready and actually run
	for i := 0; i < 4 && !woke; i++ {
		k.RunOnce()
	}
	require.True(t, woke)
}

func TestAllocDeallocRoundTrips(t *testing.T) {
	k, _, _ := newTestKernel(t)

	var ptr uint64
	var allocErr error
	done := false
	_, err := k.Exec("allocator", func(k *kernel.Kernel) {
		ptr, allocErr = k.Alloc(64, 8)
		if allocErr == nil {
			allocErr = k.Dealloc(ptr)
		}
		done = true
	})
	require.NoError(t, err)

	for i := 0; i < 4 && !done; i++ {
		k.RunOnce()
	}
	require.True(t, done)
	require.NoError(t, allocErr)
	require.NotZero(t, ptr)
}

func TestRNGRendezvousYieldsDistinctValuesFromFixedSeed(t *testing.T) {
	k, _, _ := newTestKernel(t)

	_, err := k.Exec("rng-server", func(k *kernel.Kernel) {
		_ = random.Serve(k)
	})
	require.NoError(t, err)

	var v1, v2 uint64
	clientDone := false
	_, err = k.Exec("rng-client", func(k *kernel.Kernel) {
		ep, err := k.IPCFind(random.EndpointName)
		for err != nil {
			k.TaskYield()
			ep, err = k.IPCFind(random.EndpointName)
		}

		reply, err := k.IPCSend(ep, ipc.Message{Tag: 0})
		require.NoError(t, err)
		v1 = reply.Words[0]

		reply, err = k.IPCSend(ep, ipc.Message{Tag: 0})
		require.NoError(t, err)
		v2 = reply.Words[0]

		clientDone = true
	})
	require.NoError(t, err)

	for i := 0; i < 64 && !clientDone; i++ {
		k.RunOnce()
	}
	require.True(t, clientDone)
	require.NotZero(t, v1)
	require.NotEqual(t, v1, v2)

	want := random.NewXorshift64(random.Seed)
	require.Equal(t, want.Next(), v1)
	require.Equal(t, want.Next(), v2)
}

type fakeELFLoader struct {
	ran *bool
}

func (l fakeELFLoader) Load(data []byte) (func(k *kernel.Kernel), error) {
	return func(k *kernel.Kernel) { *l.ran = true }, nil
}

func TestLoadELFExecsRelocatedEntry(t *testing.T) {
	k, _, _ := newTestKernel(t)

	_, err := k.LoadELF("image", []byte{0x7f, 'E', 'L', 'F'})
	require.Error(t, err, "no loader configured by default")

	ran := false
	k.SetELFLoader(fakeELFLoader{ran: &ran})
	_, err = k.LoadELF("image", []byte{0x7f, 'E', 'L', 'F'})
	require.NoError(t, err)

	for i := 0; i < 4 && !ran; i++ {
		k.RunOnce()
	}
	require.True(t, ran)
}

func TestDispatchUnknownSyscallReturnsFailSentinel(t *testing.T) {
	k, _, _ := newTestKernel(t)
	_, err := k.Exec("caller", func(k *kernel.Kernel) {
		result := k.Dispatch(9999, 0, 0, 0)
		require.Equal(t, kernel.Fail, result)
	})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		k.RunOnce()
	}
}

func TestAllocatingTaskRunsToCompletionWithOneAllocOp(t *testing.T) {
	k, _, _ := newTestKernel(t)
	done := false
	_, err := k.Exec("owner", func(k *kernel.Kernel) {
		_, err := k.Alloc(4096, 8)
		require.NoError(t, err)
		done = true
		// falling off the end marks the task Terminated and reclaims its
		// chunks via the entry trampoline, per spec §4.9.
	})
	require.NoError(t, err)

	for i := 0; i < 4 && !done; i++ {
		k.RunOnce()
	}
	require.True(t, done)

	// The trampoline's cleanup and the reap already ran in the pass that set
	// done; one more pass (idle) must not record any further allocation.
	k.RunOnce()

	require.EqualValues(t, 1, k.Metrics().Snapshot().AllocOps)
}
