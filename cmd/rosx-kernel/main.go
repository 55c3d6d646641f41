// Command rosx-kernel boots the kernel with a goroutine-backed CPU port
// and runs a small demo scenario: a sleeper, two RNG clients rendezvousing
// with the built-in RANDOM server, and an allocator task, then shuts down
// once the clients, sleeper and allocator have finished (or after 200
// passes); the RNG server itself never exits. It stands in for the bootloader
// handoff spec §6 describes; a real architecture port would call
// kernel.New/Boot the same way from its own entry assembly instead of
// this package's main.
package main

import (
	"fmt"
	"os"

	"github.com/rghisi/rosx-kernel/cpuport"
	"github.com/rghisi/rosx-kernel/internal/logging"
	"github.com/rghisi/rosx-kernel/ipc"
	"github.com/rghisi/rosx-kernel/ipcservice/random"
	"github.com/rghisi/rosx-kernel/kernel"
)

func main() {
	logging.SetDefault(logging.NewLogger(&logging.Config{
		Level:  logging.LevelInfo,
		Output: os.Stderr,
	}))

	var simClock uint64
	port := cpuport.NewGoroutinePort(func() uint64 { return simClock })

	cfg := kernel.DefaultConfig()
	k, err := kernel.New(cfg, port, func(p []byte) (int, error) { return os.Stdout.Write(p) })
	if err != nil {
		fmt.Fprintln(os.Stderr, "kernel.New:", err)
		os.Exit(1)
	}
	if err := k.Boot(); err != nil {
		fmt.Fprintln(os.Stderr, "kernel.Boot:", err)
		os.Exit(1)
	}

	if _, err := k.Exec("rng-server", func(k *kernel.Kernel) {
		_ = random.Serve(k)
	}); err != nil {
		fmt.Fprintln(os.Stderr, "exec rng-server:", err)
		os.Exit(1)
	}

	clientsDone := 0
	const clients = 2
	for i := 0; i < clients; i++ {
		n := i
		if _, err := k.Exec(fmt.Sprintf("rng-client-%d", n), func(k *kernel.Kernel) {
			ep, err := k.IPCFind(random.EndpointName)
			for err != nil {
				k.TaskYield()
				ep, err = k.IPCFind(random.EndpointName)
			}
			reply, err := k.IPCSend(ep, ipc.Message{Tag: 0})
			for err != nil {
				// EndpointBusy while another client's rendezvous is in
				// flight; yield and try again.
				k.TaskYield()
				reply, err = k.IPCSend(ep, ipc.Message{Tag: 0})
			}
			_ = k.Print([]byte(fmt.Sprintf("client %d got %d\n", n, reply.Words[0])))
			clientsDone++
		}); err != nil {
			fmt.Fprintln(os.Stderr, "exec rng-client:", err)
			os.Exit(1)
		}
	}

	sleeperDone := false
	if _, err := k.Exec("sleeper", func(k *kernel.Kernel) {
		if err := k.Sleep(10); err == nil {
			_ = k.Print([]byte("sleeper woke\n"))
			sleeperDone = true
		}
	}); err != nil {
		fmt.Fprintln(os.Stderr, "exec sleeper:", err)
		os.Exit(1)
	}

	allocDone := false
	if _, err := k.Exec("allocator", func(k *kernel.Kernel) {
		ptr, err := k.Alloc(256, 8)
		if err == nil {
			err = k.Dealloc(ptr)
		}
		if err == nil {
			_ = k.Print([]byte("allocator round-tripped\n"))
			allocDone = true
		}
	}); err != nil {
		fmt.Fprintln(os.Stderr, "exec allocator:", err)
		os.Exit(1)
	}

	for pass := 0; pass < 200; pass++ {
		k.RunOnce()
		simClock += 1
		if clientsDone == clients && sleeperDone && allocDone {
			break
		}
	}

	snap := k.Metrics().Snapshot()
	fmt.Printf(
		"context switches=%d syscalls=%d ipc sends=%d allocs=%d p50=%dns p99=%dns\n",
		snap.ContextSwitches, snap.Syscalls, snap.IPCSends, snap.AllocOps,
		snap.SyscallLatencyP50NS, snap.SyscallLatencyP99NS,
	)

	k.Shutdown()
}
