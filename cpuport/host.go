//go:build linux

package cpuport

import (
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// HostPort is a real-hardware-flavored Port: it gates interrupts with
// signal masking (standing in for `cli`/`sti`) the way the teacher's
// queue worker pins itself to an OS thread and masks signals around its
// critical sections, and drives its tick source from io_uring timeout
// completions rather than a PIT/APIC the host does not expose to
// userspace. It still builds its task contexts as goroutines exactly
// like GoroutinePort, since Go gives no portable way to save a raw stack
// pointer regardless of which tick source drives preemption.
type HostPort struct {
	*GoroutinePort

	ring      *giouring.Ring
	sqEntries uint32

	tickInterval time.Duration
	tickStop     chan struct{}
	tickDone     chan struct{}

	startedAtNS int64
	nowMS       atomic.Int64
}

// NewHostPort constructs a host port with the given io_uring submission
// queue depth and tick interval. The ring is not created until Setup.
func NewHostPort(sqEntries uint32, tickInterval time.Duration) *HostPort {
	if sqEntries == 0 {
		sqEntries = 8
	}
	if tickInterval <= 0 {
		tickInterval = time.Millisecond
	}
	hp := &HostPort{
		sqEntries:    sqEntries,
		tickInterval: tickInterval,
		tickStop:     make(chan struct{}),
		tickDone:     make(chan struct{}),
	}
	hp.GoroutinePort = NewGoroutinePort(hp.clockNow)
	return hp
}

func (p *HostPort) clockNow() uint64 {
	return uint64(p.nowMS.Load())
}

// Setup creates the io_uring instance and starts the background goroutine
// that submits periodic IORING_OP_TIMEOUT SQEs and advances the monotonic
// millisecond clock off their completions.
func (p *HostPort) Setup() error {
	ring, err := giouring.CreateRing(p.sqEntries)
	if err != nil {
		return err
	}
	p.ring = ring
	p.startedAtNS = time.Now().UnixNano()

	// Boot with the preemption gate cleared; the entry trampoline of the
	// first task enables it.
	p.DisableInterrupts()

	go p.tickLoop()
	return nil
}

func (p *HostPort) tickLoop() {
	defer close(p.tickDone)
	ts := syscall.Timespec{
		Sec:  int64(p.tickInterval / time.Second),
		Nsec: int64(p.tickInterval % time.Second),
	}
	for {
		select {
		case <-p.tickStop:
			return
		default:
		}

		sqe := p.ring.GetSQE()
		if sqe == nil {
			_, _ = p.ring.Submit()
			continue
		}
		sqe.PrepareTimeout(&ts, 0, 0)

		if _, err := p.ring.SubmitAndWait(1); err != nil {
			return
		}
		cqe, err := p.ring.WaitCQE()
		if err != nil {
			return
		}
		p.ring.CQESeen(cqe)

		p.nowMS.Store((time.Now().UnixNano() - p.startedAtNS) / int64(time.Millisecond))
	}
}

// EnableInterrupts and DisableInterrupts additionally toggle the calling
// thread's signal mask so that, on real hardware semantics, a masked
// preemption gate also suppresses the host's own async-signal delivery,
// keeping the "preemption disabled" invariant meaningful outside the Go
// scheduler too.
func (p *HostPort) EnableInterrupts() {
	p.GoroutinePort.EnableInterrupts()
	_ = unix.PthreadSigmask(unix.SIG_UNBLOCK, tickSigset(), nil)
}

func (p *HostPort) DisableInterrupts() {
	p.GoroutinePort.DisableInterrupts()
	_ = unix.PthreadSigmask(unix.SIG_BLOCK, tickSigset(), nil)
}

func tickSigset() *unix.Sigset_t {
	var set unix.Sigset_t
	set.Val[0] = 1 << (unix.SIGALRM - 1)
	return &set
}

// Teardown stops the tick goroutine and releases the ring. Not part of
// the Port interface (no architecture ever needs to "un-boot"); the
// HostPort tests call it for a clean shutdown.
func (p *HostPort) Teardown() {
	close(p.tickStop)
	<-p.tickDone
	if p.ring != nil {
		p.ring.QueueExit()
	}
}
