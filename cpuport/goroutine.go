package cpuport

import (
	"sync/atomic"
)

// GoroutinePort implements Port in pure Go: since the language gives no
// way to save and restore a raw stack pointer, each StackPointer this
// port hands out addresses a goroutine parked on an unbuffered "resume"
// channel. SwapContext becomes a rendezvous: hand control to the target
// context's channel, then block on the caller's own channel until
// something hands control back. Because exactly one side of that
// rendezvous is ever runnable, this reproduces the kernel's single-task-
// at-a-time invariant without any extra locking.
//
// This is the idiomatic Go analog of context switching via
// channel-handoff between a fixed pair of goroutines, the same shape a
// fiber-style cooperative scheduler takes in this ecosystem when no
// assembly trampoline is available.
type GoroutinePort struct {
	nextID   uint64
	contexts map[StackPointer]*goroutineContext

	interruptsEnabled atomic.Bool
	clock             func() uint64
}

type goroutineContext struct {
	resume  chan struct{}
	entry   func(arg1, arg2 uintptr)
	arg1    uintptr
	arg2    uintptr
	started bool
}

// NewGoroutinePort constructs a port with its own private clock source.
// clock supplies GetSystemTime's millisecond reading (typically wired to
// a real wall clock or, in tests, to a manually advanced fake); with a
// nil clock GetSystemTime always returns 0.
func NewGoroutinePort(clock func() uint64) *GoroutinePort {
	return &GoroutinePort{
		contexts: make(map[StackPointer]*goroutineContext),
		clock:    clock,
	}
}

func (p *GoroutinePort) Setup() error { return nil }

func (p *GoroutinePort) EnableInterrupts()          { p.interruptsEnabled.Store(true) }
func (p *GoroutinePort) DisableInterrupts()         { p.interruptsEnabled.Store(false) }
func (p *GoroutinePort) AreInterruptsEnabled() bool { return p.interruptsEnabled.Load() }

func (p *GoroutinePort) GetSystemTime() uint64 {
	if p.clock == nil {
		return 0
	}
	return p.clock()
}

// RegisterCurrent wraps the calling goroutine itself as a context, for
// the scheduler thread, which is not spawned through InitializeStack —
// it already exists as whatever goroutine called boot.
func (p *GoroutinePort) RegisterCurrent() StackPointer {
	p.nextID++
	sp := StackPointer(p.nextID)
	p.contexts[sp] = &goroutineContext{resume: make(chan struct{}), started: true}
	return sp
}

// InitializeStack records entry/arg1/arg2 for later lazy launch and
// returns an opaque handle; the goroutine itself is not spawned until the
// first SwapContext targets it, mirroring "first entry" semantics.
func (p *GoroutinePort) InitializeStack(entry func(arg1, arg2 uintptr), arg1, arg2 uintptr) StackPointer {
	p.nextID++
	sp := StackPointer(p.nextID)
	p.contexts[sp] = &goroutineContext{
		resume: make(chan struct{}),
		entry:  entry,
		arg1:   arg1,
		arg2:   arg2,
	}
	return sp
}

func (p *GoroutinePort) ensureStarted(sp StackPointer) *goroutineContext {
	ctx := p.contexts[sp]
	if ctx == nil {
		panic("cpuport: SwapContext targeted an unknown context")
	}
	if !ctx.started {
		ctx.started = true
		go func() {
			<-ctx.resume
			ctx.entry(ctx.arg1, ctx.arg2)
			// A well-formed trampoline never returns: it ends by marking
			// its task terminated and swapping back to the scheduler.
			// Reaching here means it did anyway; park rather than let the
			// goroutine vanish out from under a future SwapContext call.
			select {}
		}()
	}
	return ctx
}

// SwapContext implements the save-then-load rendezvous described above.
func (p *GoroutinePort) SwapContext(old *StackPointer, new StackPointer) {
	oldCtx := p.contexts[*old]
	if oldCtx == nil {
		panic("cpuport: SwapContext called with an unknown old context")
	}
	newCtx := p.ensureStarted(new)

	newCtx.resume <- struct{}{}
	<-oldCtx.resume
}
