// Package random implements the kernel's built-in RNG server: a plain
// task that registers the well-known "RANDOM" endpoint and answers every
// incoming rendezvous with the next value of an xorshift64 stream, per
// spec §8 scenario 2.
package random

import "github.com/rghisi/rosx-kernel/ipc"

// EndpointName is the well-known name user tasks look up via
// kernel.Kernel.IPCFind, per spec §6's "the built-in RNG server uses name
// RANDOM".
const EndpointName = "RANDOM"

// TagValue is the reply tag the server stamps on every response; the
// value itself rides in Words[0].
const TagValue uint32 = 1

// Seed is the fixed xorshift64 seed spec §8 scenario 2 pins exactly, so
// the server produces the same sequence across runs.
const Seed uint64 = 0xDEAD_BEEF_CAFE_BABE

// Xorshift64 is a minimal 64-bit xorshift PRNG: not cryptographically
// secure, adequate for the kernel's one built-in IPC demo service.
type Xorshift64 struct {
	state uint64
}

// NewXorshift64 constructs a generator seeded with seed. A zero seed
// leaves the generator permanently stuck at zero, so the built-in
// server always uses Seed instead.
func NewXorshift64(seed uint64) *Xorshift64 {
	return &Xorshift64{state: seed}
}

// Next advances and returns the next value in the stream.
func (x *Xorshift64) Next() uint64 {
	x.state ^= x.state << 13
	x.state ^= x.state >> 7
	x.state ^= x.state << 17
	return x.state
}

// recvServer is the narrow slice of kernel.Kernel this package depends
// on, so its tests can exercise Serve against a fake without pulling in
// the whole kernel package.
type recvServer interface {
	IPCCreate(name string) (ipc.Handle, error)
	IPCRecv(ep ipc.Handle) (ipc.Message, ipc.ReplyToken, error)
	IPCReply(token ipc.ReplyToken, msg ipc.Message) error
}

// Serve registers the RANDOM endpoint and answers rendezvous requests
// forever with consecutive xorshift64 values, ignoring the incoming
// message's contents entirely (the request carries no parameters). It is
// meant to run as the body of a task created via kernel.Kernel.Exec.
func Serve(k recvServer) error {
	ep, err := k.IPCCreate(EndpointName)
	if err != nil {
		return err
	}
	rng := NewXorshift64(Seed)
	for {
		_, token, err := k.IPCRecv(ep)
		if err != nil {
			return err
		}
		v := rng.Next()
		reply := ipc.Message{Tag: TagValue}
		reply.Words[0] = v
		if err := k.IPCReply(token, reply); err != nil {
			return err
		}
	}
}
