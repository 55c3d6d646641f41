// Package ipc implements the synchronous rendezvous IPC state machine and
// its name registry: named endpoints that carry at most one pending
// message, with a FIFO-per-endpoint busy guard rather than internal
// queueing.
package ipc

import (
	"github.com/rghisi/rosx-kernel/future"
	"github.com/rghisi/rosx-kernel/genarena"
	"github.com/rghisi/rosx-kernel/kernelerr"
	"github.com/rghisi/rosx-kernel/task"
)

// Message is the small fixed-shape record exchanged over an endpoint: a
// tag and a handful of machine-word payload slots. It shares its wire
// shape with future.Reply, since a reply is just a message flowing the
// other direction.
type Message = future.Reply

// Handle addresses an endpoint in a Registry.
type Handle = genarena.Handle

// State is an endpoint's rendezvous state.
type State int

const (
	Idle State = iota
	WaitingReceiver
	WaitingCaller
	WaitingReply
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingReceiver:
		return "waiting_receiver"
	case WaitingCaller:
		return "waiting_caller"
	case WaitingReply:
		return "waiting_reply"
	default:
		return "unknown"
	}
}

// ReplyToken is opaque to callers outside this package; it carries the
// identity of the exact client a later Reply call should wake, so a
// Reply targeting a stale token cannot disturb whatever the endpoint has
// moved on to.
type ReplyToken struct {
	endpoint    Handle
	client      task.Handle
	replyFuture future.Handle
}

type endpoint struct {
	name  string
	state State

	// WaitingReceiver
	receiverFuture future.Handle

	// WaitingCaller
	callerClient      task.Handle
	callerMsg         Message
	callerReplyFuture future.Handle

	// WaitingReply
	replyClient task.Handle
	replyFuture future.Handle
}

// Registry is the named synchronous IPC rendezvous table.
type Registry struct {
	arena   *genarena.Arena[*endpoint]
	byName  map[string]Handle
	futures *future.Registry
}

// NewRegistry constructs an empty endpoint registry. futures is the
// kernel's shared future registry; endpoint blocking is implemented in
// terms of it so the scheduler's poll loop treats IPC waits exactly like
// any other future.
func NewRegistry(futures *future.Registry, initialCapacity int) *Registry {
	return &Registry{
		arena:   genarena.New[*endpoint](initialCapacity),
		byName:  make(map[string]Handle),
		futures: futures,
	}
}

// Create registers a new named endpoint in the Idle state. Creation is
// idempotent-by-failure: a duplicate name is rejected rather than
// returning the existing handle.
func (r *Registry) Create(name string) (Handle, error) {
	if _, exists := r.byName[name]; exists {
		return Handle{}, kernelerr.New("ipc.Create", kernelerr.EndpointAlreadyExists, "endpoint %q already registered", name)
	}
	h, err := r.arena.Add(&endpoint{name: name, state: Idle})
	if err != nil {
		return Handle{}, kernelerr.Wrap("ipc.Create", kernelerr.OutOfMemory, err)
	}
	r.byName[name] = h
	return h, nil
}

// Find resolves a registered name to its endpoint handle.
func (r *Registry) Find(name string) (Handle, error) {
	h, ok := r.byName[name]
	if !ok {
		return Handle{}, kernelerr.New("ipc.Find", kernelerr.EndpointNotFound, "no endpoint named %q", name)
	}
	return h, nil
}

func (r *Registry) resolve(h Handle) (*endpoint, error) {
	ep, err := r.arena.Borrow(h)
	if err != nil {
		return nil, kernelerr.Wrap("ipc", kernelerr.EndpointNotFound, err)
	}
	return *ep, nil
}

// Send delivers msg from client to the endpoint h. If a server is already
// blocked in Recv, the message is handed to it directly and the client
// moves straight to WaitingReply; otherwise the message is queued and the
// client blocks until a server receives it. Returns the future the
// client must wait on for the reply. A second Send while one is already
// queued or being replied to returns EndpointBusy, leaving the first
// message untouched.
func (r *Registry) Send(h Handle, client task.Handle, msg Message) (future.Handle, error) {
	ep, err := r.resolve(h)
	if err != nil {
		return future.Handle{}, err
	}

	switch ep.state {
	case Idle:
		replyFut := future.NewIPCReply()
		fh, err := r.futures.Register(replyFut)
		if err != nil {
			return future.Handle{}, err
		}
		ep.state = WaitingCaller
		ep.callerClient = client
		ep.callerMsg = msg
		ep.callerReplyFuture = fh
		return fh, nil

	case WaitingReceiver:
		serverFut, err := r.futures.Get(ep.receiverFuture)
		if err != nil {
			return future.Handle{}, err
		}
		serverFut.Satisfy(msg)

		replyFut := future.NewIPCReply()
		fh, err := r.futures.Register(replyFut)
		if err != nil {
			return future.Handle{}, err
		}
		ep.state = WaitingReply
		ep.replyClient = client
		ep.replyFuture = fh
		return fh, nil

	default: // WaitingCaller, WaitingReply
		return future.Handle{}, kernelerr.New("ipc.Send", kernelerr.EndpointBusy, "endpoint %q busy (state=%s)", ep.name, ep.state)
	}
}

// Recv blocks server on endpoint h for an incoming message. If a client
// is already queued (WaitingCaller), the message is delivered immediately
// via an already-satisfied future and the endpoint moves to WaitingReply;
// otherwise the server blocks until Send arrives. A second Recv while a
// server is already registered or a reply is outstanding returns
// EndpointBusy.
func (r *Registry) Recv(h Handle, server task.Handle) (future.Handle, error) {
	ep, err := r.resolve(h)
	if err != nil {
		return future.Handle{}, err
	}

	switch ep.state {
	case Idle:
		recvFut := future.NewIPCReply()
		fh, err := r.futures.Register(recvFut)
		if err != nil {
			return future.Handle{}, err
		}
		ep.state = WaitingReceiver
		ep.receiverFuture = fh
		return fh, nil

	case WaitingCaller:
		recvFut := future.NewIPCReply()
		recvFut.Satisfy(ep.callerMsg)
		fh, err := r.futures.Register(recvFut)
		if err != nil {
			return future.Handle{}, err
		}
		ep.state = WaitingReply
		ep.replyClient = ep.callerClient
		ep.replyFuture = ep.callerReplyFuture
		return fh, nil

	default: // WaitingReceiver, WaitingReply
		return future.Handle{}, kernelerr.New("ipc.Recv", kernelerr.EndpointBusy, "endpoint %q busy (state=%s)", ep.name, ep.state)
	}
}

// TokenFor returns the reply token for the client currently awaiting a
// reply on h. Valid only while h is in WaitingReply.
func (r *Registry) TokenFor(h Handle) (ReplyToken, error) {
	ep, err := r.resolve(h)
	if err != nil {
		return ReplyToken{}, err
	}
	if ep.state != WaitingReply {
		return ReplyToken{}, kernelerr.New("ipc.TokenFor", kernelerr.NotFound, "endpoint %q has no client awaiting reply", ep.name)
	}
	return ReplyToken{endpoint: h, client: ep.replyClient, replyFuture: ep.replyFuture}, nil
}

// Reply delivers msg to the client identified by token, satisfying its
// pending reply future regardless of the endpoint's current bookkeeping.
// If the endpoint still has token's client as its tracked WaitingReply
// occupant, the endpoint returns to Idle; otherwise the endpoint's state
// machine is left untouched (the token was stale), though the message
// still reaches the originally-waiting client since its future is
// satisfied independent of the endpoint row.
func (r *Registry) Reply(token ReplyToken, msg Message) error {
	replyFut, err := r.futures.Get(token.replyFuture)
	if err != nil {
		return err
	}
	replyFut.Satisfy(msg)

	ep, err := r.resolve(token.endpoint)
	if err != nil {
		return nil // endpoint gone; message was still delivered to the waiting future
	}
	if ep.state == WaitingReply && ep.replyFuture == token.replyFuture {
		*ep = endpoint{name: ep.name, state: Idle}
	}
	return nil
}

// Destroy removes an endpoint, waking any party currently blocked on it
// with EndpointNotFound by satisfying their future with a zero-value
// message; callers polling it must check the endpoint's liveness
// themselves via a subsequent Find, since the future system has no
// failure channel of its own. Resolves the open question of endpoint
// permanence left unaddressed in the original design.
func (r *Registry) Destroy(h Handle) error {
	ep, err := r.resolve(h)
	if err != nil {
		return err
	}

	switch ep.state {
	case WaitingReceiver:
		if f, err := r.futures.Get(ep.receiverFuture); err == nil {
			f.Satisfy(Message{})
		}
	case WaitingCaller:
		if f, err := r.futures.Get(ep.callerReplyFuture); err == nil {
			f.Satisfy(Message{})
		}
	case WaitingReply:
		if f, err := r.futures.Get(ep.replyFuture); err == nil {
			f.Satisfy(Message{})
		}
	}

	delete(r.byName, ep.name)
	_, err = r.arena.Remove(h)
	return err
}

// DestroyAll destroys every registered endpoint, waking any blocked
// waiters. Used by kernel shutdown when the destroy-on-idle policy is
// enabled.
func (r *Registry) DestroyAll() {
	handles := make([]Handle, 0, len(r.byName))
	for _, h := range r.byName {
		handles = append(handles, h)
	}
	for _, h := range handles {
		_ = r.Destroy(h)
	}
}

// State reports h's current rendezvous state, for tests and diagnostics.
func (r *Registry) State(h Handle) (State, error) {
	ep, err := r.resolve(h)
	if err != nil {
		return Idle, err
	}
	return ep.state, nil
}
