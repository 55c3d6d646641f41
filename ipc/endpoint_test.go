package ipc

import (
	"testing"

	"github.com/rghisi/rosx-kernel/future"
	"github.com/rghisi/rosx-kernel/task"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *future.Registry) {
	t.Helper()
	futures := future.NewRegistry(16)
	return NewRegistry(futures, 8), futures
}

func someTask(id uint32) task.Handle {
	return task.Handle{Index: id, Generation: 0}
}

func TestCreateDuplicateReturnsError(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Create("RANDOM")
	require.NoError(t, err)

	_, err = r.Create("RANDOM")
	require.Error(t, err)
}

func TestRecvOnIdleEndpointBlocksServer(t *testing.T) {
	r, futures := newTestRegistry(t)
	h, err := r.Create("svc")
	require.NoError(t, err)

	fh, err := r.Recv(h, someTask(1))
	require.NoError(t, err)
	require.False(t, futures.Poll(fh))

	state, err := r.State(h)
	require.NoError(t, err)
	require.Equal(t, WaitingReceiver, state)
}

func TestSendWakesWaitingServer(t *testing.T) {
	r, futures := newTestRegistry(t)
	h, err := r.Create("svc")
	require.NoError(t, err)

	serverFut, err := r.Recv(h, someTask(1))
	require.NoError(t, err)
	require.False(t, futures.Poll(serverFut))

	_, err = r.Send(h, someTask(2), Message{Tag: 5})
	require.NoError(t, err)

	require.True(t, futures.Poll(serverFut))
	f, err := futures.Get(serverFut)
	require.NoError(t, err)
	require.Equal(t, uint32(5), f.Reply().Tag)

	state, err := r.State(h)
	require.NoError(t, err)
	require.Equal(t, WaitingReply, state)
}

func TestRecvDeliversQueuedMessageToServer(t *testing.T) {
	r, futures := newTestRegistry(t)
	h, err := r.Create("svc")
	require.NoError(t, err)

	_, err = r.Send(h, someTask(2), Message{Tag: 9})
	require.NoError(t, err)

	recvFut, err := r.Recv(h, someTask(1))
	require.NoError(t, err)
	require.True(t, futures.Poll(recvFut), "message already queued: recv completes immediately")

	f, err := futures.Get(recvFut)
	require.NoError(t, err)
	require.Equal(t, uint32(9), f.Reply().Tag)
}

func TestEndpointReturnsToIdleAfterFullExchange(t *testing.T) {
	r, futures := newTestRegistry(t)
	h, err := r.Create("svc")
	require.NoError(t, err)

	clientFut, err := r.Send(h, someTask(2), Message{Tag: 1})
	require.NoError(t, err)

	recvFut, err := r.Recv(h, someTask(1))
	require.NoError(t, err)
	require.True(t, futures.Poll(recvFut))

	token, err := r.TokenFor(h)
	require.NoError(t, err)

	require.NoError(t, r.Reply(token, Message{Tag: 2, Words: [4]uint64{7}}))

	require.True(t, futures.Poll(clientFut))
	f, err := futures.Get(clientFut)
	require.NoError(t, err)
	require.Equal(t, uint64(7), f.Reply().Words[0])

	state, err := r.State(h)
	require.NoError(t, err)
	require.Equal(t, Idle, state)
}

func TestSecondSendWhileClientWaitingReturnsBusy(t *testing.T) {
	r, futures := newTestRegistry(t)
	h, err := r.Create("svc")
	require.NoError(t, err)

	_, err = r.Send(h, someTask(2), Message{Tag: 1})
	require.NoError(t, err)

	_, err = r.Send(h, someTask(3), Message{Tag: 2})
	require.Error(t, err)

	recvFut, err := r.Recv(h, someTask(1))
	require.NoError(t, err)
	require.True(t, futures.Poll(recvFut))

	got, err := futures.Get(recvFut)
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.Reply().Tag, "first message remains intact")
}
