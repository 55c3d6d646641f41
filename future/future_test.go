package future

import (
	"testing"

	"github.com/rghisi/rosx-kernel/task"
	"github.com/stretchr/testify/require"
)

func TestTimeFutureCompletesAtDeadline(t *testing.T) {
	now := uint64(100)
	nowFn := func() uint64 { return now }

	f := NewTime(150, nowFn)
	now = 100
	require.False(t, f.IsCompleted())
	now = 149
	require.False(t, f.IsCompleted())
	now = 150
	require.True(t, f.IsCompleted())
}

func TestTaskCompletionFuture(t *testing.T) {
	tbl := task.NewTable(1)
	h, err := tbl.CreateFromEntry("worker", 0, 0, 0)
	require.NoError(t, err)

	f := NewTaskCompletion(tbl, h)
	require.False(t, f.IsCompleted())

	require.NoError(t, tbl.Remove(h))
	require.True(t, f.IsCompleted())
}

func TestIPCReplyFutureSatisfy(t *testing.T) {
	f := NewIPCReply()
	require.False(t, f.IsCompleted())

	f.Satisfy(Reply{Tag: 7, Words: [4]uint64{42}})
	require.True(t, f.IsCompleted())
	require.Equal(t, uint32(7), f.Reply().Tag)
	require.Equal(t, uint64(42), f.Reply().Words[0])
}

func TestRegistryPollStaleHandleReadsComplete(t *testing.T) {
	r := NewRegistry(1)
	h, err := r.Register(NewIPCReply())
	require.NoError(t, err)

	require.False(t, r.Poll(h))
	require.NoError(t, r.Remove(h))
	require.True(t, r.Poll(h))
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry(1)
	h, err := r.Register(NewIPCReply())
	require.NoError(t, err)
	require.False(t, r.Poll(h))

	satisfied := NewIPCReply()
	satisfied.Satisfy(Reply{Tag: 1})
	require.NoError(t, r.Replace(h, satisfied))
	require.True(t, r.Poll(h))
}
