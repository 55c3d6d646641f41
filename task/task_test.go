package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSchedulable(t *testing.T) {
	tk := New(0, "t", 0, 0, 0)
	require.False(t, tk.IsSchedulable(), "created task is not schedulable")

	tk.SetState(Ready)
	require.True(t, tk.IsSchedulable())

	tk.SetState(Running)
	require.True(t, tk.IsSchedulable())

	tk.SetState(Blocked)
	require.True(t, tk.IsSchedulable())

	tk.SetState(Terminated)
	require.False(t, tk.IsSchedulable())
}

func TestTableCreateGetSetState(t *testing.T) {
	tbl := NewTable(4)

	h, err := tbl.CreateFromEntry("worker", 0x1000, 0, 0)
	require.NoError(t, err)
	require.Equal(t, Created, tbl.GetState(h))

	tbl.SetState(h, Ready)
	require.Equal(t, Ready, tbl.GetState(h))

	require.NoError(t, tbl.Remove(h))
	require.Equal(t, Terminated, tbl.GetState(h), "stale handle reads as terminated")
}

func TestTableStackPointerRoundTrip(t *testing.T) {
	tbl := NewTable(1)
	h, err := tbl.CreateFromEntry("worker", 0x1000, 0, 0)
	require.NoError(t, err)

	ref := tbl.StackPointerRef(h)
	require.NotNil(t, ref)
	*ref = 0xABCD

	require.EqualValues(t, 0xABCD, tbl.StackPointer(h))
}
