package timer

import (
	"testing"

	"github.com/rghisi/rosx-kernel/future"
	"github.com/stretchr/testify/require"
)

func h(i uint32) future.Handle { return future.Handle{Index: i} }

func TestSleepExpiresInclusiveAtDeadline(t *testing.T) {
	tm := New()
	tm.AddSleep(100, 50, h(1))

	require.Empty(t, tm.PopExpired(149))
	expired := tm.PopExpired(150)
	require.Equal(t, []future.Handle{h(1)}, expired)
}

func TestPopExpiredRemovesOnlyExpired(t *testing.T) {
	tm := New()
	tm.AddSleep(0, 100, h(1)) // deadline 100
	tm.AddSleep(0, 200, h(2)) // deadline 200

	expired := tm.PopExpired(100)
	require.Equal(t, []future.Handle{h(1)}, expired)
	require.Equal(t, 1, tm.Len())

	expired = tm.PopExpired(200)
	require.Equal(t, []future.Handle{h(2)}, expired)
	require.Equal(t, 0, tm.Len())
}

func TestMultipleHandlesAtSameDeadline(t *testing.T) {
	tm := New()
	tm.AddSleep(0, 10, h(1))
	tm.AddSleep(0, 10, h(2))

	expired := tm.PopExpired(10)
	require.ElementsMatch(t, []future.Handle{h(1), h(2)}, expired)
}
