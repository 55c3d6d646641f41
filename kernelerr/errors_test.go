package kernelerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsAndCode(t *testing.T) {
	err := New("task.Borrow", NotFound, "handle %s unknown", "3@1")
	require.True(t, IsCode(err, NotFound))
	require.False(t, IsCode(err, OutOfMemory))

	var target *Error
	require.True(t, errors.As(err, &target))
	require.Equal(t, NotFound, target.Code)
}

func TestWrapPreservesInner(t *testing.T) {
	cause := errors.New("bitmap exhausted")
	err := Wrap("memory.Allocate", OutOfMemory, cause)
	require.ErrorIs(t, err, cause)
	require.True(t, IsCode(err, OutOfMemory))
}

func TestHaltPanicsWithViolatedInvariant(t *testing.T) {
	require.PanicsWithValue(t,
		"kernel contract violation: idle task already set",
		func() { Halt("idle task already set") },
	)
}

func TestCodeStringsCoverTaxonomy(t *testing.T) {
	require.Equal(t, "out_of_memory", OutOfMemory.String())
	require.Equal(t, "not_found", NotFound.String())
	require.Equal(t, "endpoint_busy", EndpointBusy.String())
	require.Equal(t, "endpoint_not_found", EndpointNotFound.String())
	require.Equal(t, "endpoint_already_exists", EndpointAlreadyExists.String())
	require.Equal(t, "contract_violation", ContractViolation.String())
}
