package process

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandFor(t *testing.T) {
	full := Definition{
		Name:    "django",
		Status:  "ps django",
		Reload:  "kill -HUP django",
		Restart: "restart django",
		Stop:    "stop django",
		Start:   "start django",
	}
	for op, want := range map[Operation]string{
		OpStatus:  "ps django",
		OpReload:  "kill -HUP django",
		OpRestart: "restart django",
		OpStop:    "stop django",
		OpStart:   "start django",
	} {
		got, err := CommandFor(full, op)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestCommandForReloadFallsBackToRestart(t *testing.T) {
	def := Definition{Name: "django", Status: "ps django", Restart: "restart django"}
	cmd, err := CommandFor(def, OpReload)
	require.NoError(t, err)
	assert.Equal(t, "restart django", cmd)
}

func TestCommandForMissingSlot(t *testing.T) {
	def := Definition{Name: "nginx", Status: "ps nginx", Reload: "nginx -s reload"}

	tests := []Operation{OpRestart, OpStop, OpStart, Operation("migrate")}
	for _, op := range tests {
		t.Run(string(op), func(t *testing.T) {
			_, err := CommandFor(def, op)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnknownOperation))
			var opErr *UnknownOperationError
			require.True(t, errors.As(err, &opErr))
			assert.Equal(t, "nginx", opErr.Process)
			assert.Equal(t, op, opErr.Operation)
		})
	}
	assert.False(t, def.Supports(OpStop))
	assert.True(t, def.Supports(OpReload))
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation(" Restart ")
	require.NoError(t, err)
	assert.Equal(t, OpRestart, op)

	_, err = ParseOperation("collectstatic")
	assert.True(t, errors.Is(err, ErrUnknownOperation))
}
