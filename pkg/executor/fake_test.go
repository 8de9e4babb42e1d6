package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesReader(s string) io.Reader { return strings.NewReader(s) }

func TestFake(t *testing.T) {
	f := NewFake(map[FakeInput]FakeOutput{
		{Host: "a.com", Command: "ps django"}: {Stdout: "django RUNNING\n"},
		{Host: "a.com", Command: "restart"}:   {Stderr: "no such process", ExitStatus: 3},
		{Host: "b.com", Command: "ps django"}: {Err: errors.New("broken pipe")},
	})
	ctx := context.Background()

	res, err := f.Run(ctx, "a.com", "ps django")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"django RUNNING"}, res.Stdout)

	res, err = f.Run(ctx, "a.com", "restart")
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, 3, res.ExitStatus)

	_, err = f.Run(ctx, "b.com", "ps django")
	assert.Error(t, err)

	_, err = f.Run(ctx, "c.com", "uptime")
	assert.Error(t, err)

	assert.Equal(t, []string{"ps django", "restart"}, f.CallsFor("a.com"))
	assert.Len(t, f.Calls(), 4)
}
