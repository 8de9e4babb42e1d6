package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrej220/rolectl/internal/dispatch"
	"github.com/andrej220/rolectl/internal/lg"
	"github.com/andrej220/rolectl/pkg/config"
	"github.com/andrej220/rolectl/pkg/executor"
	"github.com/andrej220/rolectl/pkg/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
hosts:
  a.com: {code: true, app-server: true}
  b.com: {database: true}
processes:
  code:
    django:
      status: ps django
      restart: restart django
tasks:
  - name: update
    role: code
    commands: ["git pull"]
`

func run(t *testing.T, fake *executor.Fake, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rolectl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0600))

	a := &app{
		logger: lg.Discard,
		newExecutor: func(config.SSHConfig, lg.Logger) executor.Executor {
			return fake
		},
	}
	cmd := newRootCommandWith(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", path}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRolesCommand(t *testing.T) {
	out, err := run(t, executor.NewFake(nil), "roles")
	require.NoError(t, err)
	assert.Contains(t, out, "   code:\n     a.com\n")
	assert.Contains(t, out, "All hosts:")
	assert.Contains(t, out, "   b.com\n")
}

func TestHostsCommand(t *testing.T) {
	out, err := run(t, executor.NewFake(nil), "hosts", "database")
	require.NoError(t, err)
	assert.Equal(t, "b.com\n", out)
}

func TestProcessesCommand(t *testing.T) {
	out, err := run(t, executor.NewFake(nil), "processes", "a.com")
	require.NoError(t, err)
	assert.Contains(t, out, "a.com roles: app-server, code")
	assert.Contains(t, out, "restart django")

	out, err = run(t, executor.NewFake(nil), "processes", "b.com")
	require.NoError(t, err)
	assert.Contains(t, out, "no processes for host")
}

func TestReloadCommandWritesReport(t *testing.T) {
	fake := executor.NewFake(map[executor.FakeInput]executor.FakeOutput{
		{Host: "a.com", Command: "restart django"}: {Stdout: "django: started"},
	})
	reportPath := filepath.Join(t.TempDir(), "report.json")

	out, err := run(t, fake, "--report", reportPath, "reload")
	require.NoError(t, err)
	assert.Contains(t, out, "django: started")
	assert.Contains(t, out, "no processes for host")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report dispatch.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "reload", report.Operation)
	assert.Len(t, report.Hosts, 2)
}

func TestStopCommandUnknownOperation(t *testing.T) {
	fake := executor.NewFake(nil)
	_, err := run(t, fake, "stop")
	require.Error(t, err)
	assert.True(t, errors.Is(err, process.ErrUnknownOperation))
	assert.Empty(t, fake.Calls())
}

func TestStatusCommandFailure(t *testing.T) {
	fake := executor.NewFake(map[executor.FakeInput]executor.FakeOutput{
		{Host: "a.com", Command: "ps django"}: {ExitStatus: 3},
	})
	out, err := run(t, fake, "status", "--host", "a.com")
	assert.ErrorIs(t, err, errHostsFailed)
	assert.Contains(t, out, "exit 3")
}

func TestTaskCommand(t *testing.T) {
	fake := executor.NewFake(map[executor.FakeInput]executor.FakeOutput{
		{Host: "a.com", Command: "git pull"}: {},
	})
	_, err := run(t, fake, "task", "update")
	require.NoError(t, err)
	assert.Equal(t, []string{"git pull"}, fake.CallsFor("a.com"))

	_, err = run(t, fake, "task", "collectstatic")
	assert.ErrorIs(t, err, dispatch.ErrUnknownTask)
}

func TestBrokenConfig(t *testing.T) {
	_, err := run(t, executor.NewFake(nil), "--store", "etcd", "roles")
	assert.ErrorIs(t, err, config.ErrInvalidStoreType)
}
