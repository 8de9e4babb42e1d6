package executor

import (
	"context"
	"time"
)

// Executor runs one shell command on a remote host.
//
// A command that ran but exited non-zero is not an error: its exit status
// is in the Result. err is reserved for transport failures.
type Executor interface {
	Run(ctx context.Context, host, command string) (Result, error)
}

type Result struct {
	Host       string        `json:"host" yaml:"host"`
	Command    string        `json:"command" yaml:"command"`
	ExitStatus int           `json:"exit_status" yaml:"exit_status"`
	Stdout     []string      `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr     []string      `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

func (r Result) OK() bool { return r.ExitStatus == 0 }
