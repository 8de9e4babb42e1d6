package dispatch

import (
	"time"

	"github.com/andrej220/rolectl/pkg/executor"
	"github.com/andrej220/rolectl/pkg/process"
	"github.com/google/uuid"
)

// Target selects the hosts and processes of a run. Hosts wins over Roles;
// with neither, every known host is targeted.
type Target struct {
	Hosts     []string
	Roles     []string
	Processes []string
}

// Step is one command planned for a host.
type Step struct {
	Process   string            `json:"process,omitempty" yaml:"process,omitempty"`
	Task      string            `json:"task,omitempty" yaml:"task,omitempty"`
	Operation process.Operation `json:"operation,omitempty" yaml:"operation,omitempty"`
	Command   string            `json:"command" yaml:"command"`
}

type StepResult struct {
	Step   `yaml:",inline"`
	Result executor.Result `json:"result" yaml:"result"`
	Error  string          `json:"error,omitempty" yaml:"error,omitempty"`
}

func (s StepResult) Failed() bool { return s.Error != "" || !s.Result.OK() }

// HostReport is the outcome of one host. Skipped hosts had nothing to run;
// Canceled hosts were stopped by the run context before finishing, and
// Reason says why in both cases.
type HostReport struct {
	RunID    uuid.UUID    `json:"run_id" yaml:"run_id"`
	Host     string       `json:"host" yaml:"host"`
	Skipped  bool         `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Canceled bool         `json:"canceled,omitempty" yaml:"canceled,omitempty"`
	Reason   string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	Steps    []StepResult `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Failed reports whether a command that ran on the host failed. Steps that
// never started because of cancellation do not count.
func (h HostReport) Failed() bool {
	for _, s := range h.Steps {
		if s.Failed() {
			return true
		}
	}
	return false
}

type Report struct {
	RunID     uuid.UUID    `json:"run_id" yaml:"run_id"`
	Operation string       `json:"operation" yaml:"operation"`
	Started   time.Time    `json:"started" yaml:"started"`
	Finished  time.Time    `json:"finished" yaml:"finished"`
	Hosts     []HostReport `json:"hosts" yaml:"hosts"`
}

// Failed returns the hosts with at least one failed step.
func (r *Report) Failed() []string {
	var out []string
	for _, h := range r.Hosts {
		if h.Failed() {
			out = append(out, h.Host)
		}
	}
	return out
}

// Canceled returns the hosts cut short by cancellation.
func (r *Report) Canceled() []string {
	var out []string
	for _, h := range r.Hosts {
		if h.Canceled {
			out = append(out, h.Host)
		}
	}
	return out
}
