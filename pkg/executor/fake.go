package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type FakeInput struct {
	Host    string
	Command string
}

type FakeOutput struct {
	Stdout     string
	Stderr     string
	ExitStatus int
	Err        error
}

// Fake answers from a fixed table of expectations and records every call.
// Unexpected input yields a transport error.
type Fake struct {
	mu           sync.Mutex
	expectations map[FakeInput]FakeOutput
	calls        []FakeInput
}

func NewFake(expectations map[FakeInput]FakeOutput) *Fake {
	return &Fake{expectations: expectations}
}

func (f *Fake) Run(ctx context.Context, host, command string) (Result, error) {
	in := FakeInput{Host: host, Command: command}
	f.mu.Lock()
	f.calls = append(f.calls, in)
	out, ok := f.expectations[in]
	f.mu.Unlock()

	res := Result{Host: host, Command: command}
	if err := ctx.Err(); err != nil {
		res.ExitStatus = -1
		return res, err
	}
	if !ok {
		res.ExitStatus = -1
		return res, fmt.Errorf("unexpected input: %+v", in)
	}
	if out.Err != nil {
		res.ExitStatus = -1
		return res, out.Err
	}
	res.ExitStatus = out.ExitStatus
	res.Stdout = splitLines(out.Stdout)
	res.Stderr = splitLines(out.Stderr)
	return res, nil
}

// Calls returns the recorded calls in arrival order.
func (f *Fake) Calls() []FakeInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeInput, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns the commands run on host, in order.
func (f *Fake) CallsFor(host string) []string {
	var out []string
	for _, c := range f.Calls() {
		if c.Host == host {
			out = append(out, c.Command)
		}
	}
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}
