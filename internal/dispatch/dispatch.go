// Package dispatch turns a resolved role index and process registry into
// commands and runs them on every target host in parallel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/rolectl/internal/lg"
	"github.com/andrej220/rolectl/pkg/config"
	"github.com/andrej220/rolectl/pkg/executor"
	"github.com/andrej220/rolectl/pkg/process"
	"github.com/andrej220/rolectl/pkg/roles"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const noProcesses = "no processes for host"

var (
	ErrUnknownTask = errors.New("unknown task")
	errHostFailed  = errors.New("host failed")
)

// Publisher receives every host report once its host is done.
type Publisher interface {
	Publish(ctx context.Context, report HostReport) error
}

type Options struct {
	// Parallel limits the number of hosts worked on at once; 0 means no limit.
	Parallel int
	// FailFast cancels the remaining hosts after the first failed host.
	FailFast  bool
	Publisher Publisher
	Logger    lg.Logger
}

type Dispatcher struct {
	index    *roles.Index
	registry *process.Registry
	tasks    map[string]config.Task
	exec     executor.Executor
	opts     Options
}

func New(tables *config.Tables, exec executor.Executor, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = lg.Discard
	}
	return &Dispatcher{
		index:    tables.Index,
		registry: tables.Registry,
		tasks:    tables.Tasks,
		exec:     exec,
		opts:     opts,
	}
}

// Plan resolves the commands for op on host. A host without matching
// processes gets an empty plan.
func (d *Dispatcher) Plan(host string, op process.Operation, names ...string) ([]Step, error) {
	defs := d.registry.Resolve(host, d.index, names...)
	steps := make([]Step, 0, len(defs))
	for _, def := range defs {
		cmd, err := process.CommandFor(def, op)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", host, err)
		}
		steps = append(steps, Step{Process: def.Name, Operation: op, Command: cmd})
	}
	return steps, nil
}

// Run plans op for every target host and then executes the plans. Planning
// errors abort the run before any command is sent.
func (d *Dispatcher) Run(ctx context.Context, op process.Operation, target Target) (*Report, error) {
	hosts := d.selectHosts(target)
	plans := make([][]Step, len(hosts))
	for i, host := range hosts {
		steps, err := d.Plan(host, op, target.Processes...)
		if err != nil {
			return nil, err
		}
		plans[i] = steps
	}
	return d.execute(ctx, string(op), hosts, plans, false)
}

// RunTask runs the named task on every host of its role. Target.Hosts, if
// set, narrows the hosts further. Commands run in order and a host stops at
// its first failing command.
func (d *Dispatcher) RunTask(ctx context.Context, name string, target Target) (*Report, error) {
	task, ok := d.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}

	hosts := d.index.HostsForRole(task.Role)
	if len(target.Hosts) > 0 {
		wanted := make(map[string]struct{}, len(target.Hosts))
		for _, h := range target.Hosts {
			wanted[h] = struct{}{}
		}
		narrowed := hosts[:0]
		for _, h := range hosts {
			if _, ok := wanted[h]; ok {
				narrowed = append(narrowed, h)
			}
		}
		hosts = narrowed
	}

	plans := make([][]Step, len(hosts))
	for i := range hosts {
		steps := make([]Step, len(task.Commands))
		for j, cmd := range task.Commands {
			steps[j] = Step{Task: task.Name, Command: cmd}
		}
		plans[i] = steps
	}
	return d.execute(ctx, "task:"+task.Name, hosts, plans, true)
}

func (d *Dispatcher) execute(ctx context.Context, label string, hosts []string, plans [][]Step, stopOnFailure bool) (*Report, error) {
	report := &Report{
		RunID:     uuid.New(),
		Operation: label,
		Started:   time.Now().UTC(),
		Hosts:     make([]HostReport, len(hosts)),
	}
	logger := d.opts.Logger.With(lg.String("run_id", report.RunID.String()), lg.String("operation", label))
	logger.Info("dispatch started", lg.Int("hosts", len(hosts)))

	var g *errgroup.Group
	gctx := ctx
	if d.opts.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	if d.opts.Parallel > 0 {
		g.SetLimit(d.opts.Parallel)
	}
	gctx = lg.Attach(gctx, logger)

	for i, host := range hosts {
		g.Go(func() error {
			hr := d.runHost(gctx, report.RunID, host, plans[i], stopOnFailure)
			report.Hosts[i] = hr
			if d.opts.Publisher != nil {
				if err := d.opts.Publisher.Publish(ctx, hr); err != nil {
					logger.Warn("publish failed", lg.String("host", host), lg.Err(err))
				}
			}
			if hr.Failed() {
				return fmt.Errorf("%w: %s", errHostFailed, host)
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Finished = time.Now().UTC()

	logger.Info("dispatch finished",
		lg.Int("hosts", len(hosts)),
		lg.Int("failed", len(report.Failed())),
		lg.Int("canceled", len(report.Canceled())),
		lg.Duration("took", report.Finished.Sub(report.Started)))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (d *Dispatcher) runHost(ctx context.Context, runID uuid.UUID, host string, steps []Step, stopOnFailure bool) HostReport {
	hr := HostReport{RunID: runID, Host: host}
	logger := lg.FromContext(ctx).With(lg.String("host", host))

	if len(steps) == 0 {
		hr.Skipped = true
		hr.Reason = noProcesses
		logger.Info(noProcesses)
		return hr
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			hr.Canceled = true
			hr.Reason = err.Error()
			logger.Info("host canceled", lg.String("process", step.Process), lg.Err(err))
			break
		}

		res, err := d.exec.Run(ctx, host, step.Command)
		sr := StepResult{Step: step, Result: res}
		if err != nil {
			sr.Error = err.Error()
		}
		hr.Steps = append(hr.Steps, sr)

		fields := []lg.Field{
			lg.String("process", step.Process),
			lg.String("command", step.Command),
			lg.Int("exit_status", res.ExitStatus),
		}
		switch {
		case err != nil:
			logger.Error("command failed", append(fields, lg.Err(err))...)
		case !res.OK():
			logger.Warn("command exited non-zero", append(fields, lg.Strings("stderr", res.Stderr))...)
		default:
			logger.Debug("command finished", fields...)
		}

		// a broken transport will not recover for the next process either
		if err != nil || (stopOnFailure && sr.Failed()) {
			break
		}
	}
	return hr
}

func (d *Dispatcher) selectHosts(target Target) []string {
	var candidates []string
	switch {
	case len(target.Hosts) > 0:
		candidates = target.Hosts
	case len(target.Roles) > 0:
		for _, role := range target.Roles {
			candidates = append(candidates, d.index.HostsForRole(role)...)
		}
	default:
		return d.index.Hosts()
	}

	seen := make(map[string]struct{}, len(candidates))
	hosts := make([]string, 0, len(candidates))
	for _, h := range candidates {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}
	return hosts
}
