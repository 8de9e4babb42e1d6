package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/andrej220/rolectl/internal/dispatch"
	"github.com/andrej220/rolectl/internal/lg"
	"github.com/andrej220/rolectl/pkg/config"
	"github.com/andrej220/rolectl/pkg/process"
	"github.com/spf13/cobra"
)

func newRolesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List every role with its hosts, then all hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			idx := a.tables.Index
			fmt.Fprintln(out, "Roles:")
			fmt.Fprintln(out)
			for _, role := range idx.Roles() {
				fmt.Fprintf(out, "   %s:\n", role)
				for _, host := range idx.HostsForRole(role) {
					fmt.Fprintf(out, "     %s\n", host)
				}
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "All hosts:")
			fmt.Fprintln(out)
			for _, host := range idx.Hosts() {
				fmt.Fprintf(out, "   %s\n", host)
			}
			return nil
		},
	}
}

func newHostsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts [role...]",
		Short: "Print the hosts holding the given roles, or every host",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, h := range a.tables.Index.Hosts() {
					fmt.Fprintln(out, h)
				}
				return nil
			}
			for _, role := range args {
				for _, h := range a.tables.Index.HostsForRole(role) {
					fmt.Fprintln(out, h)
				}
			}
			return nil
		},
	}
}

func newProcessesCommand(a *app) *cobra.Command {
	var names []string
	cmd := &cobra.Command{
		Use:   "processes <host>",
		Short: "Show the processes and commands that apply to a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			host := args[0]
			fmt.Fprintf(out, "%s roles: %s\n", host, strings.Join(a.tables.Index.RolesForHost(host), ", "))
			defs := a.tables.Registry.Resolve(host, a.tables.Index, names...)
			if len(defs) == 0 {
				fmt.Fprintln(out, "no processes for host")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROCESS\tOPERATION\tCOMMAND")
			for _, def := range defs {
				for _, op := range process.Operations {
					if c, err := process.CommandFor(def, op); err == nil {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", def.Name, op, c)
					}
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVarP(&names, "process", "p", nil, "only these process names")
	return cmd
}

func operationCommands(a *app) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(process.Operations))
	for _, op := range process.Operations {
		var target dispatch.Target
		cmd := &cobra.Command{
			Use:   string(op),
			Short: fmt.Sprintf("Run the %s command of every matching process", op),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, cleanup := a.dispatcher()
				defer cleanup()
				report, err := d.Run(cmd.Context(), op, target)
				return a.finish(cmd.OutOrStdout(), report, err)
			},
		}
		addTargetFlags(cmd, &target, true)
		cmds = append(cmds, cmd)
	}
	return cmds
}

func newTaskCommand(a *app) *cobra.Command {
	var target dispatch.Target
	cmd := &cobra.Command{
		Use:   "task <name>",
		Short: "Run a configured task on every host of its role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, cleanup := a.dispatcher()
			defer cleanup()
			report, err := d.RunTask(cmd.Context(), args[0], target)
			return a.finish(cmd.OutOrStdout(), report, err)
		},
	}
	addTargetFlags(cmd, &target, false)
	return cmd
}

func newTasksCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List configured tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK\tROLE\tDESCRIPTION")
			for _, name := range a.tables.TaskNames() {
				t := a.tables.Tasks[name]
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Role, t.Description)
			}
			return tw.Flush()
		},
	}
}

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow configuration changes and report the new role index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			err := config.Watch(ctx, a.store, func(tables *config.Tables, err error) {
				if err != nil {
					a.logger.Error("configuration rejected, keeping previous", lg.Err(err))
					return
				}
				a.logger.Info("configuration reloaded",
					lg.Int("hosts", len(tables.Index.Hosts())),
					lg.Strings("roles", tables.Index.Roles()))
				for _, role := range tables.Index.Roles() {
					fmt.Fprintf(out, "%s: %s\n", role, strings.Join(tables.Index.HostsForRole(role), " "))
				}
			})
			if err != nil {
				return err
			}
			a.logger.Info("watching configuration", lg.String("store", a.opts.storeType))
			<-ctx.Done()
			return nil
		},
	}
}

func addTargetFlags(cmd *cobra.Command, target *dispatch.Target, withProcesses bool) {
	cmd.Flags().StringSliceVarP(&target.Hosts, "host", "H", nil, "target these hosts")
	if withProcesses {
		cmd.Flags().StringSliceVarP(&target.Roles, "role", "r", nil, "target hosts holding these roles")
		cmd.Flags().StringSliceVarP(&target.Processes, "process", "p", nil, "only these process names")
	}
}

func printReport(out io.Writer, report *dispatch.Report) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s (%s)\n", report.RunID, report.Operation)
	for _, h := range report.Hosts {
		if h.Skipped {
			fmt.Fprintf(tw, "%s\t-\t%s\n", h.Host, h.Reason)
			continue
		}
		if h.Canceled && len(h.Steps) == 0 {
			fmt.Fprintf(tw, "%s\t-\tcanceled: %s\n", h.Host, h.Reason)
			continue
		}
		for _, s := range h.Steps {
			name := s.Process
			if name == "" {
				name = s.Task
			}
			status := "ok"
			switch {
			case s.Error != "":
				status = "error: " + s.Error
			case !s.Result.OK():
				status = fmt.Sprintf("exit %d", s.Result.ExitStatus)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", h.Host, name, status)
			for _, line := range s.Result.Stdout {
				fmt.Fprintf(tw, "\t\t  %s\n", line)
			}
		}
		if h.Canceled && len(h.Steps) > 0 {
			fmt.Fprintf(tw, "%s\t-\tcanceled: %s\n", h.Host, h.Reason)
		}
	}
	_ = tw.Flush()
}
