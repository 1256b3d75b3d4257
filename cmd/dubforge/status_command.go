package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"dubforge/internal/job"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("DubForge Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Daemon", boolKind(view.Running), fmt.Sprintf("pid %d", view.PID), colorize))
			fmt.Fprintln(out, renderStatusLine("Scheduler", boolKind(view.Scheduler.Running),
				fmt.Sprintf("%d/%d workers busy", view.Scheduler.Active, view.Scheduler.Workers), colorize))
			fmt.Fprintln(out, renderStatusLine("Job database", statusInfo, view.JobDBPath, colorize))

			if view.Scheduler.Total > 0 {
				statuses := make([]string, 0, len(view.Scheduler.Jobs))
				for status := range view.Scheduler.Jobs {
					statuses = append(statuses, string(status))
				}
				sort.Strings(statuses)
				for _, status := range statuses {
					count := view.Scheduler.Jobs[job.Status(status)]
					fmt.Fprintln(out, renderStatusLine(status, statusInfo, fmt.Sprintf("%d", count), colorize))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit status as JSON")
	return cmd
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}
