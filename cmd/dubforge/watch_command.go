package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dubforge/internal/progress"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream live progress until the job finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return ctx.watchClient().WatchJob(cmd.Context(), args[0], func(snapshot progress.Snapshot) bool {
				j := snapshot.Job
				line := fmt.Sprintf("%s %s", j.Status, formatPercent(snapshot.Overall))
				if snapshot.ETA > 0 {
					line += fmt.Sprintf(" (eta %s)", snapshot.ETA)
				}
				for _, lang := range sortedTrackKeys(j.Tracks) {
					track := j.Tracks[lang]
					line += fmt.Sprintf("  %s=%s", lang, track.Status)
				}
				fmt.Fprintln(out, line)
				return !j.Status.IsTerminal()
			})
		},
	}
}
