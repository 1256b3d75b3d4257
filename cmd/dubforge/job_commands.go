package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dubforge/internal/job"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dubbing jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := ctx.client().ListJobs(cmd.Context(), statuses)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					shortID(j.ID),
					string(j.Status),
					formatPercent(j.OverallProgress),
					strings.Join(j.TargetLanguages, ","),
					j.SourceVideo,
					j.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Status", "Progress", "Languages", "Source", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit jobs as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := ctx.client().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, j)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderJobDetail(j))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the job as JSON")
	return cmd
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "progress <job-id>",
		Short: "Show job progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := ctx.client().GetProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s: %s %s\n", shortID(view.JobID), view.Status, formatPercent(view.OverallProgress))
			for _, lang := range sortedTrackKeys(view.Tracks) {
				track := view.Tracks[lang]
				fmt.Fprintf(out, "  %-8s %-16s %s (%s)\n",
					lang, track.Status, formatPercent(track.StageProgress), track.Mode)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit progress as JSON")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().CancelJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s\n", args[0])
			return nil
		},
	}
}

func newReviewCommand(ctx *commandContext) *cobra.Command {
	var approve bool
	var reject bool

	cmd := &cobra.Command{
		Use:   "review <job-id> <language>",
		Short: "Resolve a pending human review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			if err := ctx.client().Review(cmd.Context(), args[0], args[1], approve); err != nil {
				return err
			}
			verdict := "approved"
			if reject {
				verdict = "rejected"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Track %s of job %s %s\n", args[1], args[0], verdict)
			return nil
		},
	}

	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the track")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the track")
	return cmd
}

func renderJobDetail(j *job.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s\n", j.ID)
	fmt.Fprintf(&b, "  Status:    %s %s\n", j.Status, formatPercent(j.OverallProgress))
	fmt.Fprintf(&b, "  Source:    %s (%s)\n", j.SourceVideo, displayLanguage(j))
	fmt.Fprintf(&b, "  Targets:   %s\n", strings.Join(j.TargetLanguages, ", "))
	fmt.Fprintf(&b, "  Consent:   %s\n", yesNo(j.ConsentVerified))
	fmt.Fprintf(&b, "  Created:   %s\n", j.CreatedAt.Local().Format(time.RFC1123))
	if j.CompletedAt != nil {
		fmt.Fprintf(&b, "  Completed: %s\n", j.CompletedAt.Local().Format(time.RFC1123))
	}
	if j.ErrorMessage != "" {
		fmt.Fprintf(&b, "  Error:     %s\n", j.ErrorMessage)
	}

	for _, lang := range sortedTrackKeys(j.Tracks) {
		track := j.Tracks[lang]
		fmt.Fprintf(&b, "  [%s] %s (%s mode)\n", lang, track.Status, track.Mode)
		if track.Quality != nil {
			q := track.Quality
			fmt.Fprintf(&b, "      quality: score %.2f lse_c %.2f fid %.1f au %.2f bleu %.1f\n",
				q.OverallScore, q.LipSync, q.FID, q.AUCorrelation, q.BLEU)
		}
		if track.VideoRef != "" {
			fmt.Fprintf(&b, "      output: %s\n", track.VideoRef)
		}
		if track.ErrorMessage != "" {
			fmt.Fprintf(&b, "      error: %s\n", track.ErrorMessage)
		}
	}
	return b.String()
}

func displayLanguage(j *job.Job) string {
	if j.SourceLanguage != "" {
		return j.SourceLanguage
	}
	if j.DetectedLanguage != "" {
		return j.DetectedLanguage + ", detected"
	}
	return "unknown"
}

func sortedTrackKeys[T any](tracks map[string]T) []string {
	keys := make([]string, 0, len(tracks))
	for key := range tracks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatPercent(fraction float64) string {
	return fmt.Sprintf("%.0f%%", fraction*100)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
