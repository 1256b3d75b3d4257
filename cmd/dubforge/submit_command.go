package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var languages []string
	var sourceLanguage string
	var userID string
	var qualityMode string
	var voiceCloning bool
	var emotion bool
	var review bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "submit <video>",
		Short: "Submit a video for dubbing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(languages) == 0 {
				return errors.New("at least one --lang is required")
			}

			created, err := ctx.client().SubmitJob(cmd.Context(), submitRequest{
				SourceVideo:               strings.TrimSpace(args[0]),
				UserID:                    userID,
				SourceLanguage:            sourceLanguage,
				TargetLanguages:           languages,
				QualityMode:               qualityMode,
				EnableVoiceCloning:        voiceCloning,
				EnableEmotionPreservation: emotion,
				RequireHumanReview:        review,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s submitted: %s -> %s\n",
				created.ID, created.SourceVideo, strings.Join(created.TargetLanguages, ", "))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&languages, "lang", "l", nil, "Target language code (repeatable)")
	cmd.Flags().StringVar(&sourceLanguage, "source-lang", "", "Source language code (detected when omitted)")
	cmd.Flags().StringVar(&userID, "user", "", "Submitting user identifier for the consent check")
	cmd.Flags().StringVar(&qualityMode, "mode", "", "Animation mode: structural or end_to_end")
	cmd.Flags().BoolVar(&voiceCloning, "voice-cloning", true, "Clone the source speaker's voice")
	cmd.Flags().BoolVar(&emotion, "preserve-emotion", true, "Carry source emotion into synthesis")
	cmd.Flags().BoolVar(&review, "require-review", false, "Hold below-threshold tracks for human review")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the created job as JSON")

	return cmd
}
