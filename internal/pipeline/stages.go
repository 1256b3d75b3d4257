package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"dubforge/internal/ethics"
	"dubforge/internal/job"
	"dubforge/internal/logging"
	"dubforge/internal/retrypolicy"
	"dubforge/internal/services"
	"dubforge/internal/stageclient"
)

// runPreFanout drives the consent check and transcription, the two stages
// that run once per job before language tracks exist.
func (r *Runner) runPreFanout(ctx context.Context) error {
	if r.deps.Safeguards.RequireConsent() {
		r.setJobStatus(ctx, job.StatusEthicsCheck)
		_, err := r.runStage(ctx, nil, job.StageEthics, func() stageclient.Request {
			return stageclient.Request{
				JobID: r.job.ID,
				Ethics: &stageclient.EthicsRequest{
					VideoPath:       r.job.SourceVideo,
					UserID:          r.job.UserID,
					TargetLanguages: r.job.TargetLanguages,
				},
			}
		})
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.job.ConsentVerified = true
		ethics.RecordStep(r.job, "consent", "", "consent verified")
		r.mu.Unlock()
	} else {
		r.mu.Lock()
		r.job.ConsentVerified = true
		ethics.RecordStep(r.job, "consent", "", "consent requirement disabled by configuration")
		r.mu.Unlock()
	}
	r.publish(ctx)

	r.setJobStatus(ctx, job.StatusTranscribing)
	result, err := r.runStage(ctx, nil, job.StageTranscribe, func() stageclient.Request {
		return stageclient.Request{
			JobID: r.job.ID,
			Transcribe: &stageclient.TranscribeRequest{
				AudioPath:      r.job.SourceVideo,
				Language:       r.job.SourceLanguage,
				ReturnSegments: true,
			},
		}
	})
	if err != nil {
		return err
	}
	return r.applyTranscription(ctx, result.Transcribe)
}

// applyTranscription stores the transcript and resolves the effective source
// language from detection. A detected target language is dropped from the
// fan-out set rather than dubbed onto itself.
func (r *Runner) applyTranscription(ctx context.Context, asr *stageclient.TranscribeResult) error {
	r.mu.Lock()
	r.transcript = asr.Text
	r.job.TranscriptRef = asr.TranscriptRef
	r.job.DetectedLanguage = asr.Language
	if r.job.SourceLanguage == "" {
		r.job.SourceLanguage = asr.Language
	}
	source := strings.ToLower(strings.TrimSpace(r.job.SourceLanguage))
	ethics.RecordStep(r.job, "transcribe", "", "speech recognized in "+r.job.DetectedLanguage)
	remaining := 0
	for _, lang := range r.job.TargetLanguages {
		if strings.ToLower(lang) == source {
			ethics.RecordStep(r.job, "drop_target", lang, "target matches source language")
			continue
		}
		remaining++
	}
	r.mu.Unlock()
	r.publish(ctx)

	if remaining == 0 {
		return services.Wrap(services.ErrValidation, string(job.StageTranscribe), "resolve languages",
			"no target languages remain after source detection", nil)
	}
	return nil
}

// runStage performs one stage to completion under the retry policy: it loops
// attempts, records a StageResult per attempt, and sleeps the policy's
// backoff between them. Escalation never originates here; quality-gate
// verdicts are handled by the track loop.
func (r *Runner) runStage(ctx context.Context, track *job.LanguageTrack, stage job.Stage, build func() stageclient.Request) (*stageclient.Result, error) {
	for {
		r.mu.Lock()
		counts := r.job.RetryCount
		language := ""
		if track != nil {
			counts = track.RetryCount
			language = track.Language
		}
		attempt := counts[stage] + 1
		req := build()
		r.mu.Unlock()

		stageCtx := services.WithStage(ctx, string(stage))
		stageCtx = services.WithRequestID(stageCtx, uuid.NewString())
		if language != "" {
			stageCtx = services.WithLanguage(stageCtx, language)
		}

		if err := r.acquireSlot(stageCtx); err != nil {
			return nil, err
		}
		startedAt := time.Now().UTC()
		r.logger.Info("stage attempt started",
			logging.String(logging.FieldJobID, r.job.ID),
			logging.String(logging.FieldStage, string(stage)),
			logging.String(logging.FieldLanguage, language),
			logging.Int(logging.FieldAttempt, attempt),
			logging.String(logging.FieldEventType, "stage_start"))

		result, err := r.deps.Invoker.Invoke(stageCtx, req, func(fraction float64) {
			r.setStageProgress(ctx, track, fraction)
		})
		r.releaseSlot()
		r.recordAttempt(ctx, track, stage, attempt, startedAt, err)

		if err == nil {
			r.logger.Info("stage attempt succeeded",
				logging.String(logging.FieldJobID, r.job.ID),
				logging.String(logging.FieldStage, string(stage)),
				logging.String(logging.FieldLanguage, language),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Duration("stage_duration", time.Since(startedAt)),
				logging.String(logging.FieldEventType, "stage_complete"))
			return result, nil
		}
		if ctx.Err() != nil || services.ClassifyKind(err) == services.KindCancelled {
			return nil, err
		}

		r.mu.Lock()
		retries := counts[stage]
		mode := job.QualityMode("")
		if track != nil {
			mode = track.Mode
		}
		requireReview := r.job.Settings.RequireHumanReview
		r.mu.Unlock()

		decision := r.policy.Decide(retrypolicy.Input{
			Stage:              stage,
			Err:                err,
			Retries:            retries,
			Mode:               mode,
			RequireHumanReview: requireReview,
		})

		switch decision.Action {
		case retrypolicy.ActionRetry:
			r.mu.Lock()
			counts[stage]++
			r.mu.Unlock()
			r.logger.Warn("stage attempt failed, retrying",
				logging.String(logging.FieldJobID, r.job.ID),
				logging.String(logging.FieldStage, string(stage)),
				logging.String(logging.FieldLanguage, language),
				logging.Int(logging.FieldAttempt, attempt),
				logging.String(logging.FieldErrorKind, string(services.ClassifyKind(err))),
				logging.Duration("backoff", decision.Delay),
				logging.Error(err))
			if sleepErr := r.sleep(ctx, decision.Delay); sleepErr != nil {
				return nil, sleepErr
			}
		case retrypolicy.ActionFallback:
			r.mu.Lock()
			counts[stage]++
			track.Mode = decision.Mode
			ethics.RecordStep(r.job, "fallback", language, decision.Reason)
			r.mu.Unlock()
			r.logger.Warn("structural animation exhausted, falling back to end-to-end",
				logging.String(logging.FieldJobID, r.job.ID),
				logging.String(logging.FieldLanguage, language),
				logging.Error(err))
			if sleepErr := r.sleep(ctx, decision.Delay); sleepErr != nil {
				return nil, sleepErr
			}
		default:
			r.logger.Error("stage failed terminally",
				logging.String(logging.FieldJobID, r.job.ID),
				logging.String(logging.FieldStage, string(stage)),
				logging.String(logging.FieldLanguage, language),
				logging.Int(logging.FieldAttempt, attempt),
				logging.String(logging.FieldErrorKind, string(services.ClassifyKind(err))),
				logging.Error(err))
			return nil, err
		}
	}
}

// recordAttempt appends the immutable StageResult for one attempt and pushes
// a fresh snapshot.
func (r *Runner) recordAttempt(ctx context.Context, track *job.LanguageTrack, stage job.Stage, attempt int, startedAt time.Time, err error) {
	outcome := job.OutcomeSuccess
	details := services.ErrorDetails{}
	if err != nil {
		details = services.Details(err)
		outcome = job.OutcomeRetryable
		if services.IsFatal(err) {
			outcome = job.OutcomeFatal
		}
	}

	language := ""
	if track != nil {
		language = track.Language
	}
	result := job.StageResult{
		Stage:       stage,
		Attempt:     attempt,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
		Outcome:     outcome,
		ErrorKind:   string(details.Kind),
		ErrorDetail: details.Message,
	}
	if err == nil {
		result.Progress = 1
	}

	r.mu.Lock()
	r.job.RecordResult(language, result)
	r.mu.Unlock()
	r.publish(ctx)
}

func (r *Runner) setJobStatus(ctx context.Context, status job.Status) {
	r.mu.Lock()
	r.job.Status = status
	r.job.StageProgress = 0
	r.mu.Unlock()
	r.publish(ctx)
}

func (r *Runner) setStageProgress(ctx context.Context, track *job.LanguageTrack, fraction float64) {
	r.mu.Lock()
	if track != nil {
		track.StageProgress = fraction
	} else {
		r.job.StageProgress = fraction
	}
	r.mu.Unlock()
	r.publish(ctx)
}
