package pipeline

import (
	"context"
	"time"

	"dubforge/internal/ethics"
	"dubforge/internal/job"
	"dubforge/internal/logging"
	"dubforge/internal/quality"
	"dubforge/internal/retrypolicy"
	"dubforge/internal/services"
	"dubforge/internal/stageclient"
)

// runTrack drives one language track from Translating to a terminal status.
// Stages run strictly in order; a failed quality gate rewinds to Animating.
func (r *Runner) runTrack(ctx context.Context, track *job.LanguageTrack) {
	stages := job.TrackStages()

	var translatedText string
	for i := 0; i < len(stages); {
		stage := stages[i]
		r.setTrackStatus(ctx, track, job.StatusForStage(stage))

		result, err := r.runStage(ctx, track, stage, r.trackRequestBuilder(track, stage, &translatedText))
		if err != nil {
			if ctx.Err() != nil || services.ClassifyKind(err) == services.KindCancelled {
				r.setTrackStatus(ctx, track, job.TrackCancelled)
				return
			}
			r.failTrack(ctx, track, err)
			return
		}

		r.mu.Lock()
		switch stage {
		case job.StageTranslate:
			translatedText = result.Translate.TranslatedText
			track.TranslationRef = result.Translate.TranslationRef
		case job.StageSynthesize:
			track.AudioRef = result.Synthesize.AudioPath
		case job.StageAnimate:
			track.VideoRef = result.Animate.OutputVideoPath
		}
		track.StageProgress = 0
		r.mu.Unlock()
		r.publish(ctx)

		if stage == job.StageQualityCheck {
			rewind, done := r.applyQualityVerdict(ctx, track, result.QualityCheck)
			if done {
				return
			}
			if rewind {
				i = trackStageIndex(job.StageAnimate)
				continue
			}
		}
		i++
	}

	r.passTrack(ctx, track)
}

// trackRequestBuilder returns the request constructor for one stage of one
// track. Builders read live track state so retries pick up mode downgrades.
func (r *Runner) trackRequestBuilder(track *job.LanguageTrack, stage job.Stage, translatedText *string) func() stageclient.Request {
	return func() stageclient.Request {
		req := stageclient.Request{JobID: r.job.ID, Language: track.Language}
		switch stage {
		case job.StageTranslate:
			req.Translate = &stageclient.TranslateRequest{
				Text:           r.transcript,
				SourceLanguage: r.job.SourceLanguage,
				TargetLanguage: track.Language,
			}
		case job.StageSynthesize:
			synth := &stageclient.SynthesizeRequest{
				Text:     *translatedText,
				Language: track.Language,
			}
			if r.job.Settings.EnableVoiceCloning {
				synth.SpeakerWav = r.job.SourceVideo
			}
			if r.job.Settings.EnableEmotionPreservation {
				synth.Emotion = "preserve"
			}
			req.Synthesize = synth
		case job.StageAnimate:
			req.Animate = &stageclient.AnimateRequest{
				VideoPath:          r.job.SourceVideo,
				AudioPath:          track.AudioRef,
				Mode:               track.Mode,
				PreservePose:       true,
				PreserveExpression: r.job.Settings.EnableEmotionPreservation,
			}
		case job.StageQualityCheck:
			req.QualityCheck = &stageclient.QualityCheckRequest{
				VideoPath:          track.VideoRef,
				ReferenceVideoPath: r.job.SourceVideo,
				AudioPath:          track.AudioRef,
				TranslatedText:     *translatedText,
				ReferenceText:      r.transcript,
				TargetLanguage:     track.Language,
			}
		}
		return req
	}
}

// applyQualityVerdict evaluates the gate and routes a rejection through the
// retry policy: re-animate while budget remains, fall back to end-to-end once
// structural is exhausted, then escalate to review or fail. Returns rewind to
// re-run Animating and done when the track reached a terminal state.
func (r *Runner) applyQualityVerdict(ctx context.Context, track *job.LanguageTrack, raw *stageclient.QualityCheckResult) (rewind, done bool) {
	metric := raw.Metric()
	verdict := quality.Evaluate(r.gate, metric)
	metric.OverallScore = verdict.OverallScore
	metric.Passed = verdict.Passed

	r.mu.Lock()
	track.Quality = &metric
	requireReview := r.job.Settings.RequireHumanReview
	retries := track.RetryCount[job.StageAnimate]
	mode := track.Mode
	r.mu.Unlock()
	r.publish(ctx)

	if verdict.Passed {
		return false, false
	}

	r.logger.Warn("quality gate rejected track output",
		logging.String(logging.FieldJobID, r.job.ID),
		logging.String(logging.FieldLanguage, track.Language),
		logging.Float64("overall_score", verdict.OverallScore),
		logging.String("reason", verdict.Reason()))

	decision := r.policy.Decide(retrypolicy.Input{
		Stage:              job.StageAnimate,
		Retries:            retries,
		Mode:               mode,
		QualityGate:        true,
		RequireHumanReview: requireReview,
	})

	switch decision.Action {
	case retrypolicy.ActionRetry:
		r.mu.Lock()
		track.RetryCount[job.StageAnimate]++
		r.mu.Unlock()
		if err := r.sleep(ctx, decision.Delay); err != nil {
			r.setTrackStatus(ctx, track, job.TrackCancelled)
			return false, true
		}
		return true, false
	case retrypolicy.ActionFallback:
		r.mu.Lock()
		track.RetryCount[job.StageAnimate]++
		track.Mode = decision.Mode
		ethics.RecordStep(r.job, "fallback", track.Language, decision.Reason)
		r.mu.Unlock()
		r.publish(ctx)
		if err := r.sleep(ctx, decision.Delay); err != nil {
			r.setTrackStatus(ctx, track, job.TrackCancelled)
			return false, true
		}
		return true, false
	case retrypolicy.ActionEscalate:
		r.awaitReview(ctx, track, verdict.OverallScore)
		return false, true
	default:
		r.failTrack(ctx, track, qualityFailureError(verdict.Reason()))
		return false, true
	}
}

// awaitReview parks the track in NeedsReview until a human decision arrives
// or the job is cancelled. NeedsReview is deliberately non-terminal: the join
// barrier keeps the job open while the decision is pending.
func (r *Runner) awaitReview(ctx context.Context, track *job.LanguageTrack, score float64) {
	decision := make(chan bool, 1)
	r.reviewMu.Lock()
	r.reviews[track.Language] = decision
	r.reviewMu.Unlock()
	defer func() {
		r.reviewMu.Lock()
		delete(r.reviews, track.Language)
		r.reviewMu.Unlock()
	}()

	r.setTrackStatus(ctx, track, job.TrackNeedsReview)
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	if err := r.deps.Notifier.NotifyReviewNeeded(notifyCtx, r.job.ID, track.Language, score); err != nil {
		r.logger.Warn("review notification failed", logging.Error(err))
	}
	cancel()

	select {
	case approved := <-decision:
		if approved {
			r.mu.Lock()
			ethics.RecordStep(r.job, "review_approved", track.Language, "")
			r.mu.Unlock()
			r.setTrackStatus(ctx, track, job.TrackReviewApproved)
			r.watermark(ctx, track)
		} else {
			r.mu.Lock()
			track.ErrorMessage = "rejected in human review"
			ethics.RecordStep(r.job, "review_rejected", track.Language, "")
			r.mu.Unlock()
			r.setTrackStatus(ctx, track, job.TrackFailed)
		}
	case <-ctx.Done():
		r.setTrackStatus(ctx, track, job.TrackCancelled)
	}
}

// ResolveReview delivers a human review decision for a track currently held
// in NeedsReview.
func (r *Runner) ResolveReview(language string, approve bool) error {
	r.reviewMu.Lock()
	decision, ok := r.reviews[language]
	r.reviewMu.Unlock()
	if !ok {
		return services.Wrap(services.ErrNotFound, "review", "resolve",
			"no pending review for language "+language, nil)
	}
	select {
	case decision <- approve:
		return nil
	default:
		return services.Wrap(services.ErrValidation, "review", "resolve",
			"review already resolved for language "+language, nil)
	}
}

func (r *Runner) passTrack(ctx context.Context, track *job.LanguageTrack) {
	r.mu.Lock()
	ethics.RecordStep(r.job, "quality_passed", track.Language, "")
	r.mu.Unlock()
	r.setTrackStatus(ctx, track, job.TrackPassed)
	r.watermark(ctx, track)
}

func (r *Runner) watermark(ctx context.Context, track *job.LanguageTrack) {
	wmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
	defer cancel()

	r.mu.Lock()
	jobID := r.job.ID
	language := track.Language
	videoRef := track.VideoRef
	r.mu.Unlock()

	// Remote call runs unlocked so sibling tracks and snapshot readers keep
	// moving; the result is reapplied under the lock.
	ref, marked := r.deps.Safeguards.WatermarkVideo(wmCtx, jobID, language, videoRef)

	r.mu.Lock()
	if marked {
		track.VideoRef = ref
		track.Watermarked = true
		ethics.RecordStep(r.job, "watermark", language, "provenance watermark embedded")
	}
	r.mu.Unlock()
	r.publish(ctx)
}

func (r *Runner) failTrack(ctx context.Context, track *job.LanguageTrack, err error) {
	r.mu.Lock()
	track.ErrorMessage = services.Details(err).Message
	r.mu.Unlock()
	r.setTrackStatus(ctx, track, job.TrackFailed)

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if notifyErr := r.deps.Notifier.NotifyError(notifyCtx, err, "track "+track.Language); notifyErr != nil {
		r.logger.Warn("error notification failed", logging.Error(notifyErr))
	}
}

func (r *Runner) setTrackStatus(ctx context.Context, track *job.LanguageTrack, status job.TrackStatus) {
	r.mu.Lock()
	track.Status = status
	if !status.IsTerminal() {
		track.StageProgress = 0
	}
	r.mu.Unlock()
	r.publish(ctx)
}
