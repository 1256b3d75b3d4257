package ethics

import (
	"context"
	"log/slog"
	"time"

	"dubforge/internal/config"
	"dubforge/internal/job"
	"dubforge/internal/logging"
	"dubforge/internal/stageclient"
)

// Safeguards applies the ethical safeguards that ride along the dubbing
// pipeline: consent gating, provenance recording, and output watermarking.
type Safeguards struct {
	cfg     config.Ethics
	invoker stageclient.Invoker
	logger  *slog.Logger
}

// NewSafeguards wires the safeguard helpers used by the pipeline.
func NewSafeguards(cfg config.Ethics, invoker stageclient.Invoker, logger *slog.Logger) *Safeguards {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Safeguards{cfg: cfg, invoker: invoker, logger: logger}
}

// RequireConsent reports whether jobs must pass the consent check before any
// processing happens.
func (s *Safeguards) RequireConsent() bool {
	return s.cfg.RequireConsent
}

// RecordStep appends one provenance entry to the job's processing chain. The
// caller must own the job.
func RecordStep(j *job.Job, step, language, detail string) {
	if j == nil {
		return
	}
	j.Provenance = append(j.Provenance, job.ProvenanceStep{
		Step:      step,
		Language:  language,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	})
}

// WatermarkVideo embeds a provenance watermark into a finished track's video
// and returns the ref to deliver. Watermarking is best effort: the dubbed
// output is already accepted, so failures are logged and reported as not
// marked. The call is a remote stage invocation; callers must not hold job
// state locks across it.
func (s *Safeguards) WatermarkVideo(ctx context.Context, jobID, language, videoRef string) (string, bool) {
	if !s.cfg.EnableWatermarking || s.invoker == nil || videoRef == "" {
		return videoRef, false
	}
	result, err := s.invoker.Invoke(ctx, stageclient.Request{
		JobID:     jobID,
		Language:  language,
		Watermark: &stageclient.WatermarkRequest{VideoPath: videoRef},
	}, nil)
	if err != nil {
		s.logger.Warn("watermarking failed, delivering unmarked output",
			logging.String(logging.FieldJobID, jobID),
			logging.String(logging.FieldLanguage, language),
			logging.Error(err))
		return videoRef, false
	}
	if result.Watermark != nil && result.Watermark.VideoPath != "" {
		videoRef = result.Watermark.VideoPath
	}
	return videoRef, true
}
