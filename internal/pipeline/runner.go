package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dubforge/internal/config"
	"dubforge/internal/ethics"
	"dubforge/internal/job"
	"dubforge/internal/logging"
	"dubforge/internal/notifications"
	"dubforge/internal/progress"
	"dubforge/internal/quality"
	"dubforge/internal/retrypolicy"
	"dubforge/internal/services"
	"dubforge/internal/stageclient"
)

// Persister is the slice of the job store the runner needs.
type Persister interface {
	Save(ctx context.Context, j *job.Job) error
}

// Deps bundles the collaborators shared by every runner.
type Deps struct {
	Config     *config.Config
	Invoker    stageclient.Invoker
	Store      Persister
	Tracker    *progress.Tracker
	Notifier   notifications.Service
	Safeguards *ethics.Safeguards
	Logger     *slog.Logger
	// Slots bounds concurrent stage service calls across all jobs. Nil means
	// unbounded.
	Slots chan struct{}
}

// Runner drives one job through the full dubbing state machine. The runner is
// the exclusive owner of its job; everyone else sees deep-cloned snapshots
// published through the tracker.
type Runner struct {
	deps   Deps
	policy retrypolicy.Policy
	gate   quality.Thresholds
	logger *slog.Logger

	mu         sync.Mutex
	job        *job.Job
	transcript string

	reviewMu sync.Mutex
	reviews  map[string]chan bool
}

// NewRunner builds a runner owning j. The job must not be touched by the
// caller afterwards except through the runner's methods.
func NewRunner(deps Deps, j *job.Job) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Tracker == nil {
		deps.Tracker = progress.NewTracker()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(deps.Config)
	}
	if deps.Safeguards == nil {
		deps.Safeguards = ethics.NewSafeguards(deps.Config.Ethics, deps.Invoker, logger)
	}
	if j.RetryCount == nil {
		j.RetryCount = make(map[job.Stage]int)
	}
	return &Runner{
		deps:    deps,
		policy:  retrypolicy.FromConfig(deps.Config.Retry),
		gate:    quality.FromConfig(deps.Config.Quality),
		logger:  logging.NewComponentLogger(logger, "pipeline"),
		job:     j,
		reviews: make(map[string]chan bool),
	}
}

// Snapshot returns a deep copy of the job's current state.
func (r *Runner) Snapshot() *job.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Clone()
}

// Run executes the job to a terminal state. It returns the job's terminal
// error, or nil for Completed and Cancelled outcomes.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	started := time.Now().UTC()
	r.job.StartedAt = &started
	jobID := r.job.ID
	r.mu.Unlock()

	ctx = services.WithJobID(ctx, jobID)
	r.logger.Info("job started",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "job_start"))

	if err := r.runPreFanout(ctx); err != nil {
		return r.finish(ctx, err)
	}

	r.mu.Lock()
	r.job.FanOut()
	r.job.Status = job.StatusTranslating
	tracks := make([]*job.LanguageTrack, 0, len(r.job.Tracks))
	for _, lang := range r.job.TargetLanguages {
		// Targets matching the source language have no track.
		if track := r.job.Tracks[lang]; track != nil {
			tracks = append(tracks, track)
		}
	}
	r.mu.Unlock()
	r.publish(ctx)

	// Join barrier: every track reaches a terminal status exactly once, then
	// the job-level terminal transition fires.
	var wg sync.WaitGroup
	wg.Add(len(tracks))
	for _, track := range tracks {
		go func(track *job.LanguageTrack) {
			defer wg.Done()
			r.runTrack(ctx, track)
		}(track)
	}
	wg.Wait()

	return r.finish(ctx, nil)
}

// finish fires the job-level terminal transition exactly once and reports it.
func (r *Runner) finish(ctx context.Context, preFanoutErr error) error {
	r.mu.Lock()
	if r.job.Status.IsTerminal() {
		r.mu.Unlock()
		return nil
	}

	var terminalErr error
	switch {
	case preFanoutErr != nil && services.ClassifyKind(preFanoutErr) == services.KindCancelled:
		r.job.Status = job.StatusCancelled
	case preFanoutErr != nil:
		r.job.Status = job.StatusFailed
		r.job.ErrorMessage = services.Details(preFanoutErr).Message
		terminalErr = preFanoutErr
	case ctx.Err() != nil:
		// Cancelled mid fan-out. Already-terminal tracks keep their outcome.
		for _, track := range r.job.Tracks {
			if !track.Status.IsTerminal() {
				track.Status = job.TrackCancelled
			}
		}
		r.job.Status = job.StatusCancelled
	default:
		succeeded, failed := 0, 0
		for _, track := range r.job.Tracks {
			if track.Status.Succeeded() {
				succeeded++
			} else {
				failed++
			}
		}
		if succeeded > 0 {
			// Independent languages must not hold back ones that succeeded:
			// partial failure still completes the job.
			r.job.Status = job.StatusCompleted
		} else {
			r.job.Status = job.StatusFailed
			r.job.ErrorMessage = "all language tracks failed"
			terminalErr = errors.New("all language tracks failed")
		}
	}

	completed := time.Now().UTC()
	r.job.CompletedAt = &completed
	jobID := r.job.ID
	status := r.job.Status
	errorMessage := r.job.ErrorMessage
	succeeded, failed := 0, 0
	for _, track := range r.job.Tracks {
		if track.Status.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	var duration time.Duration
	if r.job.StartedAt != nil {
		duration = completed.Sub(*r.job.StartedAt)
	}
	r.mu.Unlock()
	r.publish(ctx)

	r.logger.Info("job finished",
		logging.String(logging.FieldJobID, jobID),
		logging.String("status", string(status)),
		logging.Duration("duration", duration),
		logging.String(logging.FieldEventType, "job_finish"))

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	switch status {
	case job.StatusCompleted:
		if err := r.deps.Notifier.NotifyJobCompleted(notifyCtx, jobID, succeeded, failed, duration); err != nil {
			r.logger.Warn("completion notification failed", logging.Error(err))
		}
	case job.StatusFailed:
		if err := r.deps.Notifier.NotifyJobFailed(notifyCtx, jobID, errorMessage); err != nil {
			r.logger.Warn("failure notification failed", logging.Error(err))
		}
	}
	return terminalErr
}

// publish snapshots the job, pushes the snapshot to subscribers, and persists
// it. Persistence errors are logged, not fatal: the in-memory state machine
// stays authoritative while it runs.
func (r *Runner) publish(ctx context.Context) {
	r.mu.Lock()
	snapshot := r.deps.Tracker.Publish(r.job)
	r.job.OverallProgress = snapshot.Overall
	r.mu.Unlock()

	if r.deps.Store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.deps.Store.Save(saveCtx, snapshot.Job); err != nil {
			r.logger.Warn("persist job snapshot failed",
				logging.String(logging.FieldJobID, snapshot.Job.ID),
				logging.Error(err))
		}
	}
}

func (r *Runner) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (r *Runner) acquireSlot(ctx context.Context) error {
	if r.deps.Slots == nil {
		return nil
	}
	select {
	case r.deps.Slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) releaseSlot() {
	if r.deps.Slots != nil {
		<-r.deps.Slots
	}
}

func trackStageIndex(stage job.Stage) int {
	for i, s := range job.TrackStages() {
		if s == stage {
			return i
		}
	}
	return -1
}

func qualityFailureError(reason string) error {
	return fmt.Errorf("quality below threshold: %s", reason)
}
