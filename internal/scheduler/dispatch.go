package scheduler

import (
	"context"
	"time"

	"dubforge/internal/ethics"
	"dubforge/internal/job"
	"dubforge/internal/logging"
	"dubforge/internal/pipeline"
)

// dispatchLoop claims pending jobs and hands them to runners while worker
// capacity remains, then sleeps until woken or the poll interval elapses.
func (m *Manager) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.dispatchPending(ctx); err != nil {
			m.logger.Error("dispatch of pending jobs failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_failed"))
			retry := time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second
			if retry <= 0 {
				retry = m.pollInterval
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-time.After(m.pollInterval):
		}
	}
}

func (m *Manager) dispatchPending(ctx context.Context) error {
	pending, err := m.store.List(ctx, job.StatusPending)
	if err != nil {
		return err
	}
	// Oldest first: List returns newest first.
	for i := len(pending) - 1; i >= 0; i-- {
		m.launch(ctx, pending[i])
	}
	return nil
}

// launch starts one runner goroutine for j if worker capacity allows and the
// job is not already claimed.
func (m *Manager) launch(ctx context.Context, j *job.Job) {
	m.mu.Lock()
	if !m.running || len(m.active) >= m.workerCount() {
		m.mu.Unlock()
		return
	}
	if _, claimed := m.active[j.ID]; claimed {
		m.mu.Unlock()
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	runner := pipeline.NewRunner(pipeline.Deps{
		Config:   m.cfg,
		Invoker:  m.invoker,
		Store:    m.store,
		Tracker:  m.tracker,
		Notifier: m.notifier,
		Logger:   m.logger,
		Slots:    m.slots,
	}, j)
	m.active[j.ID] = &activeJob{runner: runner, cancel: cancel}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()
		if err := runner.Run(jobCtx); err != nil {
			m.logger.Error("job failed",
				logging.String(logging.FieldJobID, j.ID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_failed"))
		}

		m.mu.Lock()
		delete(m.active, j.ID)
		m.mu.Unlock()
		m.tracker.Forget(j.ID)
		m.wakeDispatch()
	}()
}

// requeueInterrupted resets jobs a previous daemon left mid-flight back to
// Pending. Consent and transcription re-run from scratch: consent may have
// been revoked while the daemon was down, and stage outputs are not durable
// enough to trust across restarts.
func (m *Manager) requeueInterrupted(ctx context.Context) error {
	jobs, err := m.store.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Status == job.StatusPending {
			continue
		}
		resetForRequeue(j)
		if err := m.store.Save(ctx, j); err != nil {
			return err
		}
		m.logger.Info("requeued interrupted job",
			logging.String(logging.FieldJobID, j.ID),
			logging.String(logging.FieldEventType, "job_requeued"))
	}
	return nil
}

func resetForRequeue(j *job.Job) {
	j.Status = job.StatusPending
	j.Tracks = nil
	j.StageResults = nil
	j.RetryCount = make(map[job.Stage]int)
	j.ConsentVerified = false
	j.DetectedLanguage = ""
	j.TranscriptRef = ""
	j.StageProgress = 0
	j.OverallProgress = 0
	j.StartedAt = nil
	j.CompletedAt = nil
	j.ErrorMessage = ""
	ethics.RecordStep(j, "requeued", "", "interrupted by daemon shutdown")
}
