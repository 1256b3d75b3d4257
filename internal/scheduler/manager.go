// Package scheduler owns the job lifecycle outside a single pipeline run: it
// accepts new jobs, dispatches pending ones onto a bounded worker pool, and
// routes cancellation and review decisions to the runner that owns each job.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dubforge/internal/config"
	"dubforge/internal/ethics"
	"dubforge/internal/job"
	"dubforge/internal/jobstore"
	"dubforge/internal/logging"
	"dubforge/internal/notifications"
	"dubforge/internal/pipeline"
	"dubforge/internal/progress"
	"dubforge/internal/services"
	"dubforge/internal/stageclient"
)

// CreateRequest carries the caller-supplied fields for a new job.
type CreateRequest struct {
	SourceVideo     string
	UserID          string
	SourceLanguage  string
	TargetLanguages []string
	Settings        job.Settings
}

// Status summarizes the scheduler for the status endpoint.
type Status struct {
	Running bool
	Active  int
	Workers int
	Stats   jobstore.Stats
}

type activeJob struct {
	runner *pipeline.Runner
	cancel context.CancelFunc
}

// Manager coordinates job dispatch across a bounded worker pool.
type Manager struct {
	cfg          *config.Config
	store        *jobstore.Store
	invoker      stageclient.Invoker
	tracker      *progress.Tracker
	notifier     notifications.Service
	logger       *slog.Logger
	pollInterval time.Duration
	slots        chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  map[string]*activeJob
	wake    chan struct{}
}

// NewManager constructs a scheduler using the default notification service.
func NewManager(cfg *config.Config, store *jobstore.Store, invoker stageclient.Invoker, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, invoker, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a scheduler with a custom notifier (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *jobstore.Store, invoker stageclient.Invoker, logger *slog.Logger, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	pollInterval := time.Duration(cfg.Workflow.QueuePollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		invoker:      invoker,
		tracker:      progress.NewTracker(),
		notifier:     notifier,
		logger:       logging.NewComponentLogger(logger, "scheduler"),
		pollInterval: pollInterval,
		active:       make(map[string]*activeJob),
		wake:         make(chan struct{}, 1),
	}
	// One slot per worker: the pool capacity bounds concurrent stage calls
	// across every job, not just the number of running jobs.
	m.slots = make(chan struct{}, m.workerCount())
	return m
}

// Tracker exposes the progress tracker for subscription endpoints.
func (m *Manager) Tracker() *progress.Tracker {
	return m.tracker
}

// Start requeues jobs interrupted by a previous shutdown and begins
// background dispatch.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.requeueInterrupted(runCtx); err != nil {
		m.logger.Warn("requeue of interrupted jobs failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "requeue_failed"))
	}

	go m.dispatchLoop(runCtx)
	return nil
}

// Stop halts dispatch, cancels every running job, and waits for them to
// reach a terminal state.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Create validates, persists, and enqueues a new job.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*job.Job, error) {
	source := strings.TrimSpace(req.SourceVideo)
	if source == "" {
		return nil, services.Wrap(services.ErrValidation, "scheduler", "create",
			"source video path is required", nil)
	}
	languages, err := job.NormalizeLanguages(req.TargetLanguages)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "scheduler", "create",
			"invalid target languages", err)
	}

	settings := req.Settings
	if settings.QualityMode == "" {
		settings.QualityMode = job.ModeStructural
	}

	j := &job.Job{
		ID:              uuid.NewString(),
		Status:          job.StatusPending,
		SourceVideo:     source,
		UserID:          strings.TrimSpace(req.UserID),
		SourceLanguage:  strings.ToLower(strings.TrimSpace(req.SourceLanguage)),
		TargetLanguages: languages,
		Settings:        settings,
		RetryCount:      make(map[job.Stage]int),
		CreatedAt:       time.Now().UTC(),
	}
	ethics.RecordStep(j, "created", "", "job accepted")

	if err := m.store.Save(ctx, j); err != nil {
		return nil, err
	}

	m.logger.Info("job created",
		logging.String(logging.FieldJobID, j.ID),
		logging.String("source_video", j.SourceVideo),
		logging.Int("languages", len(j.TargetLanguages)),
		logging.String(logging.FieldEventType, "job_created"))

	if err := m.notifier.NotifyJobCreated(ctx, j.ID, j.SourceVideo, j.TargetLanguages); err != nil {
		m.logger.Warn("job created notification failed", logging.Error(err))
	}

	m.wakeDispatch()
	return j.Clone(), nil
}

// Get returns the freshest view of a job: the live runner snapshot while it
// runs, the persisted row otherwise. Returns nil when the job is unknown.
func (m *Manager) Get(ctx context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	entry := m.active[id]
	m.mu.Unlock()
	if entry != nil {
		return entry.runner.Snapshot(), nil
	}
	return m.store.Get(ctx, id)
}

// List returns jobs newest first, optionally filtered by status. Live runner
// snapshots replace persisted rows for jobs currently executing.
func (m *Manager) List(ctx context.Context, statuses ...job.Status) ([]*job.Job, error) {
	jobs, err := m.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	for i, j := range jobs {
		if entry := m.active[j.ID]; entry != nil {
			jobs[i] = entry.runner.Snapshot()
		}
	}
	m.mu.Unlock()
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	return jobs, nil
}

// Cancel stops a job. Running jobs get their context cancelled; pending jobs
// are marked cancelled directly. Terminal jobs cannot be cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	entry := m.active[id]
	m.mu.Unlock()
	if entry != nil {
		entry.cancel()
		return nil
	}

	j, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if j == nil {
		return services.Wrap(services.ErrNotFound, "scheduler", "cancel",
			"job "+id+" not found", nil)
	}
	if j.Status.IsTerminal() {
		return services.Wrap(services.ErrValidation, "scheduler", "cancel",
			"job "+id+" already "+string(j.Status), nil)
	}

	now := time.Now().UTC()
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	ethics.RecordStep(j, "cancelled", "", "cancelled before dispatch")
	return m.store.Save(ctx, j)
}

// ResolveReview delivers a human review decision to the runner holding the
// given language track.
func (m *Manager) ResolveReview(id, language string, approve bool) error {
	m.mu.Lock()
	entry := m.active[id]
	m.mu.Unlock()
	if entry == nil {
		return services.Wrap(services.ErrNotFound, "scheduler", "review",
			"job "+id+" is not running", nil)
	}
	return entry.runner.ResolveReview(language, approve)
}

// Subscribe streams progress snapshots for one job until it reaches a
// terminal state. The returned cancel func releases the subscription.
func (m *Manager) Subscribe(id string) (<-chan progress.Snapshot, func()) {
	return m.tracker.Subscribe(id)
}

// Status reports scheduler health for the status endpoint.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Running: m.running,
		Active:  len(m.active),
		Workers: m.workerCount(),
		Stats:   stats,
	}, nil
}

func (m *Manager) workerCount() int {
	if m.cfg.Workflow.WorkerCount > 0 {
		return m.cfg.Workflow.WorkerCount
	}
	return 1
}

func (m *Manager) wakeDispatch() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
