package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dubforge/internal/job"
	"dubforge/internal/jobstore"
	"dubforge/internal/scheduler"
	"dubforge/internal/services"
	"dubforge/internal/stageclient"
	"dubforge/internal/testsupport"
)

type stubInvoker struct {
	mu      sync.Mutex
	started map[string]chan struct{}
	release chan struct{}
}

func newStubInvoker() *stubInvoker {
	return &stubInvoker{started: make(map[string]chan struct{})}
}

// blockOn makes every invocation for jobID wait until release is closed and
// returns a channel closed when the first such invocation arrives.
func (s *stubInvoker) blockOn(jobID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release == nil {
		s.release = make(chan struct{})
	}
	started := make(chan struct{})
	s.started[jobID] = started
	return started
}

func (s *stubInvoker) unblock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release != nil {
		close(s.release)
		s.release = nil
	}
}

func (s *stubInvoker) Invoke(ctx context.Context, req stageclient.Request, progress stageclient.ProgressFunc) (*stageclient.Result, error) {
	s.mu.Lock()
	started, blocked := s.started[req.JobID]
	release := s.release
	if blocked {
		delete(s.started, req.JobID)
	}
	s.mu.Unlock()

	if blocked {
		close(started)
	}
	if blocked && release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	switch {
	case req.Ethics != nil:
		return &stageclient.Result{Ethics: &stageclient.EthicsResult{ConsentVerified: true}}, nil
	case req.Transcribe != nil:
		return &stageclient.Result{Transcribe: &stageclient.TranscribeResult{
			Text: "hello", Language: "en", LanguageConfidence: 0.95, TranscriptRef: "/data/t.json",
		}}, nil
	case req.Translate != nil:
		return &stageclient.Result{Translate: &stageclient.TranslateResult{
			TranslatedText: "hola", TranslationRef: "/data/es.txt",
		}}, nil
	case req.Synthesize != nil:
		return &stageclient.Result{Synthesize: &stageclient.SynthesizeResult{AudioPath: "/data/es.wav"}}, nil
	case req.Animate != nil:
		return &stageclient.Result{Animate: &stageclient.AnimateResult{OutputVideoPath: "/out/es.mp4"}}, nil
	case req.QualityCheck != nil:
		return &stageclient.Result{QualityCheck: &stageclient.QualityCheckResult{
			LipSync: 0.90, FID: 10, AUCorrelation: 0.80, BLEU: 40,
		}}, nil
	case req.Watermark != nil:
		return &stageclient.Result{Watermark: &stageclient.WatermarkResult{VideoPath: "/out/es.marked.mp4"}}, nil
	default:
		return &stageclient.Result{}, nil
	}
}

func newManager(t *testing.T, invoker stageclient.Invoker) (*scheduler.Manager, *jobstore.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 1
	store := testsupport.MustOpenStore(t, cfg)
	manager := scheduler.NewManager(cfg, store, invoker, nil)
	return manager, store
}

func waitForStatus(t *testing.T, manager *scheduler.Manager, id string, status job.Status) *job.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		j, err := manager.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if j != nil && j.Status == status {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, status)
	return nil
}

func TestCreateRejectsMissingSource(t *testing.T) {
	manager, _ := newManager(t, newStubInvoker())
	_, err := manager.Create(context.Background(), scheduler.CreateRequest{
		TargetLanguages: []string{"es"},
	})
	if err == nil || services.ClassifyKind(err) != services.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRejectsInvalidLanguage(t *testing.T) {
	manager, _ := newManager(t, newStubInvoker())
	_, err := manager.Create(context.Background(), scheduler.CreateRequest{
		SourceVideo:     "/videos/talk.mp4",
		TargetLanguages: []string{"12345!"},
	})
	if err == nil || services.ClassifyKind(err) != services.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateNormalizesAndPersists(t *testing.T) {
	manager, store := newManager(t, newStubInvoker())
	created, err := manager.Create(context.Background(), scheduler.CreateRequest{
		SourceVideo:     "/videos/talk.mp4",
		TargetLanguages: []string{"ES", "es", "fr"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(created.TargetLanguages) != 2 {
		t.Fatalf("expected duplicate collapsed, got %v", created.TargetLanguages)
	}
	if created.Settings.QualityMode != job.ModeStructural {
		t.Fatalf("expected structural default, got %s", created.Settings.QualityMode)
	}

	persisted, err := store.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if persisted == nil || persisted.Status != job.StatusPending {
		t.Fatalf("expected persisted pending job, got %#v", persisted)
	}
}

func TestDispatchRunsJobToCompletion(t *testing.T) {
	manager, _ := newManager(t, newStubInvoker())
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer manager.Stop()

	created, err := manager.Create(context.Background(), scheduler.CreateRequest{
		SourceVideo:     "/videos/talk.mp4",
		TargetLanguages: []string{"es"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	final := waitForStatus(t, manager, created.ID, job.StatusCompleted)
	if final.Track("es") == nil || final.Track("es").Status != job.TrackPassed {
		t.Fatalf("expected passed track, got %#v", final.Tracks)
	}
}

func TestCancelRunningJob(t *testing.T) {
	invoker := newStubInvoker()
	manager, _ := newManager(t, invoker)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer manager.Stop()
	defer invoker.unblock()

	created, err := manager.Create(context.Background(), scheduler.CreateRequest{
		SourceVideo:     "/videos/talk.mp4",
		TargetLanguages: []string{"es"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	started := invoker.blockOn(created.ID)
	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("job never started")
	}

	if err := manager.Cancel(context.Background(), created.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitForStatus(t, manager, created.ID, job.StatusCancelled)
}

func TestCancelPendingJobBeforeDispatch(t *testing.T) {
	manager, store := newManager(t, newStubInvoker())
	created, err := manager.Create(context.Background(), scheduler.CreateRequest{
		SourceVideo:     "/videos/talk.mp4",
		TargetLanguages: []string{"es"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := manager.Cancel(context.Background(), created.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	persisted, err := store.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if persisted.Status != job.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", persisted.Status)
	}

	err = manager.Cancel(context.Background(), created.ID)
	if err == nil || services.ClassifyKind(err) != services.KindValidation {
		t.Fatalf("cancelling a terminal job must be a validation error, got %v", err)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	manager, _ := newManager(t, newStubInvoker())
	err := manager.Cancel(context.Background(), "no-such-job")
	if err == nil || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveReviewRequiresRunningJob(t *testing.T) {
	manager, _ := newManager(t, newStubInvoker())
	err := manager.ResolveReview("no-such-job", "es", true)
	if err == nil || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStartRequeuesInterruptedJobs(t *testing.T) {
	manager, store := newManager(t, newStubInvoker())

	interrupted := testsupport.NewJob(t, "es")
	interrupted.Status = job.StatusAnimating
	interrupted.ConsentVerified = true
	interrupted.TranscriptRef = "/data/t.json"
	if err := store.Save(context.Background(), interrupted); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer manager.Stop()

	final := waitForStatus(t, manager, interrupted.ID, job.StatusCompleted)
	var requeued bool
	for _, step := range final.Provenance {
		if step.Step == "requeued" {
			requeued = true
		}
	}
	if !requeued {
		t.Fatal("expected requeue provenance step")
	}
}

func TestStatusReportsCounts(t *testing.T) {
	manager, _ := newManager(t, newStubInvoker())
	if _, err := manager.Create(context.Background(), scheduler.CreateRequest{
		SourceVideo:     "/videos/talk.mp4",
		TargetLanguages: []string{"es"},
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	status, err := manager.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Running {
		t.Fatal("manager not started, must not report running")
	}
	if status.Stats.ByStatus[job.StatusPending] != 1 {
		t.Fatalf("expected one pending job, got %#v", status.Stats)
	}
}
