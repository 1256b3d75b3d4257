package jobstore_test

import (
	"context"
	"testing"
	"time"

	"dubforge/internal/job"
	"dubforge/internal/testsupport"
)

func TestSaveAndGetRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	record := testsupport.NewJob(t, "es", "fr")
	record.Status = job.StatusTranscribing
	started := time.Now().UTC().Truncate(time.Millisecond)
	record.StartedAt = &started
	record.RetryCount[job.StageTranscribe] = 1
	record.StageResults = append(record.StageResults, job.StageResult{
		Stage:   job.StageEthics,
		Attempt: 1,
		Outcome: job.OutcomeSuccess,
	})

	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fetched, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected saved job to be found")
	}
	if fetched.Status != job.StatusTranscribing {
		t.Fatalf("unexpected status %q", fetched.Status)
	}
	if len(fetched.TargetLanguages) != 2 || fetched.TargetLanguages[1] != "fr" {
		t.Fatalf("unexpected target languages %v", fetched.TargetLanguages)
	}
	if fetched.RetryCount[job.StageTranscribe] != 1 {
		t.Fatalf("unexpected retry counts %v", fetched.RetryCount)
	}
	if len(fetched.StageResults) != 1 || fetched.StageResults[0].Stage != job.StageEthics {
		t.Fatalf("unexpected stage results %#v", fetched.StageResults)
	}
	if fetched.StartedAt == nil || !fetched.StartedAt.Equal(started) {
		t.Fatalf("unexpected started_at %v", fetched.StartedAt)
	}
}

func TestSavePersistsTracks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	record := testsupport.NewJob(t, "es")
	record.FanOut()
	track := record.Track("es")
	track.Status = job.TrackNeedsReview
	track.Mode = job.ModeEndToEnd
	track.Quality = &job.QualityMetric{LipSync: 0.8, FID: 12.5, AUCorrelation: 0.7, BLEU: 30}

	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fetched, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got := fetched.Track("es")
	if got == nil {
		t.Fatal("expected es track")
	}
	if got.Status != job.TrackNeedsReview || got.Mode != job.ModeEndToEnd {
		t.Fatalf("unexpected track %#v", got)
	}
	if got.Quality == nil || got.Quality.FID != 12.5 {
		t.Fatalf("unexpected quality %#v", got.Quality)
	}
}

func TestSaveUpsertsExisting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	record := testsupport.NewJob(t)
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("initial Save failed: %v", err)
	}

	record.Status = job.StatusCompleted
	record.OverallProgress = 1
	completed := time.Now().UTC()
	record.CompletedAt = &completed
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	fetched, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Status != job.StatusCompleted || fetched.OverallProgress != 1 {
		t.Fatalf("expected upsert to replace status, got %#v", fetched)
	}
	if fetched.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
}

func TestGetUnknownReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	fetched, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched != nil {
		t.Fatalf("expected nil for unknown id, got %#v", fetched)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	pending := testsupport.NewJob(t)
	failed := testsupport.NewJob(t)
	failed.Status = job.StatusFailed
	for _, record := range []*job.Job{pending, failed} {
		if err := store.Save(ctx, record); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}

	onlyFailed, err := store.List(ctx, job.StatusFailed)
	if err != nil {
		t.Fatalf("filtered List failed: %v", err)
	}
	if len(onlyFailed) != 1 || onlyFailed[0].ID != failed.ID {
		t.Fatalf("unexpected filtered result %#v", onlyFailed)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != pending.ID {
		t.Fatalf("unexpected active result %#v", active)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for _, status := range []job.Status{job.StatusPending, job.StatusPending, job.StatusCompleted} {
		record := testsupport.NewJob(t)
		record.Status = status
		if err := store.Save(ctx, record); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("expected total 3, got %d", stats.Total)
	}
	if stats.ByStatus[job.StatusPending] != 2 || stats.ByStatus[job.StatusCompleted] != 1 {
		t.Fatalf("unexpected stats %#v", stats.ByStatus)
	}
}

func TestDeleteRemovesJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	record := testsupport.NewJob(t)
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, record.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	fetched, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched != nil {
		t.Fatal("expected job to be deleted")
	}

	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete of unknown id failed: %v", err)
	}
}
