package progress_test

import (
	"math"
	"testing"
	"time"

	"dubforge/internal/job"
	"dubforge/internal/progress"
	"dubforge/internal/testsupport"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputePendingJobIsZero(t *testing.T) {
	record := testsupport.NewJob(t, "es")
	if got := progress.Compute(record); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
}

func TestComputeWeightsPhasesEqually(t *testing.T) {
	record := testsupport.NewJob(t, "es", "fr")
	record.Status = job.StatusTranscribing
	record.ConsentVerified = true
	record.StageProgress = 0.5

	// ethics done (1/6) plus half of transcription (0.5/6).
	want := (1 + 0.5) / 6
	if got := progress.Compute(record); !almostEqual(got, want) {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestComputeAveragesAcrossTracks(t *testing.T) {
	record := testsupport.NewJob(t, "es", "fr")
	record.Status = job.StatusTranslating
	record.ConsentVerified = true
	record.TranscriptRef = "/data/transcript.json"
	record.FanOut()

	es := record.Track("es")
	es.Status = job.TrackPassed
	es.TranslationRef = "t"
	es.AudioRef = "a"
	es.VideoRef = "v"

	fr := record.Track("fr")
	fr.Status = job.TrackTranslating
	fr.StageProgress = 0.5

	// Two pre-fanout phases complete, track mean = (1 + 0.125) / 2.
	want := (2 + (1+0.125)/2*4) / 6
	if got := progress.Compute(record); !almostEqual(got, want) {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestComputeCompletedJobIsOne(t *testing.T) {
	record := testsupport.NewJob(t, "es")
	record.Status = job.StatusCompleted
	if got := progress.Compute(record); got != 1 {
		t.Fatalf("expected 1, got %f", got)
	}
}

func TestTrackerNeverRegresses(t *testing.T) {
	tracker := progress.NewTracker()
	record := testsupport.NewJob(t, "es")
	record.Status = job.StatusTranslating
	record.ConsentVerified = true
	record.TranscriptRef = "/data/t.json"
	record.FanOut()
	track := record.Track("es")
	track.Status = job.TrackQualityChecking
	track.TranslationRef = "t"
	track.AudioRef = "a"
	track.VideoRef = "v"
	track.StageProgress = 0.5

	first := tracker.Publish(record)

	// Quality failure sends the track back to animation with no stage progress.
	track.Status = job.TrackAnimating
	track.StageProgress = 0

	second := tracker.Publish(record)
	if second.Overall < first.Overall {
		t.Fatalf("progress regressed from %f to %f", first.Overall, second.Overall)
	}
	if tracker.Overall(record.ID) != second.Overall {
		t.Fatal("stored overall mismatch")
	}
}

func TestSubscribeReceivesSnapshotsAndClosesOnTerminal(t *testing.T) {
	tracker := progress.NewTracker()
	record := testsupport.NewJob(t, "es")

	ch, cancel := tracker.Subscribe(record.ID)
	defer cancel()

	record.Status = job.StatusEthicsCheck
	record.StageProgress = 0.2
	tracker.Publish(record)

	snapshot, ok := <-ch
	if !ok {
		t.Fatal("channel closed early")
	}
	if snapshot.Job.Status != job.StatusEthicsCheck {
		t.Fatalf("unexpected snapshot status %q", snapshot.Job.Status)
	}

	record.Status = job.StatusCompleted
	tracker.Publish(record)

	// Drain: the terminal snapshot arrives, then the channel closes.
	var closed bool
	for i := 0; i < 3; i++ {
		snapshot, ok := <-ch
		if !ok {
			closed = true
			break
		}
		if snapshot.Overall == 1 && snapshot.Job.Status == job.StatusCompleted {
			continue
		}
	}
	if !closed {
		t.Fatal("expected channel to close after terminal snapshot")
	}
}

func TestSnapshotJobIsDetachedClone(t *testing.T) {
	tracker := progress.NewTracker()
	record := testsupport.NewJob(t, "es")
	record.Status = job.StatusEthicsCheck

	snapshot := tracker.Publish(record)
	record.Status = job.StatusFailed
	if snapshot.Job.Status != job.StatusEthicsCheck {
		t.Fatal("snapshot must not alias the live job")
	}
}

func TestEstimateETAPresentMidFlight(t *testing.T) {
	tracker := progress.NewTracker()
	record := testsupport.NewJob(t, "es")
	record.Status = job.StatusTranscribing
	record.ConsentVerified = true
	record.StageProgress = 0.5
	started := time.Now().Add(-time.Minute)
	record.StartedAt = &started

	snapshot := tracker.Publish(record)
	if snapshot.ETA <= 0 {
		t.Fatalf("expected a positive ETA, got %v", snapshot.ETA)
	}
}

func TestSubscribeAfterTerminalClosesImmediately(t *testing.T) {
	tracker := progress.NewTracker()
	record := testsupport.NewJob(t, "es")
	record.Status = job.StatusCompleted
	tracker.Publish(record)

	events, cancel := tracker.Subscribe(record.ID)
	defer cancel()

	select {
	case _, open := <-events:
		if open {
			t.Fatal("expected a closed channel, got a snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription after terminal publish neither delivered nor closed")
	}
}
