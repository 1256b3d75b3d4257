package job_test

import (
	"testing"

	"dubforge/internal/job"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input string
		want  job.Status
		ok    bool
	}{
		{"pending", job.StatusPending, true},
		{" Quality_Checking ", job.StatusQualityChecking, true},
		{"COMPLETED", job.StatusCompleted, true},
		{"", "", false},
		{"encoding", "", false},
	}
	for _, tc := range tests {
		got, ok := job.ParseStatus(tc.input)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseStatus(%q) = %q,%v want %q,%v", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

func TestTrackStatusPredicates(t *testing.T) {
	if job.TrackNeedsReview.IsTerminal() {
		t.Fatal("needs_review must hold the job open, not terminate the track")
	}
	for _, s := range []job.TrackStatus{job.TrackPassed, job.TrackReviewApproved, job.TrackFailed, job.TrackCancelled} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if !job.TrackReviewApproved.Succeeded() || !job.TrackPassed.Succeeded() {
		t.Fatal("passed and review_approved both count as success")
	}
	if job.TrackFailed.Succeeded() || job.TrackCancelled.Succeeded() {
		t.Fatal("failed/cancelled must not count as success")
	}
}

func TestFanOutCreatesOneTrackPerLanguage(t *testing.T) {
	j := &job.Job{
		TargetLanguages: []string{"es", "fr"},
		Settings:        job.Settings{QualityMode: job.ModeStructural},
	}
	j.FanOut()
	if len(j.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(j.Tracks))
	}
	for _, lang := range []string{"es", "fr"} {
		track := j.Track(lang)
		if track == nil {
			t.Fatalf("missing track %s", lang)
		}
		if track.Status != job.TrackPending {
			t.Fatalf("new track should be pending, got %s", track.Status)
		}
		if track.Mode != job.ModeStructural {
			t.Fatalf("track mode should inherit job setting, got %s", track.Mode)
		}
	}
	// Fan-out is idempotent: calling again must not reset existing tracks.
	j.Track("es").Status = job.TrackTranslating
	j.FanOut()
	if j.Track("es").Status != job.TrackTranslating {
		t.Fatal("second fan-out reset an existing track")
	}
}

func TestCloneIsDeep(t *testing.T) {
	j := &job.Job{
		ID:              "j1",
		Status:          job.StatusTranslating,
		TargetLanguages: []string{"es"},
		RetryCount:      map[job.Stage]int{job.StageTranscribe: 1},
	}
	j.FanOut()
	j.Track("es").Quality = &job.QualityMetric{FID: 10}

	cp := j.Clone()
	cp.Track("es").Quality.FID = 99
	cp.RetryCount[job.StageTranscribe] = 5
	cp.TargetLanguages[0] = "de"

	if j.Track("es").Quality.FID != 10 {
		t.Fatal("clone shared quality metric")
	}
	if j.RetryCount[job.StageTranscribe] != 1 {
		t.Fatal("clone shared retry counters")
	}
	if j.TargetLanguages[0] != "es" {
		t.Fatal("clone shared language slice")
	}
}

func TestNormalizeLanguages(t *testing.T) {
	langs, err := job.NormalizeLanguages([]string{" es ", "fr", "es"})
	if err != nil {
		t.Fatalf("NormalizeLanguages: %v", err)
	}
	if len(langs) != 2 || langs[0] != "es" || langs[1] != "fr" {
		t.Fatalf("unexpected normalization result %v", langs)
	}

	if _, err := job.NormalizeLanguages([]string{"not-a-language-code!!"}); err == nil {
		t.Fatal("expected error for invalid code")
	}
	if _, err := job.NormalizeLanguages(nil); err == nil {
		t.Fatal("expected error for empty set")
	}
}

func TestRecordResultRouting(t *testing.T) {
	j := &job.Job{TargetLanguages: []string{"es"}}
	j.FanOut()

	j.RecordResult("", job.StageResult{Stage: job.StageTranscribe, Attempt: 1, Outcome: job.OutcomeSuccess})
	j.RecordResult("es", job.StageResult{Stage: job.StageTranslate, Attempt: 1, Outcome: job.OutcomeSuccess})

	if len(j.StageResults) != 1 || j.StageResults[0].Stage != job.StageTranscribe {
		t.Fatalf("pre-fanout result misrouted: %+v", j.StageResults)
	}
	if got := j.Track("es").StageResults; len(got) != 1 || got[0].Stage != job.StageTranslate {
		t.Fatalf("track result misrouted: %+v", got)
	}
}
