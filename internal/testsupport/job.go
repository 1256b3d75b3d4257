package testsupport

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"dubforge/internal/job"
)

// NewJob builds an unstarted job fixture for the given target languages.
func NewJob(t testing.TB, languages ...string) *job.Job {
	t.Helper()

	if len(languages) == 0 {
		languages = []string{"es"}
	}
	return &job.Job{
		ID:              uuid.NewString(),
		Status:          job.StatusPending,
		SourceVideo:     "/videos/source.mp4",
		SourceLanguage:  "en",
		TargetLanguages: languages,
		Settings: job.Settings{
			QualityMode: job.ModeStructural,
		},
		RetryCount: make(map[job.Stage]int),
		CreatedAt:  time.Now().UTC(),
	}
}
