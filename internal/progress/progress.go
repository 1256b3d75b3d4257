package progress

import (
	"dubforge/internal/job"
)

// phaseCount is the number of equally weighted progress phases: ethics,
// transcription, then the four per-track stages averaged across tracks.
const phaseCount = 6

// Compute derives overall job progress in [0,1] from job state. The two
// pre-fanout stages contribute one phase each; the four track stages
// contribute the mean fraction across all language tracks.
func Compute(j *job.Job) float64 {
	if j == nil {
		return 0
	}
	switch j.Status {
	case job.StatusCompleted:
		return 1
	case job.StatusFailed, job.StatusCancelled:
		// Terminal without completion: freeze at the computed value.
	}

	total := ethicsFraction(j) + transcribeFraction(j)
	if len(j.Tracks) > 0 {
		var sum float64
		for _, track := range j.Tracks {
			sum += trackFraction(track)
		}
		total += (sum / float64(len(j.Tracks))) * 4
	}
	return clamp01(total / phaseCount)
}

func ethicsFraction(j *job.Job) float64 {
	switch j.Status {
	case job.StatusPending:
		return 0
	case job.StatusEthicsCheck:
		return clamp01(j.StageProgress)
	default:
		return 1
	}
}

func transcribeFraction(j *job.Job) float64 {
	switch j.Status {
	case job.StatusPending, job.StatusEthicsCheck:
		return 0
	case job.StatusTranscribing:
		return clamp01(j.StageProgress)
	default:
		if j.TranscriptRef != "" || len(j.Tracks) > 0 {
			return 1
		}
		return 0
	}
}

// trackFraction reports how far one track is through its four stages, in
// [0,1]. Completed stages are inferred from their artifacts so the fraction
// stays stable across retries.
func trackFraction(t *job.LanguageTrack) float64 {
	if t == nil {
		return 0
	}
	if t.Status.Succeeded() {
		return 1
	}
	done := 0.0
	if t.TranslationRef != "" {
		done++
	}
	if t.AudioRef != "" {
		done++
	}
	if t.VideoRef != "" {
		done++
	}
	active := 0.0
	switch t.Status {
	case job.TrackTranslating, job.TrackSynthesizing, job.TrackAnimating, job.TrackQualityChecking:
		active = clamp01(t.StageProgress)
	}
	return clamp01((done + active) / 4)
}

func clamp01(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}
