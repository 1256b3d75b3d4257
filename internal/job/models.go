package job

import (
	"strings"
	"time"
)

// Status represents the job-level lifecycle.
type Status string

const (
	StatusPending         Status = "pending"
	StatusEthicsCheck     Status = "ethics_check"
	StatusTranscribing    Status = "transcribing"
	StatusTranslating     Status = "translating"
	StatusSynthesizing    Status = "synthesizing"
	StatusAnimating       Status = "animating"
	StatusQualityChecking Status = "quality_checking"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusEthicsCheck,
	StatusTranscribing,
	StatusTranslating,
	StatusSynthesizing,
	StatusAnimating,
	StatusQualityChecking,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known job statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a job status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// TrackStatus represents the per-language sub-lifecycle entered at fan-out.
type TrackStatus string

const (
	TrackPending         TrackStatus = "pending"
	TrackTranslating     TrackStatus = "translating"
	TrackSynthesizing    TrackStatus = "synthesizing"
	TrackAnimating       TrackStatus = "animating"
	TrackQualityChecking TrackStatus = "quality_checking"
	TrackPassed          TrackStatus = "passed"
	TrackNeedsReview     TrackStatus = "needs_review"
	TrackReviewApproved  TrackStatus = "review_approved"
	TrackFailed          TrackStatus = "failed"
	TrackCancelled       TrackStatus = "cancelled"
)

// IsTerminal reports whether a track has reached a final state. NeedsReview is
// not terminal: the job holds until a review decision arrives.
func (s TrackStatus) IsTerminal() bool {
	switch s {
	case TrackPassed, TrackReviewApproved, TrackFailed, TrackCancelled:
		return true
	default:
		return false
	}
}

// Succeeded reports whether a track counts toward job completion.
func (s TrackStatus) Succeeded() bool {
	return s == TrackPassed || s == TrackReviewApproved
}

// Stage identifies one discrete processing step performed by an external service.
type Stage string

const (
	StageEthics       Stage = "ethics"
	StageTranscribe   Stage = "transcribe"
	StageTranslate    Stage = "translate"
	StageSynthesize   Stage = "synthesize"
	StageAnimate      Stage = "animate"
	StageQualityCheck Stage = "quality_check"
)

// PreFanoutStages lists the stages that run once per job, in order.
func PreFanoutStages() []Stage {
	return []Stage{StageEthics, StageTranscribe}
}

// TrackStages lists the per-language stages, in order.
func TrackStages() []Stage {
	return []Stage{StageTranslate, StageSynthesize, StageAnimate, StageQualityCheck}
}

// StatusForStage maps an in-flight stage to the matching track status.
func StatusForStage(stage Stage) TrackStatus {
	switch stage {
	case StageTranslate:
		return TrackTranslating
	case StageSynthesize:
		return TrackSynthesizing
	case StageAnimate:
		return TrackAnimating
	case StageQualityCheck:
		return TrackQualityChecking
	default:
		return TrackPending
	}
}

// Outcome classifies one stage attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable"
	OutcomeFatal     Outcome = "fatal"
)

// QualityMode selects the animation backend variant.
type QualityMode string

const (
	// ModeStructural drives the structural re-animation model: higher quality,
	// less tolerant of difficult inputs.
	ModeStructural QualityMode = "structural"
	// ModeEndToEnd drives the end-to-end synthesis model: more forgiving,
	// lower ceiling. Used as the fallback when structural retries run out.
	ModeEndToEnd QualityMode = "end_to_end"
)

// ParseQualityMode converts a string into a known QualityMode.
func ParseQualityMode(value string) (QualityMode, bool) {
	switch QualityMode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeStructural:
		return ModeStructural, true
	case ModeEndToEnd:
		return ModeEndToEnd, true
	default:
		return "", false
	}
}

// QualityMetric is the metrics tuple produced by one quality check.
type QualityMetric struct {
	LipSync       float64 `json:"lse_c"`
	FID           float64 `json:"fid"`
	AUCorrelation float64 `json:"au_correlation"`
	BLEU          float64 `json:"bleu"`
	OverallScore  float64 `json:"overall_score"`
	Passed        bool    `json:"passed"`
}

// StageResult is the immutable record of one attempt at one stage.
type StageResult struct {
	Stage       Stage     `json:"stage"`
	Attempt     int       `json:"attempt"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Outcome     Outcome   `json:"outcome"`
	Progress    float64   `json:"progress"`
	PayloadRef  string    `json:"payload_ref,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// Settings captures the per-job options supplied at creation.
type Settings struct {
	QualityMode               QualityMode `json:"quality_mode"`
	EnableVoiceCloning        bool        `json:"enable_voice_cloning"`
	EnableEmotionPreservation bool        `json:"enable_emotion_preservation"`
	RequireHumanReview        bool        `json:"require_human_review"`
}

// ProvenanceStep records one entry of a job's processing chain for the ethics
// provenance record.
type ProvenanceStep struct {
	Step      string    `json:"step"`
	Language  string    `json:"language,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// LanguageTrack is the per-language progress and result for one job.
type LanguageTrack struct {
	Language      string         `json:"language"`
	Status        TrackStatus    `json:"status"`
	Mode          QualityMode    `json:"mode"`
	StageResults  []StageResult  `json:"stage_results"`
	RetryCount    map[Stage]int  `json:"retry_count"`
	Quality       *QualityMetric `json:"quality,omitempty"`
	StageProgress float64        `json:"stage_progress"`

	TranslationRef string `json:"translation_ref,omitempty"`
	AudioRef       string `json:"audio_ref,omitempty"`
	VideoRef       string `json:"video_ref,omitempty"`
	Watermarked    bool   `json:"watermarked,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Job is a unit of work for one source video across N target languages.
type Job struct {
	ID               string   `json:"id"`
	Status           Status   `json:"status"`
	SourceVideo      string   `json:"source_video"`
	UserID           string   `json:"user_id,omitempty"`
	SourceLanguage   string   `json:"source_language,omitempty"`
	DetectedLanguage string   `json:"detected_language,omitempty"`
	TargetLanguages  []string `json:"target_languages"`
	Settings         Settings `json:"settings"`

	Tracks       map[string]*LanguageTrack `json:"tracks,omitempty"`
	StageResults []StageResult             `json:"stage_results"`
	RetryCount   map[Stage]int             `json:"retry_count"`
	Provenance   []ProvenanceStep          `json:"provenance,omitempty"`

	ConsentVerified bool    `json:"consent_verified"`
	TranscriptRef   string  `json:"transcript_ref,omitempty"`
	StageProgress   float64 `json:"stage_progress"`
	OverallProgress float64 `json:"overall_progress"`

	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// RecordResult appends an attempt record to the right owner: the job for
// pre-fanout stages, the track otherwise.
func (j *Job) RecordResult(language string, result StageResult) {
	if language == "" {
		j.StageResults = append(j.StageResults, result)
		return
	}
	if track, ok := j.Tracks[language]; ok {
		track.StageResults = append(track.StageResults, result)
	}
}

// Track returns the track for a language, or nil.
func (j *Job) Track(language string) *LanguageTrack {
	if j.Tracks == nil {
		return nil
	}
	return j.Tracks[language]
}

// FanOut creates one LanguageTrack per target language. It is called exactly
// once, after transcription succeeds. Targets matching the resolved source
// language get no track: the creation-time target set stays untouched, the
// language is simply not dubbed onto itself.
func (j *Job) FanOut() {
	if j.Tracks == nil {
		j.Tracks = make(map[string]*LanguageTrack, len(j.TargetLanguages))
	}
	source := strings.ToLower(strings.TrimSpace(j.SourceLanguage))
	for _, lang := range j.TargetLanguages {
		if strings.ToLower(lang) == source {
			continue
		}
		if _, ok := j.Tracks[lang]; ok {
			continue
		}
		j.Tracks[lang] = &LanguageTrack{
			Language:   lang,
			Status:     TrackPending,
			Mode:       j.Settings.QualityMode,
			RetryCount: make(map[Stage]int),
		}
	}
}

// Clone produces a deep copy safe to hand to readers outside the owning
// pipeline runner.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.TargetLanguages = append([]string(nil), j.TargetLanguages...)
	cp.StageResults = append([]StageResult(nil), j.StageResults...)
	cp.Provenance = append([]ProvenanceStep(nil), j.Provenance...)
	cp.RetryCount = cloneCounts(j.RetryCount)
	if j.StartedAt != nil {
		started := *j.StartedAt
		cp.StartedAt = &started
	}
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		cp.CompletedAt = &completed
	}
	if j.Tracks != nil {
		cp.Tracks = make(map[string]*LanguageTrack, len(j.Tracks))
		for lang, track := range j.Tracks {
			cp.Tracks[lang] = track.clone()
		}
	}
	return &cp
}

func (t *LanguageTrack) clone() *LanguageTrack {
	if t == nil {
		return nil
	}
	cp := *t
	cp.StageResults = append([]StageResult(nil), t.StageResults...)
	cp.RetryCount = cloneCounts(t.RetryCount)
	if t.Quality != nil {
		quality := *t.Quality
		cp.Quality = &quality
	}
	return &cp
}

func cloneCounts(counts map[Stage]int) map[Stage]int {
	if counts == nil {
		return nil
	}
	cp := make(map[Stage]int, len(counts))
	for stage, count := range counts {
		cp[stage] = count
	}
	return cp
}
