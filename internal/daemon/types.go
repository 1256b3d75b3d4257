package daemon

import (
	"dubforge/internal/job"
)

type createJobRequest struct {
	SourceVideo               string   `json:"source_video"`
	UserID                    string   `json:"user_id,omitempty"`
	SourceLanguage            string   `json:"source_language,omitempty"`
	TargetLanguages           []string `json:"target_languages"`
	QualityMode               string   `json:"quality_mode,omitempty"`
	EnableVoiceCloning        bool     `json:"enable_voice_cloning,omitempty"`
	EnableEmotionPreservation bool     `json:"enable_emotion_preservation,omitempty"`
	RequireHumanReview        bool     `json:"require_human_review,omitempty"`
}

type reviewRequest struct {
	Language string `json:"language"`
	Approve  bool   `json:"approve"`
}

type jobResponse struct {
	Job *job.Job `json:"job"`
}

type jobListResponse struct {
	Jobs []*job.Job `json:"jobs"`
}

type trackProgress struct {
	Status        job.TrackStatus    `json:"status"`
	Mode          job.QualityMode    `json:"mode"`
	StageProgress float64            `json:"stage_progress"`
	Quality       *job.QualityMetric `json:"quality,omitempty"`
}

type progressResponse struct {
	JobID           string                   `json:"job_id"`
	Status          job.Status               `json:"status"`
	OverallProgress float64                  `json:"overall_progress"`
	Tracks          map[string]trackProgress `json:"tracks"`
}

type schedulerStatus struct {
	Running bool               `json:"running"`
	Active  int                `json:"active"`
	Workers int                `json:"workers"`
	Jobs    map[job.Status]int `json:"jobs"`
	Total   int                `json:"total"`
}

type statusResponse struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	JobDBPath    string          `json:"job_db_path"`
	LockFilePath string          `json:"lock_file_path"`
	Scheduler    schedulerStatus `json:"scheduler"`
}
