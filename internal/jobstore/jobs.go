package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dubforge/internal/job"
)

const jobColumns = `id, status, source_video, user_id, source_language, detected_language,
    target_languages, settings_json, tracks_json, stage_results_json, retry_json,
    provenance_json, consent_verified, transcript_ref, stage_progress, overall_progress,
    error_message, created_at, started_at, completed_at`

// Save upserts the full job record. Callers hand in a snapshot; the store
// never mutates it.
func (s *Store) Save(ctx context.Context, j *job.Job) error {
	if j == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is empty")
	}

	targetLanguages, err := json.Marshal(j.TargetLanguages)
	if err != nil {
		return fmt.Errorf("marshal target languages: %w", err)
	}
	settings, err := json.Marshal(j.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tracks, err := marshalNullable(j.Tracks, len(j.Tracks) > 0)
	if err != nil {
		return fmt.Errorf("marshal tracks: %w", err)
	}
	stageResults, err := marshalNullable(j.StageResults, len(j.StageResults) > 0)
	if err != nil {
		return fmt.Errorf("marshal stage results: %w", err)
	}
	retries, err := marshalNullable(j.RetryCount, len(j.RetryCount) > 0)
	if err != nil {
		return fmt.Errorf("marshal retry counts: %w", err)
	}
	provenance, err := marshalNullable(j.Provenance, len(j.Provenance) > 0)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            id, status, source_video, user_id, source_language, detected_language,
            target_languages, settings_json, tracks_json, stage_results_json, retry_json,
            provenance_json, consent_verified, transcript_ref, stage_progress, overall_progress,
            error_message, created_at, started_at, completed_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            detected_language = excluded.detected_language,
            target_languages = excluded.target_languages,
            settings_json = excluded.settings_json,
            tracks_json = excluded.tracks_json,
            stage_results_json = excluded.stage_results_json,
            retry_json = excluded.retry_json,
            provenance_json = excluded.provenance_json,
            consent_verified = excluded.consent_verified,
            transcript_ref = excluded.transcript_ref,
            stage_progress = excluded.stage_progress,
            overall_progress = excluded.overall_progress,
            error_message = excluded.error_message,
            started_at = excluded.started_at,
            completed_at = excluded.completed_at,
            updated_at = excluded.updated_at`,
		j.ID,
		string(j.Status),
		j.SourceVideo,
		nullableString(j.UserID),
		nullableString(j.SourceLanguage),
		nullableString(j.DetectedLanguage),
		string(targetLanguages),
		string(settings),
		tracks,
		stageResults,
		retries,
		provenance,
		boolToInt(j.ConsentVerified),
		nullableString(j.TranscriptRef),
		j.StageProgress,
		j.OverallProgress,
		nullableString(j.ErrorMessage),
		j.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(j.StartedAt),
		nullableTime(j.CompletedAt),
		now,
	)
}

// Get fetches one job by identifier. Returns nil without error when absent.
func (s *Store) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	record, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return record, nil
}

// List returns jobs ordered newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...job.Status) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		record, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// ListActive returns jobs that have not reached a terminal status.
func (s *Store) ListActive(ctx context.Context) ([]*job.Job, error) {
	var active []job.Status
	for _, status := range job.AllStatuses() {
		if !status.IsTerminal() {
			active = append(active, status)
		}
	}
	return s.List(ctx, active...)
}

// Delete removes a job record. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
}

// Stats summarizes the job table by status.
type Stats struct {
	Total    int
	ByStatus map[job.Status]int
}

// Stats returns job counts grouped by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[job.Status]int)}
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		stats.ByStatus[job.Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		record           job.Job
		status           string
		userID           sql.NullString
		sourceLanguage   sql.NullString
		detectedLanguage sql.NullString
		targetLanguages  string
		settingsJSON     string
		tracksJSON       sql.NullString
		stageResultsJSON sql.NullString
		retryJSON        sql.NullString
		provenanceJSON   sql.NullString
		consentVerified  int
		transcriptRef    sql.NullString
		errorMessage     sql.NullString
		createdAt        string
		startedAt        sql.NullString
		completedAt      sql.NullString
	)

	if err := row.Scan(
		&record.ID,
		&status,
		&record.SourceVideo,
		&userID,
		&sourceLanguage,
		&detectedLanguage,
		&targetLanguages,
		&settingsJSON,
		&tracksJSON,
		&stageResultsJSON,
		&retryJSON,
		&provenanceJSON,
		&consentVerified,
		&transcriptRef,
		&record.StageProgress,
		&record.OverallProgress,
		&errorMessage,
		&createdAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	record.Status = job.Status(status)
	record.UserID = userID.String
	record.SourceLanguage = sourceLanguage.String
	record.DetectedLanguage = detectedLanguage.String
	record.ConsentVerified = consentVerified != 0
	record.TranscriptRef = transcriptRef.String
	record.ErrorMessage = errorMessage.String

	if err := json.Unmarshal([]byte(targetLanguages), &record.TargetLanguages); err != nil {
		return nil, fmt.Errorf("decode target languages: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &record.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if tracksJSON.Valid {
		if err := json.Unmarshal([]byte(tracksJSON.String), &record.Tracks); err != nil {
			return nil, fmt.Errorf("decode tracks: %w", err)
		}
	}
	if stageResultsJSON.Valid {
		if err := json.Unmarshal([]byte(stageResultsJSON.String), &record.StageResults); err != nil {
			return nil, fmt.Errorf("decode stage results: %w", err)
		}
	}
	if retryJSON.Valid {
		if err := json.Unmarshal([]byte(retryJSON.String), &record.RetryCount); err != nil {
			return nil, fmt.Errorf("decode retry counts: %w", err)
		}
	}
	if provenanceJSON.Valid {
		if err := json.Unmarshal([]byte(provenanceJSON.String), &record.Provenance); err != nil {
			return nil, fmt.Errorf("decode provenance: %w", err)
		}
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	record.CreatedAt = created
	if record.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if record.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	return &record, nil
}

func marshalNullable(value any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
