package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"dubforge/internal/job"
	"dubforge/internal/progress"
)

// apiClient is a thin HTTP client for the daemon API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

type submitRequest struct {
	SourceVideo               string   `json:"source_video"`
	UserID                    string   `json:"user_id,omitempty"`
	SourceLanguage            string   `json:"source_language,omitempty"`
	TargetLanguages           []string `json:"target_languages"`
	QualityMode               string   `json:"quality_mode,omitempty"`
	EnableVoiceCloning        bool     `json:"enable_voice_cloning,omitempty"`
	EnableEmotionPreservation bool     `json:"enable_emotion_preservation,omitempty"`
	RequireHumanReview        bool     `json:"require_human_review,omitempty"`
}

type jobEnvelope struct {
	Job *job.Job `json:"job"`
}

type jobListEnvelope struct {
	Jobs []*job.Job `json:"jobs"`
}

type trackProgressView struct {
	Status        job.TrackStatus    `json:"status"`
	Mode          job.QualityMode    `json:"mode"`
	StageProgress float64            `json:"stage_progress"`
	Quality       *job.QualityMetric `json:"quality,omitempty"`
}

type progressView struct {
	JobID           string                       `json:"job_id"`
	Status          job.Status                   `json:"status"`
	OverallProgress float64                      `json:"overall_progress"`
	Tracks          map[string]trackProgressView `json:"tracks"`
}

type schedulerView struct {
	Running bool               `json:"running"`
	Active  int                `json:"active"`
	Workers int                `json:"workers"`
	Jobs    map[job.Status]int `json:"jobs"`
	Total   int                `json:"total"`
}

type statusView struct {
	Running      bool          `json:"running"`
	PID          int           `json:"pid"`
	JobDBPath    string        `json:"job_db_path"`
	LockFilePath string        `json:"lock_file_path"`
	Scheduler    schedulerView `json:"scheduler"`
}

func (c *apiClient) SubmitJob(ctx context.Context, req submitRequest) (*job.Job, error) {
	var envelope jobEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &envelope); err != nil {
		return nil, err
	}
	return envelope.Job, nil
}

func (c *apiClient) ListJobs(ctx context.Context, statuses []string) ([]*job.Job, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		query := url.Values{}
		for _, status := range statuses {
			query.Add("status", status)
		}
		path += "?" + query.Encode()
	}
	var envelope jobListEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Jobs, nil
}

func (c *apiClient) GetJob(ctx context.Context, id string) (*job.Job, error) {
	var envelope jobEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Job, nil
}

func (c *apiClient) GetProgress(ctx context.Context, id string) (*progressView, error) {
	var view progressView
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/progress", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *apiClient) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *apiClient) Review(ctx context.Context, id, language string, approve bool) error {
	payload := map[string]any{"language": language, "approve": approve}
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/review", payload, nil)
}

func (c *apiClient) Status(ctx context.Context) (*statusView, error) {
	var view statusView
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// WatchJob consumes the server-sent event stream for one job, invoking fn for
// each snapshot. Returns when fn returns false, the stream ends, or the
// context is cancelled.
func (c *apiClient) WatchJob(ctx context.Context, id string, fn func(progress.Snapshot) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/api/jobs/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: ")...)
		case line == "" && len(data) > 0:
			var snapshot progress.Snapshot
			if err := json.Unmarshal(data, &snapshot); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data = data[:0]
			if !fn(snapshot) {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s", payload.Error)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
