package stageclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dubforge/internal/config"
	"dubforge/internal/job"
	"dubforge/internal/services"
)

const (
	defaultStageTimeout  = 120 * time.Second
	defaultPollInterval  = 500 * time.Millisecond
	abortRequestTimeout  = 5 * time.Second
	maxErrorBodySnippet  = 512
	taskStatusQueued     = "queued"
	taskStatusRunning    = "running"
	taskStatusDone       = "done"
	taskStatusError      = "error"
	headerCorrelationKey = "X-Correlation-ID"
)

// Invoker sends one stage request to its service and waits for the final
// result. Implemented by Client and by test stubs.
type Invoker interface {
	Invoke(ctx context.Context, req Request, progress ProgressFunc) (*Result, error)
}

// Client talks to the external AI stage services over HTTP. Calls that the
// service accepts with 202 are polled until done; everything else resolves
// synchronously.
type Client struct {
	cfg             config.StageServices
	httpClient      *http.Client
	pollInterval    time.Duration
	confidenceFloor float64
}

// Option customizes the stage client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPollInterval overrides the async task polling cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithConfidenceFloor sets the transcription confidence below which results
// are reported as low confidence. Zero disables the check.
func WithConfidenceFloor(floor float64) Option {
	return func(c *Client) {
		if floor > 0 {
			c.confidenceFloor = floor
		}
	}
}

// New constructs a stage client from the configured service endpoints.
func New(cfg config.StageServices, opts ...Option) *Client {
	client := &Client{
		cfg:          cfg,
		httpClient:   &http.Client{},
		pollInterval: defaultPollInterval,
	}
	if cfg.PollIntervalMS > 0 {
		client.pollInterval = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type route struct {
	baseURL string
	path    string
	timeout time.Duration
}

func (c *Client) route(req Request) (route, any, error) {
	switch {
	case req.Ethics != nil:
		return c.newRoute(c.cfg.EthicsURL, "/consent/check", c.cfg.EthicsTimeout), req.Ethics, nil
	case req.Watermark != nil:
		return c.newRoute(c.cfg.EthicsURL, "/watermark", c.cfg.EthicsTimeout), req.Watermark, nil
	case req.Transcribe != nil:
		return c.newRoute(c.cfg.ASRURL, "/transcribe", c.cfg.ASRTimeout), req.Transcribe, nil
	case req.Translate != nil:
		return c.newRoute(c.cfg.TranslateURL, "/translate", c.cfg.TranslateTimeout), req.Translate, nil
	case req.Synthesize != nil:
		return c.newRoute(c.cfg.TTSURL, "/synthesize", c.cfg.TTSTimeout), req.Synthesize, nil
	case req.Animate != nil:
		return c.newRoute(c.cfg.AnimationURL, "/animate", c.cfg.AnimationTimeout), req.Animate, nil
	case req.QualityCheck != nil:
		return c.newRoute(c.cfg.QualityURL, "/evaluate", c.cfg.QualityTimeout), req.QualityCheck, nil
	default:
		return route{}, nil, services.Wrap(services.ErrValidation, "stageclient", "route", "request has no payload", nil)
	}
}

func (c *Client) newRoute(baseURL, path string, timeoutSeconds int) route {
	timeout := defaultStageTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return route{baseURL: strings.TrimRight(baseURL, "/"), path: path, timeout: timeout}
}

// Invoke sends the request and blocks until the service produces a final
// result, the per-stage timeout elapses, or ctx is cancelled. Cancellation
// issues a best-effort abort to the service before returning.
func (c *Client) Invoke(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	stage := req.Stage()
	rt, payload, err := c.route(req)
	if err != nil {
		return nil, err
	}
	if rt.baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, string(stage), "invoke", "service url not configured", nil)
	}

	opCtx, cancel := context.WithTimeout(ctx, rt.timeout)
	defer cancel()

	raw, err := c.submit(opCtx, stage, rt, req, payload, progress)
	if err != nil {
		return nil, err
	}
	result, err := decodeResult(stage, req, raw)
	if err != nil {
		return nil, err
	}
	return c.inspect(stage, result)
}

// inspect applies the semantic checks that turn well-formed responses into
// taxonomy errors.
func (c *Client) inspect(stage job.Stage, result *Result) (*Result, error) {
	switch {
	case result.Ethics != nil && !result.Ethics.ConsentVerified:
		reason := result.Ethics.Reason
		if reason == "" {
			reason = "consent could not be verified"
		}
		return nil, services.Wrap(services.ErrConsentDenied, string(stage), "consent", reason, nil)
	case result.Transcribe != nil && c.confidenceFloor > 0 && result.Transcribe.LanguageConfidence < c.confidenceFloor:
		msg := fmt.Sprintf("confidence %.2f below floor %.2f", result.Transcribe.LanguageConfidence, c.confidenceFloor)
		return nil, services.Wrap(services.ErrLowConfidence, string(stage), "transcribe", msg, nil)
	}
	return result, nil
}

type taskEnvelope struct {
	TaskID   string          `json:"task_id"`
	Status   string          `json:"status"`
	Progress float64         `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *serviceError   `json:"error,omitempty"`
}

type serviceError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func (c *Client) submit(ctx context.Context, stage job.Stage, rt route, req Request, payload any, progress ProgressFunc) (json.RawMessage, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, string(stage), "encode request", "", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rt.baseURL+rt.path, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, string(stage), "build request", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if correlationID, ok := services.RequestIDFromContext(ctx); ok {
		httpReq.Header.Set(headerCorrelationKey, correlationID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(stage, "submit", ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, string(stage), "read response", "", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if progress != nil {
			progress(1)
		}
		return body, nil
	case http.StatusAccepted:
		var envelope taskEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, services.Wrap(services.ErrUnavailable, string(stage), "decode task", "", err)
		}
		if envelope.TaskID == "" {
			return nil, services.Wrap(services.ErrUnavailable, string(stage), "decode task", "accepted without task id", nil)
		}
		return c.awaitTask(ctx, stage, rt, envelope.TaskID, progress)
	default:
		return nil, statusError(stage, "submit", resp.StatusCode, body)
	}
}

func (c *Client) awaitTask(ctx context.Context, stage job.Stage, rt route, taskID string, progress ProgressFunc) (json.RawMessage, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.abortTask(rt, taskID)
			return nil, wrapContextError(stage, "await", ctx.Err())
		case <-ticker.C:
		}

		envelope, err := c.pollTask(ctx, stage, rt, taskID)
		if err != nil {
			if ctx.Err() != nil {
				c.abortTask(rt, taskID)
				return nil, wrapContextError(stage, "await", ctx.Err())
			}
			return nil, err
		}

		switch envelope.Status {
		case taskStatusQueued, taskStatusRunning:
			if progress != nil {
				progress(clamp01(envelope.Progress))
			}
		case taskStatusDone:
			if progress != nil {
				progress(1)
			}
			return envelope.Result, nil
		case taskStatusError:
			return nil, taskError(stage, envelope.Error)
		default:
			return nil, services.Wrap(services.ErrUnavailable, string(stage), "poll",
				fmt.Sprintf("unknown task status %q", envelope.Status), nil)
		}
	}
}

func (c *Client) pollTask(ctx context.Context, stage job.Stage, rt route, taskID string) (*taskEnvelope, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rt.baseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, string(stage), "build poll", "", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(stage, "poll", ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, string(stage), "read poll", "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(stage, "poll", resp.StatusCode, body)
	}
	var envelope taskEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, services.Wrap(services.ErrUnavailable, string(stage), "decode poll", "", err)
	}
	return &envelope, nil
}

// abortTask tells the service to stop a running task. Best effort: the job is
// already being cancelled or timed out, so failures are swallowed.
func (c *Client) abortTask(rt route, taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), abortRequestTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, rt.baseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func decodeResult(stage job.Stage, req Request, raw json.RawMessage) (*Result, error) {
	if len(raw) == 0 {
		return nil, services.Wrap(services.ErrUnavailable, string(stage), "decode", "empty result payload", nil)
	}
	result := &Result{}
	var target any
	switch {
	case req.Ethics != nil:
		result.Ethics = &EthicsResult{}
		target = result.Ethics
	case req.Watermark != nil:
		result.Watermark = &WatermarkResult{}
		target = result.Watermark
	case req.Transcribe != nil:
		result.Transcribe = &TranscribeResult{}
		target = result.Transcribe
	case req.Translate != nil:
		result.Translate = &TranslateResult{}
		target = result.Translate
	case req.Synthesize != nil:
		result.Synthesize = &SynthesizeResult{}
		target = result.Synthesize
	case req.Animate != nil:
		result.Animate = &AnimateResult{}
		target = result.Animate
	case req.QualityCheck != nil:
		result.QualityCheck = &QualityCheckResult{}
		target = result.QualityCheck
	default:
		return nil, services.Wrap(services.ErrValidation, string(stage), "decode", "request has no payload", nil)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, services.Wrap(services.ErrUnavailable, string(stage), "decode", "", err)
	}
	return result, nil
}

func statusError(stage job.Stage, operation string, statusCode int, body []byte) error {
	detail := errorDetail(body)
	msg := fmt.Sprintf("http %d", statusCode)
	if detail != "" {
		msg += ": " + detail
	}
	marker := services.ErrUnavailable
	switch {
	case statusCode == http.StatusBadRequest, statusCode == http.StatusUnprocessableEntity:
		marker = services.ErrValidation
	case statusCode == http.StatusNotFound:
		marker = services.ErrNotFound
	case statusCode == http.StatusForbidden && stage == job.StageEthics:
		marker = services.ErrConsentDenied
	}
	return services.Wrap(marker, string(stage), operation, msg, nil)
}

func taskError(stage job.Stage, svcErr *serviceError) error {
	if svcErr == nil {
		return services.Wrap(services.ErrTransient, string(stage), "task", "service reported an unspecified error", nil)
	}
	marker := services.ErrTransient
	switch svcErr.Code {
	case "validation", "invalid_input", "no_face_detected", "unusable_audio":
		marker = services.ErrValidation
	case "consent_denied":
		marker = services.ErrConsentDenied
	case "low_confidence":
		marker = services.ErrLowConfidence
	case "timeout":
		marker = services.ErrTimeout
	case "unavailable", "overloaded":
		marker = services.ErrUnavailable
	}
	return services.Wrap(marker, string(stage), "task", svcErr.Detail, nil)
}

func wrapTransportError(stage job.Stage, operation string, ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return wrapContextError(stage, operation, ctxErr)
	}
	return services.Wrap(services.ErrUnavailable, string(stage), operation, "", err)
}

func wrapContextError(stage job.Stage, operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, string(stage), operation, "stage call exceeded its budget", err)
	}
	return fmt.Errorf("%s: %s: %w", stage, operation, err)
}

func errorDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > maxErrorBodySnippet {
		trimmed = trimmed[:maxErrorBodySnippet]
	}
	return trimmed
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
