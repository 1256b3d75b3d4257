package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dubforge/internal/config"
)

const userAgent = "DubForge/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyJobCreated(ctx context.Context, jobID, sourceVideo string, languages []string) error
	NotifyJobCompleted(ctx context.Context, jobID string, succeeded, failed int, duration time.Duration) error
	NotifyJobFailed(ctx context.Context, jobID, reason string) error
	NotifyReviewNeeded(ctx context.Context, jobID, language string, score float64) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled:  cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  config.Notifications
}

func (n *ntfyService) NotifyJobCreated(ctx context.Context, jobID, sourceVideo string, languages []string) error {
	if !n.enabled.JobCreated {
		return nil
	}
	data := payload{
		title:   "DubForge - Job Created",
		message: fmt.Sprintf("Dubbing %s into %s (job %s)", strings.TrimSpace(sourceVideo), strings.Join(languages, ", "), jobID),
		tags:    []string{"dubforge", "job", "created"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, jobID string, succeeded, failed int, duration time.Duration) error {
	if !n.enabled.JobCompleted {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var title, message string
	if failed == 0 {
		title = "DubForge - Job Complete"
		message = fmt.Sprintf("All %d language tracks finished in %s (job %s)", succeeded, duration, jobID)
	} else {
		title = "DubForge - Job Complete (with failures)"
		message = fmt.Sprintf("%d tracks succeeded, %d failed in %s (job %s)", succeeded, failed, duration, jobID)
	}

	data := payload{
		title:    title,
		message:  message,
		tags:     []string{"dubforge", "job", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID, reason string) error {
	if !n.enabled.JobFailed {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "DubForge - Job Failed",
		message:  fmt.Sprintf("Job %s failed: %s", jobID, reason),
		tags:     []string{"dubforge", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyReviewNeeded(ctx context.Context, jobID, language string, score float64) error {
	if !n.enabled.ReviewNeeded {
		return nil
	}
	data := payload{
		title:    "DubForge - Review Needed",
		message:  fmt.Sprintf("Track %s of job %s missed the quality gate (score %.2f)\nManual review required", language, jobID, score),
		tags:     []string{"dubforge", "quality", "review"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.enabled.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "DubForge - Error",
		message:  builder.String(),
		tags:     []string{"dubforge", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "DubForge - Test",
		message:  "Notification system test",
		tags:     []string{"dubforge", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCreated(context.Context, string, string, []string) error { return nil }
func (noopService) NotifyJobCompleted(context.Context, string, int, int, time.Duration) error {
	return nil
}
func (noopService) NotifyJobFailed(context.Context, string, string) error             { return nil }
func (noopService) NotifyReviewNeeded(context.Context, string, string, float64) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                  { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
