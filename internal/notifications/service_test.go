package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"dubforge/internal/config"
	"dubforge/internal/notifications"
)

type captured struct {
	title    string
	message  string
	tags     string
	priority string
}

func newCapturingService(t *testing.T, mutate func(*config.Config)) (notifications.Service, *[]captured) {
	t.Helper()
	var requests []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, captured{
			title:    r.Header.Get("Title"),
			message:  string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	if mutate != nil {
		mutate(&cfg)
	}
	return notifications.NewService(&cfg), &requests
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFailed(context.Background(), "job-1", "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNotifyJobCreatedFormatsMessage(t *testing.T) {
	svc, requests := newCapturingService(t, nil)

	err := svc.NotifyJobCreated(context.Background(), "job-1", "/videos/talk.mp4", []string{"es", "fr"})
	if err != nil {
		t.Fatalf("NotifyJobCreated failed: %v", err)
	}
	if len(*requests) != 1 {
		t.Fatalf("expected one request, got %d", len(*requests))
	}
	got := (*requests)[0]
	if got.title != "DubForge - Job Created" {
		t.Errorf("unexpected title %q", got.title)
	}
	if got.message != "Dubbing /videos/talk.mp4 into es, fr (job job-1)" {
		t.Errorf("unexpected message %q", got.message)
	}
	if got.tags != "dubforge,job,created" {
		t.Errorf("unexpected tags %q", got.tags)
	}
}

func TestNotifyReviewNeededCarriesHighPriority(t *testing.T) {
	svc, requests := newCapturingService(t, nil)

	if err := svc.NotifyReviewNeeded(context.Background(), "job-2", "fr", 0.61); err != nil {
		t.Fatalf("NotifyReviewNeeded failed: %v", err)
	}
	if len(*requests) != 1 {
		t.Fatalf("expected one request, got %d", len(*requests))
	}
	if (*requests)[0].priority != "high" {
		t.Errorf("expected high priority, got %q", (*requests)[0].priority)
	}
}

func TestDisabledEventsAreSuppressed(t *testing.T) {
	svc, requests := newCapturingService(t, func(cfg *config.Config) {
		cfg.Notifications.JobFailed = false
		cfg.Notifications.Errors = false
	})

	if err := svc.NotifyJobFailed(context.Background(), "job-3", "boom"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}
	if err := svc.NotifyError(context.Background(), errors.New("boom"), "pipeline"); err != nil {
		t.Fatalf("NotifyError failed: %v", err)
	}
	if len(*requests) != 0 {
		t.Fatalf("expected suppressed events, got %d requests", len(*requests))
	}
}

func TestNtfyErrorStatusSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}
