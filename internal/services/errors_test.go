package services_test

import (
	"context"
	"errors"
	"testing"

	"dubforge/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	cause := errors.New("connection refused")
	err := services.Wrap(services.ErrUnavailable, "synthesize", "post request", "tts service unreachable", cause)
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected marker to survive wrapping, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to survive wrapping, got %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "animate", "poll", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected nil marker to default to transient, got %v", err)
	}
}

func TestClassifyKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"timeout marker", services.Wrap(services.ErrTimeout, "animate", "", "", nil), services.KindTimeout},
		{"deadline exceeded", context.DeadlineExceeded, services.KindTimeout},
		{"unavailable", services.ErrUnavailable, services.KindUnavailable},
		{"validation", services.Wrap(services.ErrValidation, "animate", "", "no face detected", nil), services.KindValidation},
		{"low confidence", services.ErrLowConfidence, services.KindLowConfidence},
		{"consent denied", services.ErrConsentDenied, services.KindConsentDenied},
		{"cancelled", context.Canceled, services.KindCancelled},
		{"unknown", errors.New("boom"), services.KindTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.ClassifyKind(tc.err); got != tc.want {
				t.Fatalf("ClassifyKind = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !services.IsFatal(services.ErrValidation) {
		t.Fatal("validation errors must be fatal")
	}
	if !services.IsFatal(services.ErrConsentDenied) {
		t.Fatal("consent denial must be fatal")
	}
	if services.IsFatal(services.ErrTimeout) {
		t.Fatal("timeouts must stay retryable")
	}
	if services.IsFatal(errors.New("mystery")) {
		t.Fatal("unknown errors default to retryable")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithLanguage(ctx, "es")
	ctx = services.WithStage(ctx, "translate")
	ctx = services.WithRequestID(ctx, "req-9")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("job id round trip failed: %q %v", id, ok)
	}
	if lang, ok := services.LanguageFromContext(ctx); !ok || lang != "es" {
		t.Fatalf("language round trip failed: %q %v", lang, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "translate" {
		t.Fatalf("stage round trip failed: %q %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-9" {
		t.Fatalf("request id round trip failed: %q %v", rid, ok)
	}
}
