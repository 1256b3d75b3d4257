// Package retrypolicy decides, per stage outcome, whether a failed attempt is
// retried (and with what parameter variation), escalated to human review, or
// allowed to fail the track. The policy itself is stateless; callers pass in
// the track's current retry counters and mode so the same policy value can be
// shared across every concurrently running job.
package retrypolicy

import (
	"time"

	"dubforge/internal/config"
	"dubforge/internal/job"
	"dubforge/internal/services"
)

// Action is the policy's verdict for one failed attempt.
type Action string

const (
	// ActionRetry re-invokes the same stage after Delay.
	ActionRetry Action = "retry"
	// ActionFallback downgrades the track to end-to-end animation for one
	// final attempt. Only ever issued for the animation stage under
	// structural mode.
	ActionFallback Action = "fallback"
	// ActionEscalate parks the track for human review.
	ActionEscalate Action = "escalate"
	// ActionFail marks the track failed.
	ActionFail Action = "fail"
)

// Decision carries the action plus the backoff delay for retries and the mode
// to apply for fallbacks.
type Decision struct {
	Action Action
	Delay  time.Duration
	Mode   job.QualityMode
	Reason string
}

// Input describes one failed attempt.
type Input struct {
	Stage job.Stage
	// Err is the stage error; its taxonomy marker decides retryability.
	// Nil for quality-gate rejections, which are retryable by definition.
	Err error
	// Retries is the number of retries already consumed for this stage on
	// this track (attempt N means Retries == N-1).
	Retries int
	Mode    job.QualityMode
	// QualityGate marks a below-threshold quality result, which retries the
	// animation stage and may escalate instead of failing.
	QualityGate        bool
	RequireHumanReview bool
}

// Policy holds the configured retry bounds and backoff curve.
type Policy struct {
	MaxPerStage       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

// FromConfig builds a Policy from the loaded configuration.
func FromConfig(cfg config.Retry) Policy {
	return Policy{
		MaxPerStage:       cfg.MaxPerStage,
		BackoffBase:       time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
		BackoffMultiplier: cfg.BackoffMultiplier,
		BackoffMax:        time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
	}
}

// Decide maps one failed attempt to the next action.
func (p Policy) Decide(in Input) Decision {
	if in.Err != nil && services.IsFatal(in.Err) {
		return Decision{Action: ActionFail, Reason: services.Details(in.Err).Message}
	}

	if in.Err != nil && services.ClassifyKind(in.Err) == services.KindLowConfidence {
		// Low transcription confidence gets exactly one bounded retry, and
		// only on the transcription stage itself.
		if in.Stage == job.StageTranscribe && in.Retries < 1 {
			return Decision{Action: ActionRetry, Delay: p.BackoffDelay(in.Retries)}
		}
		return Decision{Action: ActionFail, Reason: services.Details(in.Err).Message}
	}

	if in.Retries < p.MaxPerStage {
		return Decision{Action: ActionRetry, Delay: p.BackoffDelay(in.Retries)}
	}

	// Retry budget exhausted.
	if in.Stage == job.StageAnimate && in.Mode == job.ModeStructural {
		// End-to-end synthesis tolerates inputs the structural model cannot
		// handle; spend one final attempt there before giving up.
		return Decision{
			Action: ActionFallback,
			Delay:  p.BackoffDelay(in.Retries),
			Mode:   job.ModeEndToEnd,
			Reason: "structural animation retries exhausted",
		}
	}

	if in.QualityGate && in.RequireHumanReview {
		return Decision{Action: ActionEscalate, Reason: "quality retries exhausted, review requested"}
	}

	reason := "retry budget exhausted"
	if in.Err != nil {
		reason = services.Details(in.Err).Message
	}
	return Decision{Action: ActionFail, Reason: reason}
}

// BackoffDelay returns the exponential backoff delay before retry number
// retries+1: base, base*m, base*m^2, ... capped at BackoffMax.
func (p Policy) BackoffDelay(retries int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	multiplier := p.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.BackoffBase)
	for i := 0; i < retries; i++ {
		delay *= multiplier
		if p.BackoffMax > 0 && delay >= float64(p.BackoffMax) {
			return p.BackoffMax
		}
	}
	capped := time.Duration(delay)
	if p.BackoffMax > 0 && capped > p.BackoffMax {
		return p.BackoffMax
	}
	return capped
}
