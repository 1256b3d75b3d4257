// Package quality implements the quality gate: a pure decision function that
// checks a metrics tuple against configured thresholds. All four thresholds
// are independently mandatory; one weak metric fails the gate no matter how
// strong the others are. The weighted overall score exists for ranking and
// reporting only and never influences the pass/fail decision.
package quality

import (
	"fmt"
	"strings"

	"dubforge/internal/config"
	"dubforge/internal/job"
)

// Thresholds holds the quality gate limits and the overall-score weights.
type Thresholds struct {
	MinLipSync       float64
	MaxFID           float64
	MinAUCorrelation float64
	MinBLEU          float64

	LipSyncWeight float64
	FIDWeight     float64
	AUWeight      float64
	BLEUWeight    float64
}

// FromConfig builds Thresholds from the loaded configuration.
func FromConfig(cfg config.Quality) Thresholds {
	return Thresholds{
		MinLipSync:       cfg.MinLipSync,
		MaxFID:           cfg.MaxFID,
		MinAUCorrelation: cfg.MinAUCorrelation,
		MinBLEU:          cfg.MinBLEU,
		LipSyncWeight:    cfg.LipSyncWeight,
		FIDWeight:        cfg.FIDWeight,
		AUWeight:         cfg.AUWeight,
		BLEUWeight:       cfg.BLEUWeight,
	}
}

// Decision is the gate's verdict for one metrics tuple.
type Decision struct {
	Passed       bool
	OverallScore float64
	// Failures lists the metrics outside their thresholds, as
	// "metric=value (limit)" strings for logs and review reasons.
	Failures []string
}

// Reason renders the failure list as one human-readable string.
func (d Decision) Reason() string {
	if d.Passed || len(d.Failures) == 0 {
		return ""
	}
	return "below quality threshold: " + strings.Join(d.Failures, ", ")
}

// Evaluate checks a metrics tuple against the thresholds. The input metric is
// not mutated; callers stamp Passed/OverallScore onto their own copy.
func Evaluate(t Thresholds, m job.QualityMetric) Decision {
	d := Decision{OverallScore: overallScore(t, m)}
	if m.LipSync < t.MinLipSync {
		d.Failures = append(d.Failures, fmt.Sprintf("lse_c=%.2f (min %.2f)", m.LipSync, t.MinLipSync))
	}
	if m.FID > t.MaxFID {
		d.Failures = append(d.Failures, fmt.Sprintf("fid=%.1f (max %.1f)", m.FID, t.MaxFID))
	}
	if m.AUCorrelation < t.MinAUCorrelation {
		d.Failures = append(d.Failures, fmt.Sprintf("au_correlation=%.2f (min %.2f)", m.AUCorrelation, t.MinAUCorrelation))
	}
	if m.BLEU < t.MinBLEU {
		d.Failures = append(d.Failures, fmt.Sprintf("bleu=%.1f (min %.1f)", m.BLEU, t.MinBLEU))
	}
	d.Passed = len(d.Failures) == 0
	return d
}

// overallScore computes the weighted composite used for reporting. Each metric
// is normalized to [0,1] against its threshold before weighting; FID inverts
// because lower is better.
func overallScore(t Thresholds, m job.QualityMetric) float64 {
	totalWeight := t.LipSyncWeight + t.FIDWeight + t.AUWeight + t.BLEUWeight
	if totalWeight <= 0 {
		return 0
	}
	score := t.LipSyncWeight * clamp01(m.LipSync)
	if t.MaxFID > 0 {
		score += t.FIDWeight * clamp01(1-m.FID/(2*t.MaxFID))
	}
	score += t.AUWeight * clamp01(m.AUCorrelation)
	score += t.BLEUWeight * clamp01(m.BLEU/100)
	return score / totalWeight
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
