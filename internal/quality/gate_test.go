package quality_test

import (
	"strings"
	"testing"

	"dubforge/internal/config"
	"dubforge/internal/job"
	"dubforge/internal/quality"
)

func defaultThresholds() quality.Thresholds {
	return quality.FromConfig(config.Default().Quality)
}

func TestEvaluateAllWithinThresholds(t *testing.T) {
	d := quality.Evaluate(defaultThresholds(), job.QualityMetric{
		LipSync:       0.90,
		FID:           10,
		AUCorrelation: 0.80,
		BLEU:          40,
	})
	if !d.Passed {
		t.Fatalf("expected pass, failures: %v", d.Failures)
	}
	if d.OverallScore <= 0 || d.OverallScore > 1 {
		t.Fatalf("overall score out of range: %v", d.OverallScore)
	}
	if d.Reason() != "" {
		t.Fatalf("passing decision must have empty reason, got %q", d.Reason())
	}
}

func TestEvaluateSingleMetricFailsGate(t *testing.T) {
	tests := []struct {
		name   string
		metric job.QualityMetric
		expect string
	}{
		{
			// Strong everything except FID: the composite would look fine,
			// but the gate must still fail.
			name:   "fid alone",
			metric: job.QualityMetric{LipSync: 0.95, FID: 20, AUCorrelation: 0.90, BLEU: 50},
			expect: "fid=",
		},
		{
			name:   "lip sync alone",
			metric: job.QualityMetric{LipSync: 0.70, FID: 5, AUCorrelation: 0.90, BLEU: 50},
			expect: "lse_c=",
		},
		{
			name:   "au correlation alone",
			metric: job.QualityMetric{LipSync: 0.95, FID: 5, AUCorrelation: 0.50, BLEU: 50},
			expect: "au_correlation=",
		},
		{
			name:   "bleu alone",
			metric: job.QualityMetric{LipSync: 0.95, FID: 5, AUCorrelation: 0.90, BLEU: 20},
			expect: "bleu=",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := quality.Evaluate(defaultThresholds(), tc.metric)
			if d.Passed {
				t.Fatal("expected gate failure")
			}
			if len(d.Failures) != 1 {
				t.Fatalf("expected exactly one failing metric, got %v", d.Failures)
			}
			if !strings.Contains(d.Failures[0], tc.expect) {
				t.Fatalf("expected failure mentioning %q, got %q", tc.expect, d.Failures[0])
			}
			if !strings.Contains(d.Reason(), "below quality threshold") {
				t.Fatalf("unexpected reason %q", d.Reason())
			}
		})
	}
}

func TestEvaluateBoundaryValuesPass(t *testing.T) {
	th := defaultThresholds()
	d := quality.Evaluate(th, job.QualityMetric{
		LipSync:       th.MinLipSync,
		FID:           th.MaxFID,
		AUCorrelation: th.MinAUCorrelation,
		BLEU:          th.MinBLEU,
	})
	if !d.Passed {
		t.Fatalf("thresholds are inclusive, failures: %v", d.Failures)
	}
}

func TestOverallScoreIgnoredForDecision(t *testing.T) {
	th := defaultThresholds()
	// A tuple engineered for a high composite but an out-of-range FID.
	d := quality.Evaluate(th, job.QualityMetric{LipSync: 1.0, FID: 16, AUCorrelation: 1.0, BLEU: 100})
	if d.Passed {
		t.Fatal("composite score must never rescue a failing metric")
	}
	if d.OverallScore < 0.8 {
		t.Fatalf("expected high composite for reporting, got %v", d.OverallScore)
	}
}

func TestZeroWeightsYieldZeroScore(t *testing.T) {
	th := quality.Thresholds{MinLipSync: 0.85, MaxFID: 15, MinAUCorrelation: 0.75, MinBLEU: 35}
	d := quality.Evaluate(th, job.QualityMetric{LipSync: 0.9, FID: 10, AUCorrelation: 0.8, BLEU: 40})
	if d.OverallScore != 0 {
		t.Fatalf("expected zero score without weights, got %v", d.OverallScore)
	}
	if !d.Passed {
		t.Fatal("decision must not depend on weights")
	}
}
