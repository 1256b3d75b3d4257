package stageclient

import "dubforge/internal/job"

// ProgressFunc receives fractional stage progress in [0,1] while an
// asynchronous stage call runs.
type ProgressFunc func(fraction float64)

// Request is a tagged union over the per-stage payloads. Exactly one payload
// pointer must be set; it selects the target service and endpoint.
type Request struct {
	JobID    string
	Language string

	Ethics       *EthicsRequest
	Transcribe   *TranscribeRequest
	Translate    *TranslateRequest
	Synthesize   *SynthesizeRequest
	Animate      *AnimateRequest
	QualityCheck *QualityCheckRequest
	Watermark    *WatermarkRequest
}

// Result carries the payload matching the request's stage.
type Result struct {
	Ethics       *EthicsResult
	Transcribe   *TranscribeResult
	Translate    *TranslateResult
	Synthesize   *SynthesizeResult
	Animate      *AnimateResult
	QualityCheck *QualityCheckResult
	Watermark    *WatermarkResult
}

// EthicsRequest asks the ethics service whether consent covers this use.
type EthicsRequest struct {
	VideoPath       string   `json:"video_path"`
	UserID          string   `json:"user_id,omitempty"`
	TargetLanguages []string `json:"target_languages"`
}

// EthicsResult reports the consent decision.
type EthicsResult struct {
	ConsentVerified bool   `json:"consent_verified"`
	Reason          string `json:"reason,omitempty"`
}

// WatermarkRequest asks the ethics service to embed a provenance watermark.
type WatermarkRequest struct {
	VideoPath string `json:"video_path"`
}

// WatermarkResult returns the watermarked artifact location.
type WatermarkResult struct {
	VideoPath string `json:"video_path"`
}

// TranscribeRequest is the speech recognition input.
type TranscribeRequest struct {
	AudioPath      string `json:"audio_path"`
	Language       string `json:"language,omitempty"`
	ReturnSegments bool   `json:"return_segments"`
}

// TranscriptSegment is one timed span of recognized speech.
type TranscriptSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// TranscribeResult is the speech recognition output.
type TranscribeResult struct {
	Text               string              `json:"text"`
	Language           string              `json:"language"`
	LanguageConfidence float64             `json:"language_confidence"`
	Segments           []TranscriptSegment `json:"segments,omitempty"`
	TranscriptRef      string              `json:"transcript_ref,omitempty"`
}

// TranslateRequest is the text translation input.
type TranslateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Context        string `json:"context,omitempty"`
}

// TranslateResult is the text translation output.
type TranslateResult struct {
	TranslatedText  string  `json:"translated_text"`
	ConfidenceScore float64 `json:"confidence_score"`
	BLEUScore       float64 `json:"bleu_score,omitempty"`
	TranslationRef  string  `json:"translation_ref,omitempty"`
}

// SynthesizeRequest is the speech synthesis input.
type SynthesizeRequest struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	SpeakerWav string  `json:"speaker_wav,omitempty"`
	Emotion    string  `json:"emotion,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
}

// SynthesizeResult is the speech synthesis output.
type SynthesizeResult struct {
	AudioPath         string  `json:"audio_path"`
	Duration          float64 `json:"duration"`
	SampleRate        int     `json:"sample_rate"`
	SpeakerSimilarity float64 `json:"speaker_similarity,omitempty"`
}

// AnimateRequest is the facial re-animation input. Mode selects the
// structural or end-to-end backend.
type AnimateRequest struct {
	VideoPath          string          `json:"video_path"`
	AudioPath          string          `json:"audio_path"`
	Mode               job.QualityMode `json:"mode"`
	PreservePose       bool            `json:"preserve_pose"`
	PreserveExpression bool            `json:"preserve_expression"`
}

// AnimateResult is the facial re-animation output.
type AnimateResult struct {
	OutputVideoPath string  `json:"output_video_path"`
	Duration        float64 `json:"duration"`
	FPS             float64 `json:"fps"`
}

// QualityCheckRequest is the quality assessment input.
type QualityCheckRequest struct {
	VideoPath          string `json:"video_path"`
	ReferenceVideoPath string `json:"reference_video_path"`
	AudioPath          string `json:"audio_path"`
	TranslatedText     string `json:"translated_text"`
	ReferenceText      string `json:"reference_text,omitempty"`
	TargetLanguage     string `json:"target_language"`
}

// QualityCheckResult carries the raw quality metrics. Thresholding happens in
// the quality gate, not here.
type QualityCheckResult struct {
	LipSync       float64 `json:"lse_c"`
	FID           float64 `json:"fid"`
	AUCorrelation float64 `json:"au_correlation"`
	BLEU          float64 `json:"bleu"`
}

// Metric converts a quality check result into the job-level metric tuple.
func (r *QualityCheckResult) Metric() job.QualityMetric {
	return job.QualityMetric{
		LipSync:       r.LipSync,
		FID:           r.FID,
		AUCorrelation: r.AUCorrelation,
		BLEU:          r.BLEU,
	}
}

// Stage reports which pipeline stage this request targets.
func (r Request) Stage() job.Stage {
	switch {
	case r.Ethics != nil, r.Watermark != nil:
		return job.StageEthics
	case r.Transcribe != nil:
		return job.StageTranscribe
	case r.Translate != nil:
		return job.StageTranslate
	case r.Synthesize != nil:
		return job.StageSynthesize
	case r.Animate != nil:
		return job.StageAnimate
	case r.QualityCheck != nil:
		return job.StageQualityCheck
	default:
		return ""
	}
}
