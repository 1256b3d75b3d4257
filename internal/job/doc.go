// Package job defines the dubbing pipeline data model: the Job lifecycle, the
// per-language LanguageTrack sub-lifecycle, immutable StageResult attempt
// records, and the QualityMetric tuple evaluated by the quality gate.
//
// A Job moves through the pre-fanout stages (ethics check, transcription) as a
// single unit, then fans out into one LanguageTrack per target language. Tracks
// progress independently through translation, synthesis, animation, and quality
// checking; the job reaches a terminal status only after every track has.
//
// Entities here are plain data. All mutation is confined to the pipeline
// runner that owns the job; other components only ever see deep copies
// produced by Clone.
package job
