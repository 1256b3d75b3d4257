// Package services defines shared utilities consumed by the pipeline state
// machine and the stage service clients.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, track languages, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate stage
//     failures into consistent outcome classifications (retryable vs fatal).
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
