// Package pipeline implements the per-job state machine: consent gating and
// transcription, fan-out into parallel per-language tracks, quality gating
// with bounded retries and the structural-to-end-to-end fallback, human
// review holds, and the fan-in terminal transition.
//
// Each Runner exclusively owns its job. Observers never touch the live job;
// they consume deep-cloned snapshots published through the progress tracker
// after every transition.
package pipeline
