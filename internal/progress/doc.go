// Package progress aggregates per-stage progress into a single monotonic
// per-job figure and fans live snapshots out to subscribers.
package progress
