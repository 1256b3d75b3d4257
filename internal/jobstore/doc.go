// Package jobstore persists dubbing jobs in SQLite so job history and
// in-flight state survive daemon restarts.
package jobstore
