// Package preflight provides readiness checks for the stage services
// and filesystem paths the daemon depends on.
//
// The daemon runs RunAll at startup and logs a warning per failed check
// rather than refusing to start: stage services may come up after the
// daemon, and jobs submitted in the meantime simply wait in the queue.
package preflight
