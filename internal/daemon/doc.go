// Package daemon runs the dubforge background process: it enforces
// single-instance execution with a lock file, owns the scheduler lifecycle,
// and serves the HTTP API used by the CLI and external callers.
package daemon
