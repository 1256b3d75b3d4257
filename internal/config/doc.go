// Package config loads, validates, and normalizes the TOML configuration that
// drives the daemon: stage service endpoints and timeouts, quality gate
// thresholds, retry/backoff policy, scheduler concurrency, notification
// settings, and logging options. Defaults live in defaults.go; the embedded
// sample_config.toml documents every key for `dubforge config init`.
package config
