// Package logging wires log/slog with the handlers and helpers shared across
// the daemon: a human-oriented console handler, a JSON handler for machine
// consumption, typed attribute constructors, standardized field names, and
// context-derived fields (job, language, stage, correlation id).
package logging
