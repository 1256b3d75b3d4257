// Package ethics implements the safeguards attached to synthetic media
// generation: consent gating, a per-job provenance chain, and watermarking of
// delivered outputs.
package ethics
