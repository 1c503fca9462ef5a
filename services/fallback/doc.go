// Package fallback decides which backend model serves a request, how to ride
// out transient provider failures, and when to give up.
//
// This package provides:
//   - Error classification (transient / unavailable / fatal)
//   - Candidate selection from a priority list and an optional enabled-model set
//   - Per-candidate retries with monotonic backoff
//   - Serialized fallback across candidates with an append-only attempt log
//   - A structured report for exhausted runs
//
// Attempts are never issued concurrently. Nothing is shared between calls to
// Orchestrator.Run, so one Orchestrator may serve many requests at once.
package fallback
