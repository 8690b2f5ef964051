package factory

import "errors"

// Error taxonomy for the autonomous loop. Agent and quality failures are
// absorbed by the orchestrator's retry logic and never propagate past it
// except as an attempt-count increment; escalation surfaces to the task
// source as a status change, not a process failure.
var (
	// ErrQuality marks a review score below the quality threshold. It is
	// recoverable, counted as a failed attempt, and carries the review
	// notes forward as feedback to the next act call.
	ErrQuality = errors.New("quality below threshold")

	// ErrEscalated marks a task whose retry bound is exhausted. Terminal
	// for the autonomous loop; never auto-retried.
	ErrEscalated = errors.New("retry bound exhausted")
)
