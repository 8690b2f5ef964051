// Package agent defines the actor and sentinel capabilities for Midnight.
//
// Roles are capability interfaces with the model tier and reasoning effort
// injected at construction. Agents are stateless across invocations: any
// memory of prior attempts arrives explicitly as feedback from the
// orchestrator.
package agent

import (
	"context"
	"errors"

	"github.com/fentz26/midnight/internal/models"
)

// ErrAgent wraps provider and timeout failures during act or review. The
// orchestrator treats it identically to a failed quality review for retry
// counting.
var ErrAgent = errors.New("agent call failed")

// Actor produces a candidate result for one acting attempt.
type Actor interface {
	Act(ctx context.Context, task *models.Task, feedback string) (*models.CandidateResult, error)
}

// Sentinel scores a candidate for quality. It produces a score only; the
// pass/fail decision against the threshold belongs to the orchestrator.
type Sentinel interface {
	Review(ctx context.Context, task *models.Task, cand *models.CandidateResult) (*models.QualityReview, error)
}
