// Package apply defines the boundary to the collaborator that lands an
// accepted candidate (e.g. the editing engine).
package apply

import (
	"context"

	"github.com/fentz26/midnight/internal/models"
)

// Applier receives an accepted candidate together with an idempotency key
// (task id + attempt). The factory may invoke Apply more than once for the
// same accepted result after a crash between acceptance and ack, so
// implementations must be safe to re-run per key.
type Applier interface {
	// Name returns the applier identifier.
	Name() string

	// Apply lands the accepted candidate. A failure is surfaced to the
	// orchestrator as a failed attempt.
	Apply(ctx context.Context, key string, res *models.CandidateResult) error
}
