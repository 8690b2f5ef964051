// Package factory implements the autonomous development-factory core:
// the per-task orchestration state machine and the background service
// that hosts it.
package factory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fentz26/midnight/internal/agent"
	"github.com/fentz26/midnight/internal/apply"
	"github.com/fentz26/midnight/internal/audit"
	"github.com/fentz26/midnight/internal/config"
	"github.com/fentz26/midnight/internal/models"
	"github.com/fentz26/midnight/internal/queue"
	"github.com/fentz26/midnight/internal/store"
)

// Orchestrator drives one leased task through acting and reviewing to an
// accept, retry or escalate decision.
//
// Transitions per cycle: acting -> reviewing -> completed when the review
// score clears the threshold (inclusive); otherwise the attempt count is
// incremented and the task is requeued for retry, or escalated once the
// increment would exceed the retry bound. An agent failure counts exactly
// like a failed review. Cancellation is observed between, never during,
// agent calls.
type Orchestrator struct {
	store    *store.Store
	queue    *queue.Queue
	actor    agent.Actor
	sentinel agent.Sentinel
	applier  apply.Applier
	audit    *audit.Writer
	cfg      *config.Config
}

// NewOrchestrator wires the orchestration state machine.
func NewOrchestrator(s *store.Store, q *queue.Queue, actor agent.Actor, sentinel agent.Sentinel, applier apply.Applier, aud *audit.Writer, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:    s,
		queue:    q,
		actor:    actor,
		sentinel: sentinel,
		applier:  applier,
		audit:    aud,
		cfg:      cfg,
	}
}

// CycleOutcome is the terminal-for-this-cycle state of one orchestration
// pass.
type CycleOutcome string

const (
	CycleCompleted CycleOutcome = "completed"
	CycleRetried   CycleOutcome = "retried"
	CycleEscalated CycleOutcome = "escalated"
	CycleCancelled CycleOutcome = "cancelled"
	CycleAborted   CycleOutcome = "aborted" // lease lost, another cycle owns the task
)

// Run drives the leased task to a terminal-for-this-cycle state. ctx only
// gates the checkpoints between agent calls; an in-flight agent call runs
// to completion or its own timeout so the provider call is never left in
// an unobservable state.
func (o *Orchestrator) Run(ctx context.Context, task *models.Task, lease *models.Lease) (CycleOutcome, error) {
	started := time.Now().UTC()

	if cancelled, err := o.checkCancelled(task.ID); err != nil {
		return CycleAborted, err
	} else if cancelled {
		return o.releaseCancelled(task, lease)
	}

	if err := o.store.TransitionTaskStatus(task.ID, models.TaskStatusActing, models.TaskStatusLeased); err != nil {
		if errors.Is(err, store.ErrTaskConflict) {
			return o.releaseCancelled(task, lease)
		}
		return CycleAborted, err
	}

	// Feedback from the prior rejected attempt, if any, is passed back
	// explicitly; the actor holds no memory of its own.
	candidate, err := o.act(task)
	if err != nil {
		log.Printf("Task %s attempt failed in acting: %v", task.ID, err)
		return o.failAttempt(task, lease, started, nil, err.Error())
	}

	// Cancellation checkpoint between the two agent calls.
	if cancelled, err := o.checkCancelled(task.ID); err != nil {
		return CycleAborted, err
	} else if cancelled {
		return o.releaseCancelled(task, lease)
	}
	if err := ctx.Err(); err != nil {
		// Service shutdown: hand the attempt back untouched.
		if qerr := o.queue.Requeue(lease.ID, task.Attempt, 0); qerr != nil && !queue.IsExpired(qerr) {
			return CycleAborted, qerr
		}
		return CycleAborted, err
	}

	if err := o.store.TransitionTaskStatus(task.ID, models.TaskStatusReviewing, models.TaskStatusActing); err != nil {
		if errors.Is(err, store.ErrTaskConflict) {
			return o.releaseCancelled(task, lease)
		}
		return CycleAborted, err
	}

	review, err := o.review(task, candidate)
	if err != nil {
		log.Printf("Task %s attempt failed in reviewing: %v", task.ID, err)
		return o.failAttempt(task, lease, started, nil, err.Error())
	}

	// A cancellation that landed during the review window must win over
	// the verdict: no accept, no retry, no further agent calls.
	if cancelled, err := o.checkCancelled(task.ID); err != nil {
		return CycleAborted, err
	} else if cancelled {
		return o.releaseCancelled(task, lease)
	}

	if err := o.store.SaveReview(review); err != nil {
		return CycleAborted, err
	}
	if err := o.store.SetTaskFeedback(task.ID, review.Score, review.Notes); err != nil {
		return CycleAborted, err
	}

	// Threshold is inclusive: score == threshold accepts.
	if review.Score < o.cfg.QualityThreshold {
		reason := fmt.Sprintf("%v: score %d < %d", ErrQuality, review.Score, o.cfg.QualityThreshold)
		return o.failAttempt(task, lease, started, &review.Score, reason)
	}

	return o.accept(ctx, task, lease, started, candidate, review)
}

// act invokes the actor under its own timeout.
func (o *Orchestrator) act(task *models.Task) (*models.CandidateResult, error) {
	callCtx, cancel := context.WithTimeout(context.Background(), o.cfg.AgentTimeout())
	defer cancel()
	return o.actor.Act(callCtx, task, task.LastNotes)
}

// review invokes the sentinel under its own timeout.
func (o *Orchestrator) review(task *models.Task, cand *models.CandidateResult) (*models.QualityReview, error) {
	callCtx, cancel := context.WithTimeout(context.Background(), o.cfg.AgentTimeout())
	defer cancel()
	return o.sentinel.Review(callCtx, task, cand)
}

// accept lands the candidate and completes the task. The lease is
// re-proven and extended before anything is applied, and not acked until
// the apply collaborator acknowledges, so a crash in between re-runs the
// attempt; the idempotency key makes the re-apply safe.
func (o *Orchestrator) accept(ctx context.Context, task *models.Task, lease *models.Lease, started time.Time, candidate *models.CandidateResult, review *models.QualityReview) (CycleOutcome, error) {
	if err := o.queue.Extend(lease.ID); err != nil {
		if queue.IsExpired(err) {
			log.Printf("Task %s lease lost before accept; another cycle owns it", task.ID)
			return CycleAborted, nil
		}
		return CycleAborted, err
	}

	key := fmt.Sprintf("%s:%d", task.ID, task.Attempt)
	if err := o.applier.Apply(ctx, key, candidate); err != nil {
		log.Printf("Task %s apply failed: %v", task.ID, err)
		return o.failAttempt(task, lease, started, &review.Score, fmt.Sprintf("apply: %v", err))
	}

	if err := o.store.SaveResult(candidate); err != nil {
		return CycleAborted, err
	}
	if err := o.store.TransitionTaskStatus(task.ID, models.TaskStatusCompleted, models.TaskStatusReviewing); err != nil {
		if errors.Is(err, store.ErrTaskConflict) {
			return o.releaseCancelled(task, lease)
		}
		return CycleAborted, err
	}
	if err := o.queue.Ack(lease.ID); err != nil {
		if queue.IsExpired(err) {
			log.Printf("Task %s lease lost at ack; another cycle owns it", task.ID)
			return CycleAborted, nil
		}
		return CycleAborted, err
	}

	o.recordAttempt(task, started, models.OutcomeAccepted, &review.Score, "")
	o.recordDecision("task.accept", map[string]interface{}{"task_id": task.ID, "attempt": task.Attempt, "score": review.Score}, "success", task.ID, "")
	log.Printf("Task %s completed (score %d, attempt %d)", task.ID, review.Score, task.Attempt)
	return CycleCompleted, nil
}

// failAttempt applies the retry-or-escalate policy for a failed attempt:
// the attempt count increments, and the increment past the retry bound
// escalates. With maxRetries=3 the fourth failed attempt escalates.
func (o *Orchestrator) failAttempt(task *models.Task, lease *models.Lease, started time.Time, score *int, reason string) (CycleOutcome, error) {
	// Cancellation wins over the retry-or-escalate decision.
	if cancelled, err := o.checkCancelled(task.ID); err != nil {
		return CycleAborted, err
	} else if cancelled {
		return o.releaseCancelled(task, lease)
	}

	next := task.Attempt + 1

	if next > o.cfg.MaxRetries {
		return o.escalate(task, lease, started, next, score, reason)
	}

	outcome := models.OutcomeError
	if score != nil {
		outcome = models.OutcomeRejected
	}
	o.recordAttempt(task, started, outcome, score, reason)

	backoff := o.cfg.Backoff(next)
	if err := o.queue.Requeue(lease.ID, next, backoff); err != nil {
		if queue.IsExpired(err) {
			log.Printf("Task %s lease lost at requeue; another cycle owns it", task.ID)
			return CycleAborted, nil
		}
		return CycleAborted, err
	}

	o.recordDecision("task.retry", map[string]interface{}{"task_id": task.ID, "attempt": next, "backoff_ms": backoff.Milliseconds()}, "retry", task.ID, reason)
	log.Printf("Task %s retrying (attempt %d, backoff %s): %s", task.ID, next, backoff, reason)
	return CycleRetried, nil
}

// escalate removes the task from the autonomous loop for manual
// disposition. The last review notes stay on the task row as the
// externally visible failure signal.
func (o *Orchestrator) escalate(task *models.Task, lease *models.Lease, started time.Time, attempt int, score *int, reason string) (CycleOutcome, error) {
	if err := o.queue.Ack(lease.ID); err != nil {
		if queue.IsExpired(err) {
			log.Printf("Task %s lease lost at escalation; another cycle owns it", task.ID)
			return CycleAborted, nil
		}
		return CycleAborted, err
	}

	if err := o.store.TransitionTaskStatus(task.ID, models.TaskStatusEscalated, models.TaskStatusActing, models.TaskStatusReviewing); err != nil {
		if errors.Is(err, store.ErrTaskConflict) {
			log.Printf("Task %s cancelled at escalation; leaving it cancelled", task.ID)
			return CycleCancelled, nil
		}
		return CycleAborted, err
	}
	if err := o.store.SetTaskAttempt(task.ID, attempt); err != nil {
		return CycleAborted, err
	}

	o.recordAttempt(task, started, models.OutcomeEscalated, score, reason)
	o.recordDecision("task.escalate", map[string]interface{}{"task_id": task.ID, "attempt": attempt}, "escalated", task.ID, reason)
	log.Printf("Task %s escalated after attempt %d: %v: %s", task.ID, attempt, ErrEscalated, reason)
	return CycleEscalated, nil
}

// checkCancelled reloads the task and reports an external cancellation
// signal.
func (o *Orchestrator) checkCancelled(taskID string) (bool, error) {
	current, err := o.store.GetTask(taskID)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, store.ErrTaskNotFound
	}
	return current.Status == models.TaskStatusCancelled, nil
}

// releaseCancelled drops the lease immediately without further agent
// calls. The cancelled status was already written by the task source.
func (o *Orchestrator) releaseCancelled(task *models.Task, lease *models.Lease) (CycleOutcome, error) {
	if err := o.store.DeleteLease(lease.ID); err != nil {
		return CycleAborted, err
	}
	o.recordDecision("task.cancel.observe", map[string]interface{}{"task_id": task.ID}, "cancelled", task.ID, "")
	log.Printf("Task %s cancelled; lease released", task.ID)
	return CycleCancelled, nil
}

func (o *Orchestrator) recordDecision(action string, inputs map[string]interface{}, outcome, taskID, details string) {
	if _, err := o.audit.Record(action, inputs, outcome, taskID, details); err != nil {
		log.Printf("Error recording decision %s for task %s: %v", action, taskID, err)
	}
}

func (o *Orchestrator) recordAttempt(task *models.Task, started time.Time, outcome models.AttemptOutcome, score *int, errMsg string) {
	rec := &models.AttemptRecord{
		TaskID:    task.ID,
		Attempt:   task.Attempt,
		Outcome:   outcome,
		Score:     score,
		Error:     errMsg,
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
	}
	if err := o.store.RecordAttempt(rec); err != nil {
		log.Printf("Error recording attempt for task %s: %v", task.ID, err)
	}
}
