// Package models defines the core domain types for Midnight.
package models

import "time"

// TaskStatus represents the current state of a task in the factory.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusLeased    TaskStatus = "leased"
	TaskStatusActing    TaskStatus = "acting"
	TaskStatusReviewing TaskStatus = "reviewing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusEscalated TaskStatus = "escalated"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status ends the autonomous loop for a task.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusEscalated || s == TaskStatusCancelled
}

// Transient reports whether the status describes mid-cycle work that must
// not be trusted as durable ground truth across a restart.
func (s TaskStatus) Transient() bool {
	return s == TaskStatusActing || s == TaskStatusReviewing
}

// Task represents one unit of autonomous work.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Scope       string     `json:"scope,omitempty"` // affected files or area
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	Attempt     int        `json:"attempt"`
	LastScore   *int       `json:"last_score,omitempty"`
	LastNotes   string     `json:"last_notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Lease represents a temporary ownership grant over a task with TTL.
// Exactly one lease may be outstanding per task at any time.
type Lease struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	HolderID  string    `json:"holder_id"`
	TTLSec    int       `json:"ttl_sec"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the lease TTL has elapsed at the given instant.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// CandidateResult is the actor's output for one acting attempt. It lives
// only for the attempt that produced it; the accepted candidate is stored
// once a task completes so resubmission can return it without re-running.
type CandidateResult struct {
	TaskID       string `json:"task_id"`
	Attempt      int    `json:"attempt"`
	Payload      string `json:"payload"`
	Rationale    string `json:"rationale,omitempty"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// QualityReview is the sentinel's verdict on one candidate. Immutable once
// produced; the pass/fail decision against the threshold belongs to the
// orchestrator, not the sentinel.
type QualityReview struct {
	TaskID   string `json:"task_id"`
	Attempt  int    `json:"attempt"`
	Score    int    `json:"score"` // 0..100
	Notes    string `json:"notes,omitempty"`
	Reviewer string `json:"reviewer"`
}

// AttemptOutcome classifies how one acting attempt ended.
type AttemptOutcome string

const (
	OutcomeAccepted  AttemptOutcome = "accepted"
	OutcomeRejected  AttemptOutcome = "rejected" // score below threshold
	OutcomeError     AttemptOutcome = "error"    // agent or apply failure
	OutcomeEscalated AttemptOutcome = "escalated"
)

// AttemptRecord is the durable trace of one acting attempt.
type AttemptRecord struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Attempt   int            `json:"attempt"`
	Outcome   AttemptOutcome `json:"outcome"`
	Score     *int           `json:"score,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// SnapshotMeta identifies one stored snapshot.
type SnapshotMeta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Capture is the content of a snapshot: every non-terminal task known to
// the factory at one instant, queue order included.
type Capture struct {
	TakenAt time.Time `json:"taken_at"`
	Tasks   []Task    `json:"tasks"`
}

// Decision is one audit-log entry for a state-mutating factory action.
type Decision struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
