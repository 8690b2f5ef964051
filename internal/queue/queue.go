// Package queue implements the durable work queue for Midnight.
//
// The queue hands out lease-based ownership: Dequeue is the only operation
// that creates a lease, and Ack/Requeue/Extend refuse to act for a caller
// whose lease is unknown or expired. Multiple factory instances may share
// one queue; the lease is the sole concurrency-safety device between them.
package queue

import (
	"errors"
	"time"

	"github.com/fentz26/midnight/internal/models"
	"github.com/fentz26/midnight/internal/store"
)

// ErrLeaseExpired signals that the caller no longer owns the task and must
// abort its current cycle without further mutation.
var ErrLeaseExpired = store.ErrLeaseExpired

// Queue is a lease-based durable work queue over the SQLite store.
type Queue struct {
	store    *store.Store
	holderID string
	ttlSec   int
}

// New creates a queue handle for one holder. ttlSec is the lease TTL
// granted on dequeue; it must exceed the worst-case actor+sentinel round
// trip for one task.
func New(s *store.Store, holderID string, ttlSec int) *Queue {
	return &Queue{store: s, holderID: holderID, ttlSec: ttlSec}
}

// Enqueue adds a new pending task.
func (q *Queue) Enqueue(description, scope string, priority int) (*models.Task, error) {
	return q.store.CreateTask(description, scope, priority)
}

// Dequeue leases the next ready task to this holder. Ordering is FIFO with
// priority as a tie-break; tasks inside a retry backoff window are skipped.
// Returns nil, nil, nil when the queue is empty.
func (q *Queue) Dequeue() (*models.Task, *models.Lease, error) {
	return q.store.LeaseNextTask(q.holderID, q.ttlSec)
}

// Ack removes the lease, marking the task done at the queue level. The
// task's terminal status must already be written by the caller.
func (q *Queue) Ack(leaseID string) error {
	return q.store.AckLease(leaseID)
}

// Requeue returns the task behind the lease to pending, preserving the
// attempt count already set by the caller, with a backoff window before
// it becomes ready again.
func (q *Queue) Requeue(leaseID string, attempt int, backoff time.Duration) error {
	return q.store.RequeueLease(leaseID, attempt, backoff)
}

// Extend renews the lease TTL.
func (q *Queue) Extend(leaseID string) error {
	return q.store.ExtendLease(leaseID, q.ttlSec)
}

// IsExpired reports whether err means the lease is gone and the cycle must
// abort.
func IsExpired(err error) bool {
	return errors.Is(err, ErrLeaseExpired)
}
