// Package controlplane provides the HTTP API and service layer for the
// Midnight task source: submission, status, cancellation, resubmission.
package controlplane

import (
	"log"

	"github.com/fentz26/midnight/internal/audit"
	"github.com/fentz26/midnight/internal/models"
	"github.com/fentz26/midnight/internal/queue"
	"github.com/fentz26/midnight/internal/store"
)

// Service provides the task-source business logic.
type Service struct {
	store *store.Store
	queue *queue.Queue
	audit *audit.Writer
}

// NewService creates a new control plane service.
func NewService(s *store.Store, q *queue.Queue, aud *audit.Writer) *Service {
	return &Service{store: s, queue: q, audit: aud}
}

func (s *Service) record(action string, inputs interface{}, outcome, taskID, details string) {
	if _, err := s.audit.Record(action, inputs, outcome, taskID, details); err != nil {
		log.Printf("Error recording decision %s for task %s: %v", action, taskID, err)
	}
}

// CreateTask enqueues a new task for the factory.
func (s *Service) CreateTask(description, scope string, priority int) (*models.Task, error) {
	task, err := s.queue.Enqueue(description, scope, priority)
	if err != nil {
		return nil, err
	}
	s.record("task.enqueue", map[string]interface{}{"description": description, "priority": priority}, "success", task.ID, "")
	return task, nil
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(id string) (*models.Task, error) {
	return s.store.GetTask(id)
}

// ListTasks returns filtered tasks.
func (s *Service) ListTasks(status string) ([]models.Task, error) {
	return s.store.ListTasks(status)
}

// CancelTask marks a task cancelled. The factory observes the signal at
// its next state-check point and releases the lease; an agent call
// already in flight runs to its own timeout first.
func (s *Service) CancelTask(id string) (*models.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return nil, ErrTaskTerminal
	}

	if err := s.store.UpdateTaskStatus(id, models.TaskStatusCancelled); err != nil {
		return nil, err
	}
	s.record("task.cancel", map[string]interface{}{"task_id": id}, "cancelled", id, "")

	task.Status = models.TaskStatusCancelled
	return task, nil
}

// ResubmitResponse is the outcome of a resubmit call.
type ResubmitResponse struct {
	Task   *models.Task            `json:"task"`
	Result *models.CandidateResult `json:"result,omitempty"`
	Reran  bool                    `json:"reran"`
}

// ResubmitTask re-dispatches a task. On a completed task it is a no-op
// returning the stored accepted result without invoking any agent; on an
// escalated or cancelled task it re-enters the queue at attempt zero.
func (s *Service) ResubmitTask(id string) (*ResubmitResponse, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}

	switch task.Status {
	case models.TaskStatusCompleted:
		result, err := s.store.ResultForTask(id)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, ErrNoStoredResult
		}
		s.record("task.resubmit", map[string]interface{}{"task_id": id}, "noop", id, "already completed")
		return &ResubmitResponse{Task: task, Result: result, Reran: false}, nil

	case models.TaskStatusEscalated, models.TaskStatusCancelled:
		if err := s.store.ResetTask(id, 0); err != nil {
			return nil, err
		}
		s.record("task.resubmit", map[string]interface{}{"task_id": id}, "requeued", id, "")
		task, err = s.store.GetTask(id)
		if err != nil {
			return nil, err
		}
		return &ResubmitResponse{Task: task, Reran: true}, nil

	default:
		return nil, ErrTaskInFlight
	}
}

// FactoryStatus is the aggregate factory state.
type FactoryStatus struct {
	Tasks        map[string]int `json:"tasks"`
	ActiveLeases int            `json:"active_leases"`
}

// Status returns task counts per status and the number of live leases.
func (s *Service) Status() (*FactoryStatus, error) {
	counts, err := s.store.TaskStatusCounts()
	if err != nil {
		return nil, err
	}
	leases, err := s.store.CountActiveLeases()
	if err != nil {
		return nil, err
	}
	return &FactoryStatus{Tasks: counts, ActiveLeases: leases}, nil
}

// TaskReviews returns the sentinel review history for a task.
func (s *Service) TaskReviews(id string) ([]models.QualityReview, error) {
	return s.store.ReviewsForTask(id)
}

// TaskAttempts returns the attempt trace for a task.
func (s *Service) TaskAttempts(id string) ([]models.AttemptRecord, error) {
	return s.store.AttemptsForTask(id)
}

// TaskDecisions returns the decision log for a task.
func (s *Service) TaskDecisions(id string) ([]models.Decision, error) {
	return s.store.DecisionsForTask(id)
}
