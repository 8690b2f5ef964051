package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fentz26/midnight/internal/audit"
	"github.com/fentz26/midnight/internal/models"
	"github.com/fentz26/midnight/internal/queue"
	"github.com/fentz26/midnight/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store, *queue.Queue) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q := queue.New(s, "api-test", 60)
	svc := NewService(s, q, audit.NewWriter(s))
	return NewServer(svc, s, "127.0.0.1:0"), s, q
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv.handleHealth, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var health HealthResponse
	json.NewDecoder(w.Body).Decode(&health)
	if !health.OK || health.DB != "ok" {
		t.Errorf("Unexpected health payload: %+v", health)
	}

	w = doJSON(t, srv.handleHealth, http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestCreateTask(t *testing.T) {
	srv, s, _ := newTestServer(t)

	w := doJSON(t, srv.handleTasks, http.MethodPost, "/tasks", map[string]any{
		"description": "Add rate limiting",
		"scope":       "gateway/",
		"priority":    3,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var task models.Task
	json.NewDecoder(w.Body).Decode(&task)
	if task.ID == "" || task.Status != models.TaskStatusPending {
		t.Errorf("Unexpected task: %+v", task)
	}
	if task.Priority != 3 || task.Scope != "gateway/" {
		t.Errorf("Request fields not carried: %+v", task)
	}

	stored, _ := s.GetTask(task.ID)
	if stored == nil {
		t.Error("Task must be persisted")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv.handleTasks, http.MethodPost, "/tasks", map[string]any{"description": "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty description, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	srv.handleTasks(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid json, got %d", rec.Code)
	}
}

func TestListTasks(t *testing.T) {
	srv, s, _ := newTestServer(t)

	w := doJSON(t, srv.handleTasks, http.MethodGet, "/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var tasks []models.Task
	json.NewDecoder(w.Body).Decode(&tasks)
	if tasks == nil || len(tasks) != 0 {
		t.Errorf("Expected empty array, got %v", tasks)
	}

	task, _ := s.CreateTask("one", "", 0)
	s.UpdateTaskStatus(task.ID, models.TaskStatusCompleted)
	s.CreateTask("two", "", 0)

	w = doJSON(t, srv.handleTasks, http.MethodGet, "/tasks?status=completed", nil)
	json.NewDecoder(w.Body).Decode(&tasks)
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Errorf("Expected only the completed task, got %v", tasks)
	}
}

func TestGetTask(t *testing.T) {
	srv, s, _ := newTestServer(t)
	task, _ := s.CreateTask("lookup", "", 0)

	w := doJSON(t, srv.handleTaskByID, http.MethodGet, "/tasks/"+task.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	w = doJSON(t, srv.handleTaskByID, http.MethodGet, "/tasks/no-such-id", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestCancelTask(t *testing.T) {
	srv, s, _ := newTestServer(t)
	task, _ := s.CreateTask("to cancel", "", 0)

	w := doJSON(t, srv.handleTaskByID, http.MethodPost, "/tasks/"+task.ID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, _ := s.GetTask(task.ID)
	if got.Status != models.TaskStatusCancelled {
		t.Errorf("Expected cancelled, got %s", got.Status)
	}

	// Cancelling a terminal task conflicts.
	w = doJSON(t, srv.handleTaskByID, http.MethodPost, "/tasks/"+task.ID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for terminal task, got %d", w.Code)
	}

	w = doJSON(t, srv.handleTaskByID, http.MethodPost, "/tasks/no-such-id/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestResubmitCompletedIsNoOp(t *testing.T) {
	srv, s, _ := newTestServer(t)

	task, _ := s.CreateTask("done already", "", 0)
	s.SaveResult(&models.CandidateResult{TaskID: task.ID, Attempt: 0, Payload: "the diff", Model: "actor"})
	s.UpdateTaskStatus(task.ID, models.TaskStatusCompleted)

	w := doJSON(t, srv.handleTaskByID, http.MethodPost, "/tasks/"+task.ID+"/resubmit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ResubmitResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Reran {
		t.Error("Resubmitting a completed task must not re-run it")
	}
	if resp.Result == nil || resp.Result.Payload != "the diff" {
		t.Errorf("Expected the stored result returned, got %+v", resp.Result)
	}

	got, _ := s.GetTask(task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("Task must stay completed, got %s", got.Status)
	}
}

func TestResubmitEscalatedRequeues(t *testing.T) {
	srv, s, q := newTestServer(t)

	task, _ := s.CreateTask("second chance", "", 0)
	s.SetTaskAttempt(task.ID, 4)
	s.SetTaskFeedback(task.ID, 70, "stale notes")
	s.UpdateTaskStatus(task.ID, models.TaskStatusEscalated)

	w := doJSON(t, srv.handleTaskByID, http.MethodPost, "/tasks/"+task.ID+"/resubmit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ResubmitResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Reran {
		t.Error("Resubmitting an escalated task must re-enter the queue")
	}
	if resp.Task.Status != models.TaskStatusPending || resp.Task.Attempt != 0 {
		t.Errorf("Expected pending at attempt 0, got %s attempt %d", resp.Task.Status, resp.Task.Attempt)
	}

	// The factory can lease it again.
	leased, _, err := q.Dequeue()
	if err != nil || leased == nil || leased.ID != task.ID {
		t.Errorf("Expected the resubmitted task leasable, got %v err %v", leased, err)
	}
}

func TestResubmitInFlightConflicts(t *testing.T) {
	srv, s, _ := newTestServer(t)

	task, _ := s.CreateTask("busy", "", 0)
	s.UpdateTaskStatus(task.ID, models.TaskStatusActing)

	w := doJSON(t, srv.handleTaskByID, http.MethodPost, "/tasks/"+task.ID+"/resubmit", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for in-flight resubmit, got %d", w.Code)
	}
}

func TestResubmitCompletedWithoutResult(t *testing.T) {
	srv, s, _ := newTestServer(t)

	task, _ := s.CreateTask("hollow", "", 0)
	s.UpdateTaskStatus(task.ID, models.TaskStatusCompleted)

	w := doJSON(t, srv.handleTaskByID, http.MethodPost, "/tasks/"+task.ID+"/resubmit", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 when no result is stored, got %d", w.Code)
	}
}

func TestTaskHistoryEndpoints(t *testing.T) {
	srv, s, _ := newTestServer(t)
	task, _ := s.CreateTask("history", "", 0)

	s.SaveReview(&models.QualityReview{TaskID: task.ID, Attempt: 0, Score: 80, Notes: "close", Reviewer: "sentinel"})
	s.RecordAttempt(&models.AttemptRecord{TaskID: task.ID, Attempt: 0, Outcome: models.OutcomeRejected})

	w := doJSON(t, srv.handleTaskByID, http.MethodGet, "/tasks/"+task.ID+"/reviews", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var reviews []models.QualityReview
	json.NewDecoder(w.Body).Decode(&reviews)
	if len(reviews) != 1 || reviews[0].Score != 80 {
		t.Errorf("Unexpected reviews: %+v", reviews)
	}

	w = doJSON(t, srv.handleTaskByID, http.MethodGet, "/tasks/"+task.ID+"/attempts", nil)
	var attempts []models.AttemptRecord
	json.NewDecoder(w.Body).Decode(&attempts)
	if len(attempts) != 1 || attempts[0].Outcome != models.OutcomeRejected {
		t.Errorf("Unexpected attempts: %+v", attempts)
	}

	w = doJSON(t, srv.handleTaskByID, http.MethodGet, "/tasks/"+task.ID+"/decisions", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for decisions, got %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	srv, s, q := newTestServer(t)

	s.CreateTask("one", "", 0)
	two, _ := s.CreateTask("two", "", 0)
	s.UpdateTaskStatus(two.ID, models.TaskStatusCompleted)
	q.Enqueue("leased", "", 0)
	q.Dequeue()

	w := doJSON(t, srv.handleStatus, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var status FactoryStatus
	json.NewDecoder(w.Body).Decode(&status)
	if status.Tasks["pending"] != 1 || status.Tasks["completed"] != 1 || status.Tasks["leased"] != 1 {
		t.Errorf("Unexpected task counts: %+v", status.Tasks)
	}
	if status.ActiveLeases != 1 {
		t.Errorf("Expected 1 active lease, got %d", status.ActiveLeases)
	}
}

func TestUnknownAction(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv.handleTaskByID, http.MethodPost, "/tasks/some-id/explode", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown action, got %d", w.Code)
	}
}
