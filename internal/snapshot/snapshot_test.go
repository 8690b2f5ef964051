package snapshot

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/midnight/internal/models"
	"github.com/fentz26/midnight/internal/store"
)

func newTestSnapshots(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestColdStart(t *testing.T) {
	snaps, _ := newTestSnapshots(t)

	capture, err := snaps.Restore()
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if capture != nil {
		t.Error("Expected nil capture on a cold store")
	}

	id, err := snaps.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if id != "" {
		t.Error("Expected no latest snapshot on a cold store")
	}
}

func TestTakeAndRestore(t *testing.T) {
	snaps, _ := newTestSnapshots(t)

	score := 70
	tasks := []models.Task{
		{ID: "t-pending", Description: "waiting", Status: models.TaskStatusPending, Attempt: 0},
		{ID: "t-acting", Description: "in flight", Status: models.TaskStatusActing, Attempt: 2, LastScore: &score},
		{ID: "t-reviewing", Description: "under review", Status: models.TaskStatusReviewing, Attempt: 1},
		{ID: "t-leased", Description: "claimed", Status: models.TaskStatusLeased, Attempt: 0},
	}

	id, err := snaps.Take(tasks)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a snapshot id")
	}

	capture, err := snaps.Restore()
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if capture == nil || len(capture.Tasks) != 4 {
		t.Fatalf("Expected 4 restored tasks, got %+v", capture)
	}

	byID := make(map[string]models.Task)
	for _, task := range capture.Tasks {
		byID[task.ID] = task
	}

	if byID["t-pending"].Status != models.TaskStatusPending {
		t.Errorf("Pending task must stay pending, got %s", byID["t-pending"].Status)
	}

	// Anything captured mid-cycle resumes as acting with its attempt intact.
	for _, id := range []string{"t-acting", "t-reviewing", "t-leased"} {
		if byID[id].Status != models.TaskStatusActing {
			t.Errorf("%s: expected acting after restore, got %s", id, byID[id].Status)
		}
	}
	if byID["t-acting"].Attempt != 2 {
		t.Errorf("Expected attempt 2 preserved, got %d", byID["t-acting"].Attempt)
	}
	if byID["t-acting"].LastScore == nil || *byID["t-acting"].LastScore != 70 {
		t.Error("Expected last score preserved across restore")
	}
	if byID["t-reviewing"].Attempt != 1 {
		t.Errorf("Expected attempt 1 preserved, got %d", byID["t-reviewing"].Attempt)
	}
}

func TestRestorePicksNewest(t *testing.T) {
	snaps, _ := newTestSnapshots(t)

	snaps.Take([]models.Task{{ID: "old", Status: models.TaskStatusPending}})
	time.Sleep(5 * time.Millisecond)
	snaps.Take([]models.Task{{ID: "new", Status: models.TaskStatusPending}})

	capture, err := snaps.Restore()
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if len(capture.Tasks) != 1 || capture.Tasks[0].ID != "new" {
		t.Errorf("Expected the newest capture, got %+v", capture.Tasks)
	}
}

func TestRestoreCorruptChecksum(t *testing.T) {
	snaps, s := newTestSnapshots(t)

	if err := s.PutSnapshot("bad", "deadbeef", []byte(`{"tasks":[]}`), time.Now().UTC()); err != nil {
		t.Fatalf("PutSnapshot failed: %v", err)
	}

	_, err := snaps.Restore()
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt on checksum mismatch, got %v", err)
	}
}

func TestRestoreCorruptPayload(t *testing.T) {
	snaps, s := newTestSnapshots(t)

	payload := []byte("not json at all")
	if err := s.PutSnapshot("bad", checksum(payload), payload, time.Now().UTC()); err != nil {
		t.Fatalf("PutSnapshot failed: %v", err)
	}

	_, err := snaps.Restore()
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt on undecodable payload, got %v", err)
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	snaps, _ := newTestSnapshots(t)

	var lastID string
	for i := 0; i < DefaultRetention+5; i++ {
		id, err := snaps.Take([]models.Task{{ID: "t", Status: models.TaskStatusPending}})
		if err != nil {
			t.Fatalf("Take failed: %v", err)
		}
		lastID = id
		time.Sleep(2 * time.Millisecond)
	}

	latest, err := snaps.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest != lastID {
		t.Errorf("Pruning must keep the newest snapshot, got %s want %s", latest, lastID)
	}
}
