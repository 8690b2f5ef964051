package localdir

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fentz26/midnight/internal/models"
)

func TestApply(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	applier := New(dir)

	res := &models.CandidateResult{
		TaskID:  "t-1",
		Attempt: 2,
		Payload: "the change",
		Model:   "actor",
	}

	if err := applier.Apply(context.Background(), "t-1:2", res); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "t-1-2.json"))
	if err != nil {
		t.Fatalf("Expected spooled file: %v", err)
	}

	var got models.CandidateResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Spooled file must be valid JSON: %v", err)
	}
	if got.Payload != "the change" || got.Attempt != 2 {
		t.Errorf("Unexpected spooled content: %+v", got)
	}
}

func TestApplyIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	applier := New(dir)

	res := &models.CandidateResult{TaskID: "t-1", Attempt: 0, Payload: "same"}

	for i := 0; i < 3; i++ {
		if err := applier.Apply(context.Background(), "t-1:0", res); err != nil {
			t.Fatalf("Apply #%d failed: %v", i+1, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected one spooled file for one key, got %d", len(entries))
	}
}

func TestApplyCancelledContext(t *testing.T) {
	applier := New(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := applier.Apply(ctx, "t-1:0", &models.CandidateResult{}); err == nil {
		t.Error("Expected an error for a cancelled context")
	}
}
