// Package audit provides decision-log writing for Midnight.
//
// Every state-mutating factory action (enqueue, dispatch, accept, retry,
// escalate, cancel, snapshot) leaves a decision record with a hash of its
// inputs, so an escalated task can be reconstructed after the fact.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/midnight/internal/models"
	"github.com/fentz26/midnight/internal/store"
)

// Writer appends decision records to the store.
type Writer struct {
	store *store.Store
}

// NewWriter creates a decision-log writer.
func NewWriter(s *store.Store) *Writer {
	return &Writer{store: s}
}

// Record writes a decision entry for a state-mutating action.
func (w *Writer) Record(action string, inputs interface{}, outcome, taskID, details string) (*models.Decision, error) {
	return w.store.WriteDecision(action, hashInputs(inputs), outcome, taskID, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
