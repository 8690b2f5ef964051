// Package snapshot implements the periodic state store for crash recovery.
//
// Snapshots capture every non-terminal task (queue contents plus in-flight
// state) as a checksummed JSON blob in an append-only log. Restore always
// picks the most recent complete snapshot. A snapshot is never mutated
// after creation; superseded rows are pruned by retention count.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/midnight/internal/models"
	"github.com/fentz26/midnight/internal/store"
	"github.com/google/uuid"
)

// ErrCorrupt means a snapshot row exists but cannot be trusted: checksum
// mismatch or undecodable payload. Startup must not treat this as a cold
// start.
var ErrCorrupt = errors.New("snapshot corrupt")

// DefaultRetention is how many superseded snapshots are kept.
const DefaultRetention = 10

// Store persists and restores factory state captures.
type Store struct {
	store     *store.Store
	retention int
}

// New creates a snapshot store with the default retention policy.
func New(s *store.Store) *Store {
	return &Store{store: s, retention: DefaultRetention}
}

// Take captures the given tasks as a new snapshot and returns its id.
func (s *Store) Take(tasks []models.Task) (string, error) {
	capture := models.Capture{
		TakenAt: time.Now().UTC(),
		Tasks:   tasks,
	}
	payload, err := json.Marshal(capture)
	if err != nil {
		return "", fmt.Errorf("encode capture: %w", err)
	}

	id := uuid.New().String()
	if err := s.store.PutSnapshot(id, checksum(payload), payload, capture.TakenAt); err != nil {
		return "", err
	}

	// Best-effort retention; a prune failure never fails the snapshot.
	_ = s.store.PruneSnapshots(s.retention)
	return id, nil
}

// Latest returns the id of the newest snapshot, or empty when none exists.
func (s *Store) Latest() (string, error) {
	id, _, _, _, err := s.store.LatestSnapshot()
	return id, err
}

// Restore loads the newest snapshot. Returns nil, nil on a cold store
// (no snapshots at all). Any task captured mid-cycle (acting, reviewing or
// leased) comes back as acting with its attempt count unchanged: the
// attempt is re-executed from the start, never silently marked complete.
func (s *Store) Restore() (*models.Capture, error) {
	id, sum, payload, _, err := s.store.LatestSnapshot()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}

	if checksum(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch for snapshot %s", ErrCorrupt, id)
	}

	var capture models.Capture
	if err := json.Unmarshal(payload, &capture); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot %s: %v", ErrCorrupt, id, err)
	}

	for i := range capture.Tasks {
		t := &capture.Tasks[i]
		if t.Status.Transient() || t.Status == models.TaskStatusLeased {
			t.Status = models.TaskStatusActing
		}
	}
	return &capture, nil
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
