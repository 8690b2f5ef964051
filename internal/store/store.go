// Package store provides SQLite-backed persistence for Midnight.
//
// All factory state lives here: the work queue (tasks + leases), the
// snapshot log, and the per-task history (attempts, reviews, accepted
// results, decisions). The queue and snapshot packages wrap this layer
// with their respective contracts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/midnight/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Sentinel errors for queue and lease operations.
var (
	// ErrLeaseExpired means the caller no longer owns the task: the lease
	// id is unknown, or its TTL elapsed and another cycle owns (or will
	// own) the task. The caller must abort its cycle without mutating.
	ErrLeaseExpired = fmt.Errorf("lease expired or unknown")

	// ErrTaskNotFound means no task exists with the given id.
	ErrTaskNotFound = fmt.Errorf("task not found")

	// ErrTaskConflict means a guarded status transition found the task in
	// an unexpected state, most commonly cancelled out from under the
	// factory mid-cycle. The caller must re-read and react, not overwrite.
	ErrTaskConflict = fmt.Errorf("task status conflict")
)

// Store provides access to the Midnight SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		scope TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		attempt INTEGER NOT NULL DEFAULT 0,
		last_score INTEGER,
		last_notes TEXT,
		not_before DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		holder_id TEXT NOT NULL,
		ttl_sec INTEGER NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		score INTEGER,
		error TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS reviews (
		task_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		score INTEGER NOT NULL,
		notes TEXT,
		reviewer TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (task_id, attempt),
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS results (
		task_id TEXT PRIMARY KEY,
		attempt INTEGER NOT NULL,
		payload TEXT NOT NULL,
		rationale TEXT,
		model TEXT NOT NULL,
		input_tokens INTEGER,
		output_tokens INTEGER,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_leases_task_id ON leases(task_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_task_id ON attempts(task_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_task_id ON decisions(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Task Operations ---

// CreateTask inserts a new pending task.
func (s *Store) CreateTask(description, scope string, priority int) (*models.Task, error) {
	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.New().String(),
		Description: description,
		Scope:       scope,
		Priority:    priority,
		Status:      models.TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(
		`INSERT INTO tasks (id, description, scope, priority, status, attempt, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		task.ID, task.Description, task.Scope, task.Priority, task.Status, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// InsertTask inserts a fully specified task, preserving id, status and
// attempt count. Used when reconciling a restored snapshot.
func (s *Store) InsertTask(task *models.Task) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO tasks (id, description, scope, priority, status, attempt, last_score, last_notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Description, task.Scope, task.Priority, task.Status, task.Attempt,
		task.LastScore, task.LastNotes, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func scanTask(row interface {
	Scan(dest ...interface{}) error
}) (*models.Task, error) {
	task := &models.Task{}
	var scope, lastNotes sql.NullString
	var lastScore sql.NullInt64

	err := row.Scan(&task.ID, &task.Description, &scope, &task.Priority, &task.Status,
		&task.Attempt, &lastScore, &lastNotes, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if scope.Valid {
		task.Scope = scope.String
	}
	if lastScore.Valid {
		score := int(lastScore.Int64)
		task.LastScore = &score
	}
	if lastNotes.Valid {
		task.LastNotes = lastNotes.String
	}
	return task, nil
}

const taskColumns = `id, description, scope, priority, status, attempt, last_score, last_notes, created_at, updated_at`

// GetTask retrieves a task by ID. Returns nil, nil when absent.
func (s *Store) GetTask(id string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks returns all tasks, optionally filtered by status.
func (s *Store) ListTasks(status string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// ListNonTerminalTasks returns every task still owned by the factory, in
// queue order. This is the snapshot capture set.
func (s *Store) ListNonTerminalTasks() ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status NOT IN (?, ?, ?)
		 ORDER BY created_at ASC, priority DESC`,
		models.TaskStatusCompleted, models.TaskStatusEscalated, models.TaskStatusCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// TaskStatusCounts returns the number of tasks per status.
func (s *Store) TaskStatusCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountActiveLeases returns the number of unexpired leases.
func (s *Store) CountActiveLeases() (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM leases WHERE expires_at > ?`, time.Now().UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count leases: %w", err)
	}
	return n, nil
}

// UpdateTaskStatus updates the status of a task.
func (s *Store) UpdateTaskStatus(id string, status models.TaskStatus) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// TransitionTaskStatus moves a task to a new status only while it is in
// one of the expected current states. ErrTaskConflict reports a concurrent
// transition, such as an external cancellation; the caller must not
// overwrite it.
func (s *Store) TransitionTaskStatus(id string, to models.TaskStatus, from ...models.TaskStatus) error {
	if len(from) == 0 {
		return s.UpdateTaskStatus(id, to)
	}

	args := []interface{}{to, time.Now().UTC(), id}
	marks := make([]string, len(from))
	for i, st := range from {
		marks[i] = "?"
		args = append(args, st)
	}

	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+strings.Join(marks, ", ")+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("transition task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		task, err := s.GetTask(id)
		if err != nil {
			return err
		}
		if task == nil {
			return ErrTaskNotFound
		}
		return ErrTaskConflict
	}
	return nil
}

// SetTaskAttempt sets the attempt count for a task.
func (s *Store) SetTaskAttempt(id string, attempt int) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET attempt = ?, updated_at = ? WHERE id = ?`,
		attempt, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update task attempt: %w", err)
	}
	return nil
}

// SetTaskFeedback records the latest sentinel verdict on the task row so
// the task source can display it without joining the review log.
func (s *Store) SetTaskFeedback(id string, score int, notes string) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET last_score = ?, last_notes = ?, updated_at = ? WHERE id = ?`,
		score, notes, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update task feedback: %w", err)
	}
	return nil
}

// ResetTask returns a task to pending with the given attempt count,
// clearing any backoff window. Used for resubmission and crash recovery.
func (s *Store) ResetTask(id string, attempt int) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, attempt = ?, not_before = NULL, updated_at = ? WHERE id = ?`,
		models.TaskStatusPending, attempt, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("reset task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// --- Queue Operations ---

// LeaseNextTask atomically picks the next ready pending task and leases it
// to holderID in a single transaction. Ordering is FIFO by creation time
// with priority as a tie-break; tasks inside a retry backoff window are
// skipped. Expired leases for this pick are reaped first, returning their
// tasks to pending with attempt preserved. Returns nil, nil, nil when no
// task is ready.
func (s *Store) LeaseNextTask(holderID string, ttlSec int) (*models.Task, *models.Lease, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Step 1: Reap expired leases. Their tasks go back to pending whatever
	// stage the dead worker reached: a crash after moving to acting or
	// reviewing must not strand the task.
	_, err = tx.Exec(
		`UPDATE tasks SET status = ?, updated_at = ?
		 WHERE status IN (?, ?, ?) AND id IN (SELECT task_id FROM leases WHERE expires_at <= ?)`,
		models.TaskStatusPending, now,
		models.TaskStatusLeased, models.TaskStatusActing, models.TaskStatusReviewing, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("reap leased tasks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM leases WHERE expires_at <= ?`, now); err != nil {
		return nil, nil, fmt.Errorf("reap leases: %w", err)
	}

	// Step 2: Pick the next ready pending task.
	task, err := scanTask(tx.QueryRow(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = ? AND (not_before IS NULL OR not_before <= ?)
		 ORDER BY created_at ASC, priority DESC
		 LIMIT 1`,
		models.TaskStatusPending, now,
	))
	if err == sql.ErrNoRows {
		return nil, nil, tx.Commit()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("pick task: %w", err)
	}

	// Step 3: Transition to leased, guarded by status so a concurrent
	// instance cannot double-lease.
	res, err := tx.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TaskStatusLeased, now, task.ID, models.TaskStatusPending,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("lease task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil, nil
	}

	// Step 4: Create the lease. Dequeue is the only lease-creating path.
	lease := &models.Lease{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		HolderID:  holderID,
		TTLSec:    ttlSec,
		ExpiresAt: now.Add(time.Duration(ttlSec) * time.Second),
		CreatedAt: now,
	}
	_, err = tx.Exec(
		`INSERT INTO leases (id, task_id, holder_id, ttl_sec, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		lease.ID, lease.TaskID, lease.HolderID, lease.TTLSec, lease.ExpiresAt, lease.CreatedAt,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	task.Status = models.TaskStatusLeased
	task.UpdatedAt = now
	return task, lease, nil
}

// lockLease fetches a lease inside tx, failing with ErrLeaseExpired when
// the id is unknown or the TTL has elapsed.
func lockLease(tx *sql.Tx, leaseID string, now time.Time) (*models.Lease, error) {
	lease := &models.Lease{}
	err := tx.QueryRow(
		`SELECT id, task_id, holder_id, ttl_sec, expires_at, created_at FROM leases WHERE id = ?`,
		leaseID,
	).Scan(&lease.ID, &lease.TaskID, &lease.HolderID, &lease.TTLSec, &lease.ExpiresAt, &lease.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrLeaseExpired
	}
	if err != nil {
		return nil, fmt.Errorf("query lease: %w", err)
	}
	if lease.Expired(now) {
		return nil, ErrLeaseExpired
	}
	return lease, nil
}

// AckLease removes the lease, marking the task done at the queue level.
// The task's terminal status must already be set by the caller.
func (s *Store) AckLease(leaseID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := lockLease(tx, leaseID, now); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM leases WHERE id = ?`, leaseID); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return tx.Commit()
}

// RequeueLease returns the leased task to pending with the given attempt
// count and a backoff window, and releases the lease.
func (s *Store) RequeueLease(leaseID string, attempt int, backoff time.Duration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	lease, err := lockLease(tx, leaseID, now)
	if err != nil {
		return err
	}

	var notBefore interface{}
	if backoff > 0 {
		notBefore = now.Add(backoff)
	}
	// A task cancelled or finished out from under the lease stays put;
	// only the lease is dropped.
	_, err = tx.Exec(
		`UPDATE tasks SET status = ?, attempt = ?, not_before = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?, ?)`,
		models.TaskStatusPending, attempt, notBefore, now, lease.TaskID,
		models.TaskStatusCompleted, models.TaskStatusEscalated, models.TaskStatusCancelled,
	)
	if err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM leases WHERE id = ?`, leaseID); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return tx.Commit()
}

// ExtendLease renews the lease TTL (heartbeat).
func (s *Store) ExtendLease(leaseID string, ttlSec int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := lockLease(tx, leaseID, now); err != nil {
		return err
	}
	_, err = tx.Exec(
		`UPDATE leases SET expires_at = ? WHERE id = ?`,
		now.Add(time.Duration(ttlSec)*time.Second), leaseID,
	)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	return tx.Commit()
}

// GetActiveLease returns the active lease for a task, if any.
func (s *Store) GetActiveLease(taskID string) (*models.Lease, error) {
	lease := &models.Lease{}
	err := s.db.QueryRow(
		`SELECT id, task_id, holder_id, ttl_sec, expires_at, created_at FROM leases WHERE task_id = ? AND expires_at > ? ORDER BY created_at DESC LIMIT 1`,
		taskID, time.Now().UTC(),
	).Scan(&lease.ID, &lease.TaskID, &lease.HolderID, &lease.TTLSec, &lease.ExpiresAt, &lease.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lease: %w", err)
	}
	return lease, nil
}

// DeleteLease removes a lease unconditionally. Used when cancelling.
func (s *Store) DeleteLease(leaseID string) error {
	_, err := s.db.Exec(`DELETE FROM leases WHERE id = ?`, leaseID)
	return err
}

// ReleaseTransientTasks returns leased, acting or reviewing tasks to
// pending with attempt preserved and drops their leases. Called once at
// startup before the run loop: a transient status with no live lease can
// only mean a previous cycle died mid-attempt. Tasks held by an unexpired
// lease belong to another running instance and are left alone.
func (s *Store) ReleaseTransientTasks() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(
		`UPDATE tasks SET status = ?, not_before = NULL, updated_at = ?
		 WHERE status IN (?, ?, ?)
		 AND id NOT IN (SELECT task_id FROM leases WHERE expires_at > ?)`,
		models.TaskStatusPending, now,
		models.TaskStatusLeased, models.TaskStatusActing, models.TaskStatusReviewing, now,
	)
	if err != nil {
		return 0, fmt.Errorf("release transient tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM leases WHERE expires_at <= ?`, now); err != nil {
		return 0, fmt.Errorf("clear leases: %w", err)
	}
	return int(n), tx.Commit()
}

// --- Snapshot Operations ---

// PutSnapshot appends a snapshot row. Snapshot ids are append-only; the
// newest complete row wins at restore.
func (s *Store) PutSnapshot(id, checksum string, payload []byte, createdAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO snapshots (id, checksum, payload, created_at) VALUES (?, ?, ?, ?)`,
		id, checksum, payload, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot row, or empty id when none.
func (s *Store) LatestSnapshot() (id, checksum string, payload []byte, createdAt time.Time, err error) {
	err = s.db.QueryRow(
		`SELECT id, checksum, payload, created_at FROM snapshots ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&id, &checksum, &payload, &createdAt)
	if err == sql.ErrNoRows {
		return "", "", nil, time.Time{}, nil
	}
	if err != nil {
		return "", "", nil, time.Time{}, fmt.Errorf("query snapshot: %w", err)
	}
	return id, checksum, payload, createdAt, nil
}

// PruneSnapshots discards all but the newest keep snapshots.
func (s *Store) PruneSnapshots(keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.Exec(
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY created_at DESC, id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

// --- Attempt Operations ---

// RecordAttempt inserts one attempt trace row.
func (s *Store) RecordAttempt(rec *models.AttemptRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.db.Exec(
		`INSERT INTO attempts (id, task_id, attempt, outcome, score, error, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TaskID, rec.Attempt, rec.Outcome, rec.Score, rec.Error, rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// AttemptsForTask returns the attempt trace for a task, oldest first.
func (s *Store) AttemptsForTask(taskID string) ([]models.AttemptRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, attempt, outcome, score, error, started_at, ended_at FROM attempts WHERE task_id = ? ORDER BY started_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var recs []models.AttemptRecord
	for rows.Next() {
		var rec models.AttemptRecord
		var score sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.Attempt, &rec.Outcome, &score, &errMsg, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if score.Valid {
			v := int(score.Int64)
			rec.Score = &v
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Review Operations ---

// SaveReview persists a sentinel review. Reviews are immutable; a replace
// can only happen if the same attempt is re-run after crash recovery.
func (s *Store) SaveReview(r *models.QualityReview) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO reviews (task_id, attempt, score, notes, reviewer, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.Attempt, r.Score, r.Notes, r.Reviewer, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ReviewsForTask returns all reviews for a task, oldest first.
func (s *Store) ReviewsForTask(taskID string) ([]models.QualityReview, error) {
	rows, err := s.db.Query(
		`SELECT task_id, attempt, score, notes, reviewer FROM reviews WHERE task_id = ? ORDER BY attempt ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.QualityReview
	for rows.Next() {
		var r models.QualityReview
		var notes sql.NullString
		if err := rows.Scan(&r.TaskID, &r.Attempt, &r.Score, &notes, &r.Reviewer); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		if notes.Valid {
			r.Notes = notes.String
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// --- Result Operations ---

// SaveResult persists the accepted candidate for a completed task.
func (s *Store) SaveResult(res *models.CandidateResult) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO results (task_id, attempt, payload, rationale, model, input_tokens, output_tokens, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.TaskID, res.Attempt, res.Payload, res.Rationale, res.Model, res.InputTokens, res.OutputTokens, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ResultForTask returns the accepted candidate for a task, or nil.
func (s *Store) ResultForTask(taskID string) (*models.CandidateResult, error) {
	res := &models.CandidateResult{}
	var rationale sql.NullString
	var inTok, outTok sql.NullInt64
	err := s.db.QueryRow(
		`SELECT task_id, attempt, payload, rationale, model, input_tokens, output_tokens FROM results WHERE task_id = ?`,
		taskID,
	).Scan(&res.TaskID, &res.Attempt, &res.Payload, &rationale, &res.Model, &inTok, &outTok)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query result: %w", err)
	}
	if rationale.Valid {
		res.Rationale = rationale.String
	}
	if inTok.Valid {
		res.InputTokens = int(inTok.Int64)
	}
	if outTok.Valid {
		res.OutputTokens = int(outTok.Int64)
	}
	return res, nil
}

// --- Decision Operations ---

// WriteDecision appends a decision-log entry.
func (s *Store) WriteDecision(action, inputsHash, outcome, taskID, details string) (*models.Decision, error) {
	d := &models.Decision{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO decisions (id, action, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Action, d.InputsHash, d.Outcome, d.TaskID, d.Details, d.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return d, nil
}

// DecisionsForTask returns the decision log for a task, oldest first.
func (s *Store) DecisionsForTask(taskID string) ([]models.Decision, error) {
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, task_id, details, timestamp FROM decisions WHERE task_id = ? ORDER BY timestamp ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		var d models.Decision
		var taskID, details sql.NullString
		if err := rows.Scan(&d.ID, &d.Action, &d.InputsHash, &d.Outcome, &taskID, &details, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if taskID.Valid {
			d.TaskID = taskID.String
		}
		if details.Valid {
			d.Details = details.String
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
