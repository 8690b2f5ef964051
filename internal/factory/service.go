package factory

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fentz26/midnight/internal/config"
	"github.com/fentz26/midnight/internal/models"
	"github.com/fentz26/midnight/internal/queue"
	"github.com/fentz26/midnight/internal/snapshot"
	"github.com/fentz26/midnight/internal/store"
)

// ErrRestore means the snapshot store is reachable but corrupt. The
// service must not start with unknown state; an empty store is a valid
// cold start, corruption is not.
var ErrRestore = errors.New("restore failed")

// Service is the background host loop: it pulls leased tasks from the
// queue, drives one orchestration cycle at a time, and ticks the snapshot
// store on a fixed interval independent of task progress. The run loop
// and the snapshot ticker share only the stores and a cancellation signal.
type Service struct {
	store *store.Store
	queue *queue.Queue
	snap  *snapshot.Store
	orch  *Orchestrator
	cfg   *config.Config

	// pollInterval is how often the loop re-checks an empty queue.
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the background service.
func NewService(s *store.Store, q *queue.Queue, snap *snapshot.Store, orch *Orchestrator, cfg *config.Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:        s,
		queue:        q,
		snap:         snap,
		orch:         orch,
		cfg:          cfg,
		pollInterval: 1 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Recover restores factory state at startup. A corrupt snapshot is fatal;
// an empty snapshot store is a cold start. Any task captured or persisted
// in a transient status without a live lease resumes as
// not-yet-attempted-this-cycle with its attempt count unchanged, never
// silently marked complete. Tasks under a live lease belong to another
// instance sharing the database and are not touched.
func (s *Service) Recover() error {
	capture, err := s.snap.Restore()
	if err != nil {
		return errors.Join(ErrRestore, err)
	}
	if capture == nil {
		log.Println("Warning: no snapshot found, starting with current queue state (cold start)")
	} else {
		log.Printf("Restored snapshot taken at %s (%d tasks)", capture.TakenAt.Format(time.RFC3339), len(capture.Tasks))
		for i := range capture.Tasks {
			t := capture.Tasks[i]
			// Conservative re-execution: restored mid-cycle work re-enters
			// the queue at the same attempt.
			if t.Status.Transient() || t.Status == models.TaskStatusLeased {
				t.Status = models.TaskStatusPending
			}
			if err := s.store.InsertTask(&t); err != nil {
				return errors.Join(ErrRestore, err)
			}
		}
	}

	n, err := s.store.ReleaseTransientTasks()
	if err != nil {
		return errors.Join(ErrRestore, err)
	}
	if n > 0 {
		log.Printf("Reset %d in-flight task(s) for re-execution", n)
	}
	return nil
}

// Start launches the run loop and the snapshot ticker.
func (s *Service) Start() {
	s.wg.Add(2)
	go s.runLoop()
	go s.snapshotLoop()
	log.Println("Factory service started")
}

// Stop shuts down gracefully: no new dequeues, the in-flight cycle
// finishes under its own agent timeouts, then one final snapshot is
// forced before returning.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()

	if err := s.takeSnapshot(); err != nil {
		log.Printf("Final snapshot failed: %v", err)
	} else {
		log.Println("Final snapshot written")
	}
	log.Println("Factory service stopped")
}

// runLoop drives one orchestration cycle at a time. One active cycle per
// instance bounds the concurrent load against rate-limited providers;
// run more instances against the same queue for throughput.
func (s *Service) runLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		task, lease, err := s.queue.Dequeue()
		if err != nil {
			log.Printf("Error dequeuing task: %v", err)
			s.sleep(s.pollInterval)
			continue
		}
		if task == nil {
			s.sleep(s.pollInterval)
			continue
		}

		outcome, err := s.orch.Run(s.ctx, task, lease)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Cycle for task %s ended %s: %v", task.ID, outcome, err)
		}
	}
}

// snapshotLoop ticks the state store on the configured interval. A
// snapshot failure is logged and superseded by the next tick.
func (s *Service) snapshotLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SnapshotInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.takeSnapshot(); err != nil {
				log.Printf("Snapshot failed (will retry next tick): %v", err)
			}
		}
	}
}

func (s *Service) takeSnapshot() error {
	tasks, err := s.store.ListNonTerminalTasks()
	if err != nil {
		return err
	}
	id, err := s.snap.Take(tasks)
	if err != nil {
		return err
	}
	log.Printf("Snapshot %s written (%d tasks)", id, len(tasks))
	return nil
}

func (s *Service) sleep(d time.Duration) {
	select {
	case <-s.ctx.Done():
	case <-time.After(d):
	}
}
