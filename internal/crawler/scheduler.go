package crawler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/citehub/citehub/internal/fetch"
	"github.com/citehub/citehub/internal/logger"
)

// taskQueue orders tasks by due time. Equal due times pop in arbitrary order.
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool { return q[i].Due().Before(q[j].Due()) }

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*Task)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return task
}

// Scheduler executes the earliest-due task, requeues it with its freshly
// computed due time, and sleeps until the next deadline. One slow or failing
// task never delays the others beyond its own backoff.
type Scheduler struct {
	log    logger.Logger
	client *fetch.Client

	mu    sync.Mutex
	queue taskQueue
	wake  chan struct{}
}

// NewScheduler creates a scheduler that hands the given session to every
// step.
func NewScheduler(client *fetch.Client, log logger.Logger) *Scheduler {
	return &Scheduler{
		log:    log,
		client: client,
		wake:   make(chan struct{}, 1),
	}
}

// Add queues a task and wakes the run loop so it reconsiders the next
// deadline.
func (s *Scheduler) Add(task *Task) {
	s.mu.Lock()
	heap.Push(&s.queue, task)
	s.mu.Unlock()

	s.Wake()
	s.log.Info("task scheduled",
		logger.String("source", task.Namespace()),
		logger.Time("due", task.Due()))
}

// Wake interrupts the current sleep so the loop re-evaluates due times.
// Called after configuration changes move a queued task's due time.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Run drives the task loop until the context is cancelled or a task fails
// fatally. Transient crawl failures never surface here; they are absorbed
// into per-task backoff.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", logger.Int("tasks", s.Len()))

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopped")
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}

		// A reset may have moved a due time while the task sat queued.
		heap.Init(&s.queue)
		wait := time.Until(s.queue[0].Due())
		s.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.log.Info("scheduler stopped")
				return ctx.Err()
			case <-s.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		s.mu.Lock()
		task := heap.Pop(&s.queue).(*Task)
		s.mu.Unlock()

		err := task.Step(ctx, s.client)

		s.mu.Lock()
		heap.Push(&s.queue, task)
		s.mu.Unlock()

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.log.Info("scheduler stopped")
				return err
			}
			s.log.Error("task failed fatally",
				logger.String("source", task.Namespace()),
				logger.Error(err))
			return err
		}
	}
}
