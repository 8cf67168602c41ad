// Package queue is a durable delayed task queue. Governance checks use
// ScheduleAfter to push work into the future; the Worker retries failed
// handlers with backoff and buries tasks that keep failing.
package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Kind names the handler a task is dispatched to.
type Kind string

const (
	KindDiscovery   Kind = "discovery"
	KindGeneration  Kind = "generation"
	KindPerformance Kind = "performance"
)

// Task is one unit of queued work.
type Task struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	OpportunityID int64     `json:"opportunity_id,omitempty"`
	RunAt         time.Time `json:"run_at"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
}

// Store persists tasks. ClaimDue must hand each task to exactly one caller.
type Store interface {
	Push(ctx context.Context, t Task) error
	ClaimDue(ctx context.Context, now time.Time, n int) ([]Task, error)
	Complete(ctx context.Context, t Task) error
	Retry(ctx context.Context, t Task, runAt time.Time, cause error) error
	Bury(ctx context.Context, t Task, cause error) error
}

// Queue enqueues tasks into a Store.
type Queue struct {
	store Store
	now   func() time.Time
}

// New creates a queue over store.
func New(store Store) *Queue {
	return &Queue{store: store, now: time.Now}
}

// Store returns the backing store.
func (q *Queue) Store() Store {
	return q.store
}

// Enqueue schedules t to run now.
func (q *Queue) Enqueue(ctx context.Context, t Task) (Task, error) {
	return q.ScheduleAfter(ctx, 0, t)
}

// ScheduleAfter schedules t to run after delay. It is the reschedule path for
// governance limits and never counts as an attempt.
func (q *Queue) ScheduleAfter(ctx context.Context, delay time.Duration, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Kind == "" {
		return t, fmt.Errorf("scheduling task: missing kind")
	}
	t.RunAt = q.now().UTC().Add(delay)
	if err := q.store.Push(ctx, t); err != nil {
		return t, fmt.Errorf("scheduling %s task: %w", t.Kind, err)
	}
	if delay > 0 {
		log.Printf("[queue] Scheduled %s task %s for %s", t.Kind, t.ID, t.RunAt.Format(time.RFC3339))
	}
	return t, nil
}

// Discovery returns a discovery task.
func Discovery() Task { return Task{Kind: KindDiscovery} }

// Performance returns a performance tracking task.
func Performance() Task { return Task{Kind: KindPerformance} }

// Generation returns a generation task for one opportunity.
func Generation(opportunityID int64) Task {
	return Task{Kind: KindGeneration, OpportunityID: opportunityID}
}
