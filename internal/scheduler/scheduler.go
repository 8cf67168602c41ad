// Package scheduler wires up the cron jobs that periodically enqueue
// discovery cycles and performance tracking.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/TobiSchelling/contentpilot/internal/queue"
)

// Enqueuer accepts tasks for the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) (queue.Task, error)
}

type job struct {
	spec string
	task func() queue.Task
}

// Scheduler wraps robfig/cron. Each tick only enqueues a task; the worker
// does the actual work, so governance reschedules and retries apply.
type Scheduler struct {
	cron *cron.Cron
	q    Enqueuer
	jobs []job
}

// New creates a Scheduler. An empty spec disables that job.
func New(q Enqueuer, discoverySpec, performanceSpec string) *Scheduler {
	s := &Scheduler{
		cron: cron.New(cron.WithLogger(cron.DefaultLogger)),
		q:    q,
	}
	if discoverySpec != "" {
		s.jobs = append(s.jobs, job{spec: discoverySpec, task: queue.Discovery})
	}
	if performanceSpec != "" {
		s.jobs = append(s.jobs, job{spec: performanceSpec, task: queue.Performance})
	}
	return s
}

// Start registers the jobs and starts the scheduler. It also enqueues one
// discovery cycle immediately so opportunities appear without waiting for
// the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, j := range s.jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() { s.enqueue(ctx, j.task()) }); err != nil {
			return fmt.Errorf("cron.AddFunc %q: %w", j.spec, err)
		}
		log.Printf("[scheduler] Registered %s job: %s", j.task().Kind, j.spec)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started with %d job(s)", len(s.jobs))

	for _, j := range s.jobs {
		if j.task().Kind == queue.KindDiscovery {
			s.enqueue(ctx, j.task())
		}
	}
	return nil
}

// Stop shuts down the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[scheduler] Cron stopped")
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) enqueue(ctx context.Context, t queue.Task) {
	if _, err := s.q.Enqueue(ctx, t); err != nil {
		log.Printf("[scheduler] Enqueue %s error: %v", t.Kind, err)
		return
	}
	log.Printf("[scheduler] Enqueued %s task", t.Kind)
}
