package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Handler runs one task. A returned error schedules a retry.
type Handler func(ctx context.Context, t Task) error

// WorkerOptions tunes a Worker. Zero values take the defaults.
type WorkerOptions struct {
	Concurrency  int
	MaxAttempts  int
	RetryBase    time.Duration
	PollInterval time.Duration
}

// Worker polls a store and dispatches due tasks to handlers.
type Worker struct {
	store    Store
	handlers map[Kind]Handler
	opts     WorkerOptions
	now      func() time.Time
}

// NewWorker creates a worker.
func NewWorker(store Store, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Worker{
		store:    store,
		handlers: make(map[Kind]Handler),
		opts:     opts,
		now:      time.Now,
	}
}

// Handle registers the handler for kind.
func (w *Worker) Handle(kind Kind, h Handler) {
	w.handlers[kind] = h
}

// Backoff returns the delay before retrying after the given attempt count.
func (w *Worker) Backoff(attempts int) time.Duration {
	return w.opts.RetryBase * time.Duration(attempts*attempts)
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[queue] Worker started (concurrency %d)", w.opts.Concurrency)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			log.Printf("[queue] Poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Println("[queue] Worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims up to Concurrency due tasks, runs them in parallel and waits
// for them to finish. It returns how many tasks ran.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.store.ClaimDue(ctx, w.now().UTC(), w.opts.Concurrency)
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			w.process(ctx, t)
		}(t)
	}
	wg.Wait()
	return len(tasks), nil
}

func (w *Worker) process(ctx context.Context, t Task) {
	h, ok := w.handlers[t.Kind]
	if !ok {
		t.Attempts++
		cause := fmt.Errorf("no handler for task kind %q", t.Kind)
		log.Printf("[queue] Burying task %s: %v", t.ID, cause)
		if err := w.store.Bury(ctx, t, cause); err != nil {
			log.Printf("[queue] Burying task %s failed: %v", t.ID, err)
		}
		return
	}

	err := h(ctx, t)
	if err == nil {
		if err := w.store.Complete(ctx, t); err != nil {
			log.Printf("[queue] Completing task %s failed: %v", t.ID, err)
		}
		return
	}

	t.Attempts++
	if t.Attempts >= w.opts.MaxAttempts {
		log.Printf("[queue] %s task %s failed after %d attempts, burying: %v", t.Kind, t.ID, t.Attempts, err)
		if serr := w.store.Bury(ctx, t, err); serr != nil {
			log.Printf("[queue] Burying task %s failed: %v", t.ID, serr)
		}
		return
	}

	runAt := w.now().UTC().Add(w.Backoff(t.Attempts))
	log.Printf("[queue] %s task %s failed (attempt %d), retrying at %s: %v",
		t.Kind, t.ID, t.Attempts, runAt.Format(time.RFC3339), err)
	if serr := w.store.Retry(ctx, t, runAt, err); serr != nil {
		log.Printf("[queue] Rescheduling task %s failed: %v", t.ID, serr)
	}
}
