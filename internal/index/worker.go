package index

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/logline/internal/errs"
)

// Worker applies upserts to a backend on one background goroutine, in the
// order they were submitted. Reads go straight to the backend.
type Worker struct {
	Index

	ctx     context.Context
	queue   *jobQueue
	done    chan struct{}
	onError func(Event, error)
	failed  atomic.Int64
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithQueueCapacity preallocates room for n pending upserts.
func WithQueueCapacity(n int) WorkerOption {
	return func(w *Worker) { w.queue = newJobQueue(n) }
}

// WithErrorHandler is called on the worker goroutine for every failed upsert.
func WithErrorHandler(fn func(Event, error)) WorkerOption {
	return func(w *Worker) { w.onError = fn }
}

// NewWorker starts a worker in front of backend. Upserts run with ctx.
func NewWorker(ctx context.Context, backend Index, opts ...WorkerOption) *Worker {
	w := &Worker{
		Index: backend,
		ctx:   ctx,
		queue: newJobQueue(0),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Upsert queues ev and returns without waiting for the backend.
func (w *Worker) Upsert(_ context.Context, ev Event) error {
	if !w.queue.Enqueue(job{ev: ev}) {
		return errs.New(errs.CodeIndex, "upsert", ErrClosed).WithEvent(ev.ID)
	}
	return nil
}

// Flush blocks until every upsert queued before the call has been applied.
func (w *Worker) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !w.queue.Enqueue(job{done: barrier}) {
		// Closed: Close already drained the queue.
		<-w.done
		return nil
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int { return w.queue.Len() }

// Failures returns how many upserts the backend rejected.
func (w *Worker) Failures() int64 { return w.failed.Load() }

// Close drains the queue, stops the worker and closes the backend.
func (w *Worker) Close() error {
	w.queue.Close()
	<-w.done
	return w.Index.Close()
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		if j, ok := w.queue.TryDequeue(); ok {
			w.apply(j)
			continue
		}
		if _, open := <-w.queue.Wait(); !open {
			for {
				j, ok := w.queue.TryDequeue()
				if !ok {
					return
				}
				w.apply(j)
			}
		}
	}
}

func (w *Worker) apply(j job) {
	if j.done != nil {
		close(j.done)
		return
	}
	if err := w.Index.Upsert(w.ctx, j.ev); err != nil {
		w.failed.Add(1)
		slog.Warn("index upsert failed", "event_id", j.ev.ID, "day", j.ev.Day, "error", err)
		if w.onError != nil {
			w.onError(j.ev, err)
		}
	}
}
