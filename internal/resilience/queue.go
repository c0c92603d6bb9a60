package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Operation is a queued unit of work waiting for connectivity. OnFailure,
// when set, runs with the terminal error if the operation still fails after
// its retry budget during a drain.
type Operation struct {
	Name       string
	Run        func(ctx context.Context) error
	OnFailure  func(ctx context.Context, err error)
	EnqueuedAt time.Time
}

// Queue is a FIFO retry queue. Operations enqueued while offline are drained
// in order when connectivity returns. Drain is single-flight: concurrent
// calls while one is running return immediately.
type Queue struct {
	runner *Runner
	log    zerolog.Logger

	mu       sync.Mutex
	ops      []Operation
	draining bool
}

// NewQueue creates a retry queue backed by the given runner.
func NewQueue(runner *Runner, log zerolog.Logger) *Queue {
	return &Queue{runner: runner, log: log}
}

// Enqueue appends an operation to the queue.
func (q *Queue) Enqueue(name string, run func(ctx context.Context) error, onFailure func(ctx context.Context, err error)) {
	q.mu.Lock()
	q.ops = append(q.ops, Operation{
		Name:       name,
		Run:        run,
		OnFailure:  onFailure,
		EnqueuedAt: time.Now(),
	})
	depth := len(q.ops)
	q.mu.Unlock()

	q.log.Info().Str("operation", name).Int("queue_depth", depth).Msg("Operation queued for retry")
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Drain runs queued operations in FIFO order through the runner. An
// operation that still fails after its retry budget is dropped, not
// requeued; it has had its chances. Its OnFailure hook runs first so the
// owner can record the loss.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()
		if len(q.ops) == 0 {
			q.mu.Unlock()
			return
		}
		op := q.ops[0]
		q.ops = q.ops[1:]
		q.mu.Unlock()

		if ctx.Err() != nil {
			// Put it back for the next drain.
			q.mu.Lock()
			q.ops = append([]Operation{op}, q.ops...)
			q.mu.Unlock()
			return
		}

		if err := q.runner.Do(ctx, op.Name, op.Run); err != nil {
			q.log.Error().
				Err(err).
				Str("operation", op.Name).
				Dur("queued_for", time.Since(op.EnqueuedAt)).
				Msg("Queued operation failed after retries")
			if op.OnFailure != nil {
				op.OnFailure(ctx, err)
			}
			continue
		}

		q.log.Info().Str("operation", op.Name).Msg("Queued operation completed")
	}
}
