package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueuedOffline is returned by Execute when the network is offline and
// the operation was parked on the retry queue instead of being run.
var ErrQueuedOffline = errors.New("network offline: operation queued for retry")

// Manager ties the retry runner, connectivity monitor, and retry queue
// together.
type Manager struct {
	Runner  *Runner
	Monitor *Monitor
	Queue   *Queue
}

// NewManager creates a manager that drains the retry queue whenever the
// monitor reports connectivity returning.
func NewManager(policy Policy, probeURL string, probeInterval time.Duration, log zerolog.Logger) *Manager {
	runner := NewRunner(policy, log)
	queue := NewQueue(runner, log)
	monitor := NewMonitor(probeURL, probeInterval, log)

	m := &Manager{
		Runner:  runner,
		Monitor: monitor,
		Queue:   queue,
	}

	monitor.OnChange(func(online bool) {
		if online {
			go queue.Drain(context.Background())
		}
	})

	return m
}

// Start begins connectivity monitoring.
func (m *Manager) Start(ctx context.Context) {
	m.Monitor.Start(ctx)
}

// Stop halts connectivity monitoring.
func (m *Manager) Stop() {
	m.Monitor.Stop()
}

// Execute runs op with retry when online. When offline, the operation is
// enqueued with its failure hook and ErrQueuedOffline is returned. Whether
// op fails here or during a later drain, onFailure runs exactly once with
// the terminal error.
func (m *Manager) Execute(ctx context.Context, name string, op func(ctx context.Context) error, onFailure func(ctx context.Context, err error)) error {
	if !m.Monitor.Online() {
		m.Queue.Enqueue(name, op, onFailure)
		return ErrQueuedOffline
	}

	err := m.Runner.Do(ctx, name, op)
	if err != nil && onFailure != nil {
		onFailure(ctx, err)
	}
	return err
}

// Status is a snapshot of the resilience layer for the status endpoint.
type Status struct {
	Online     bool `json:"online"`
	QueueDepth int  `json:"queue_depth"`
}

// Status reports current connectivity and queue depth.
func (m *Manager) Status() Status {
	return Status{
		Online:     m.Monitor.Online(),
		QueueDepth: m.Queue.Len(),
	}
}
