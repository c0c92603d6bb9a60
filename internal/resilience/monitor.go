package resilience

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Monitor detects online/offline state by probing a URL on an interval.
// Any HTTP response, including an error status, counts as online; only a
// transport-level failure counts as offline.
type Monitor struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      zerolog.Logger

	mu       sync.RWMutex
	online   bool
	onChange []func(online bool)

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMonitor creates a connectivity monitor. The initial state is online.
func NewMonitor(url string, interval time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
		online:   true,
		stop:     make(chan struct{}),
	}
}

// OnChange registers a callback fired on every online/offline transition.
// Must be called before Start.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Start begins probing in a background goroutine until Stop is called or
// ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.setOnline(m.probe(ctx))
			}
		}
	}()
}

// Stop halts probing.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.url, nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	callbacks := m.onChange
	m.mu.Unlock()

	if !changed {
		return
	}

	m.log.Info().Bool("online", online).Msg("Connectivity state changed")
	for _, fn := range callbacks {
		fn(online)
	}
}
