package offline

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Connectivity is the signal the interceptor consults and feeds.
type Connectivity interface {
	Online() bool
	ReportFailure()
	ReportSuccess()
}

// Monitor tracks whether the server is reachable. Transitions from offline
// to online are announced on Restored.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu       sync.RWMutex
	online   bool
	restored chan struct{}
	onChange func(bool)
}

// NewMonitor builds a Monitor probing probeURL every interval. The device is
// assumed online until a probe or a request says otherwise.
func NewMonitor(probeURL string, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
		online:   true,
		restored: make(chan struct{}, 1),
	}
}

// OnChange registers a callback invoked on every transition. It must not block.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Restored fires after the device comes back online.
func (m *Monitor) Restored() <-chan struct{} {
	return m.restored
}

// ReportFailure marks the server unreachable.
func (m *Monitor) ReportFailure() { m.set(false) }

// ReportSuccess marks the server reachable.
func (m *Monitor) ReportSuccess() { m.set(true) }

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	onChange := m.onChange
	m.mu.Unlock()
	if !changed {
		return
	}
	m.logger.Info("connectivity changed", slog.Bool("online", online))
	if onChange != nil {
		onChange(online)
	}
	if online {
		select {
		case m.restored <- struct{}{}:
		default:
		}
	}
}

// Run probes until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe checks the health endpoint once and updates the state.
func (m *Monitor) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		m.logger.Error("connectivity probe", slog.Any("error", err))
		return m.Online()
	}
	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			m.set(false)
		}
		return false
	}
	resp.Body.Close()
	ok := resp.StatusCode < http.StatusInternalServerError
	m.set(ok)
	return ok
}
