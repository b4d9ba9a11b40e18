// Package conn tracks reachability of the remote backend with a cached
// probe result, periodic polling, and host connectivity signals delivered as
// env.* bus events.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/tahseelapp/tahseel/internal/bus"
	"go.uber.org/zap"
)

// State is the monitor's view of backend reachability.
type State string

const (
	Unknown State = "UNKNOWN"
	Online  State = "ONLINE"
	Offline State = "OFFLINE"
)

// ProbeFunc checks backend liveness. Any error means Offline; it is never
// surfaced to callers.
type ProbeFunc func(ctx context.Context) error

// Monitor owns the Unknown → Online ⇄ Offline state machine. The
// Offline→Online edge is the single trigger for queue draining and fires
// registered callbacks exactly once per transition.
type Monitor struct {
	probe        ProbeFunc
	interval     time.Duration
	cacheTTL     time.Duration
	probeTimeout time.Duration
	bus          *bus.Bus
	logger       *zap.Logger
	now          func() time.Time

	mu         sync.Mutex
	state      State
	lastProbe  time.Time
	onRestored []func()

	cancel context.CancelFunc
}

// NewMonitor creates a monitor. interval is the periodic poll (e.g. 30s),
// cacheTTL how long a probe result is trusted on hot paths (e.g. 3s).
func NewMonitor(probe ProbeFunc, interval, cacheTTL time.Duration, b *bus.Bus, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		probe:        probe,
		interval:     interval,
		cacheTTL:     cacheTTL,
		probeTimeout: 5 * time.Second,
		bus:          b,
		logger:       logger,
		now:          time.Now,
		state:        Unknown,
	}
}

// State returns the current state without probing.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reachable reports whether the backend is currently reachable. The last
// probe result is reused within the cache window to avoid hammering the
// backend on hot paths; otherwise a fresh bounded probe runs.
func (m *Monitor) Reachable(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != Unknown && m.now().Sub(m.lastProbe) < m.cacheTTL {
		reachable := m.state == Online
		m.mu.Unlock()
		return reachable
	}
	m.mu.Unlock()
	return m.CheckNow(ctx)
}

// CheckNow runs a probe immediately, bypassing the cache, and returns the
// fresh result.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.probe(probeCtx)
	cancel()
	m.setReachable(err == nil)
	return err == nil
}

// OnRestored registers a callback fired on every Offline→Online transition.
func (m *Monitor) OnRestored(cb func()) {
	m.mu.Lock()
	m.onRestored = append(m.onRestored, cb)
	m.mu.Unlock()
}

// Start begins periodic probing and subscribes to host env.online /
// env.offline signals on the bus.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	ch, unsub := m.bus.Subscribe("env.", 16)

	go func() {
		defer unsub()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.CheckNow(ctx)
		for {
			select {
			case <-ticker.C:
				m.CheckNow(ctx)
			case evt := <-ch:
				switch evt.Kind {
				case "env.online":
					// The host believes connectivity is back; verify.
					m.CheckNow(ctx)
				case "env.offline":
					m.setReachable(false)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops periodic probing. Safe to call from any goroutine, including
// before Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// setReachable records a probe outcome and handles state transitions.
// Callbacks fire only on the Offline→Online edge, not on every poll that
// finds the backend still online.
func (m *Monitor) setReachable(reachable bool) {
	m.mu.Lock()
	prev := m.state
	next := Offline
	if reachable {
		next = Online
	}
	m.state = next
	m.lastProbe = m.now()
	var restored []func()
	if prev == Offline && next == Online {
		restored = append(restored, m.onRestored...)
	}
	m.mu.Unlock()

	if prev != next {
		kind := "conn.offline"
		if next == Online {
			kind = "conn.online"
		}
		m.logger.Info("connection state changed",
			zap.String("from", string(prev)), zap.String("to", string(next)))
		if m.bus != nil {
			m.bus.Emit(kind, nil)
		}
	}

	for _, cb := range restored {
		go cb()
	}
}
