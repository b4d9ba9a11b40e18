package conn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tahseelapp/tahseel/internal/bus"
)

// flakyProbe is a probe whose outcome tests flip at will.
type flakyProbe struct {
	up    atomic.Bool
	calls atomic.Int32
}

func (p *flakyProbe) probe(context.Context) error {
	p.calls.Add(1)
	if p.up.Load() {
		return nil
	}
	return errors.New("unreachable")
}

func newTestMonitor(p *flakyProbe) *Monitor {
	return NewMonitor(p.probe, time.Hour, 3*time.Second, bus.New(), nil)
}

func TestStopIsSafeFromAnyGoroutine(t *testing.T) {
	p := &flakyProbe{}
	p.up.Store(true)
	m := newTestMonitor(p)

	// Stop before Start is a no-op.
	m.Stop()

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()
	m.Stop()
	<-done
	m.Stop()
}

func TestProbeFailureMeansOffline(t *testing.T) {
	p := &flakyProbe{}
	m := newTestMonitor(p)

	if m.Reachable(context.Background()) {
		t.Error("Reachable() = true with failing probe")
	}
	if m.State() != Offline {
		t.Errorf("State() = %s, want OFFLINE", m.State())
	}
}

func TestReachableUsesCachedResult(t *testing.T) {
	p := &flakyProbe{}
	p.up.Store(true)
	m := newTestMonitor(p)

	if !m.Reachable(context.Background()) {
		t.Fatal("Reachable() = false with healthy probe")
	}
	calls := p.calls.Load()
	// Hot path within the cache window must not probe again.
	for i := 0; i < 5; i++ {
		m.Reachable(context.Background())
	}
	if p.calls.Load() != calls {
		t.Errorf("probe called %d times within cache window, want %d", p.calls.Load(), calls)
	}
}

func TestCacheExpiry(t *testing.T) {
	p := &flakyProbe{}
	p.up.Store(true)
	m := newTestMonitor(p)
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Reachable(context.Background())
	calls := p.calls.Load()

	now = now.Add(5 * time.Second)
	m.Reachable(context.Background())
	if p.calls.Load() != calls+1 {
		t.Error("expired cache must trigger a fresh probe")
	}
}

func TestOnRestoredEdgeTriggered(t *testing.T) {
	p := &flakyProbe{}
	m := newTestMonitor(p)

	var fired atomic.Int32
	m.OnRestored(func() { fired.Add(1) })

	// Unknown → Offline: no restore.
	m.CheckNow(context.Background())
	// Offline → Online: restore fires once.
	p.up.Store(true)
	m.CheckNow(context.Background())
	// Online → Online: still once, not once per poll.
	m.CheckNow(context.Background())
	m.CheckNow(context.Background())

	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("OnRestored fired %d times, want 1", got)
	}

	// A second Offline → Online cycle fires again.
	p.up.Store(false)
	m.CheckNow(context.Background())
	p.up.Store(true)
	m.CheckNow(context.Background())
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 2 {
		t.Errorf("OnRestored fired %d times after second cycle, want 2", got)
	}
}

func TestUnknownToOnlineDoesNotFireRestore(t *testing.T) {
	p := &flakyProbe{}
	p.up.Store(true)
	m := newTestMonitor(p)

	var fired atomic.Int32
	m.OnRestored(func() { fired.Add(1) })
	m.CheckNow(context.Background())

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("initial Unknown→Online must not fire OnRestored")
	}
}

func TestEnvSignals(t *testing.T) {
	p := &flakyProbe{}
	p.up.Store(true)
	b := bus.New()
	m := NewMonitor(p.probe, time.Hour, time.Hour, b, nil)

	connCh, unsub := b.Subscribe("conn.", 8)
	defer unsub()

	m.Start(context.Background())
	defer m.Stop()

	// Initial probe reports online.
	waitKind(t, connCh, "conn.online")

	// Host says offline: state drops without probing.
	b.Emit("env.offline", nil)
	waitKind(t, connCh, "conn.offline")
	if m.State() != Offline {
		t.Errorf("State() = %s after env.offline", m.State())
	}

	// Host says online: verified by probe, edge publishes conn.online.
	b.Emit("env.online", nil)
	waitKind(t, connCh, "conn.online")
}

func waitKind(t *testing.T, ch <-chan bus.Event, kind string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}
