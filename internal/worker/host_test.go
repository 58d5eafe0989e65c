package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingPolicy 包装 Controller，统计激活次数。
type countingPolicy struct {
	*Controller
	activations atomic.Int32
	installs    atomic.Int32
}

func (p *countingPolicy) OnInstall(ctx context.Context, lc Lifecycle) error {
	p.installs.Add(1)
	return p.Controller.OnInstall(ctx, lc)
}

func (p *countingPolicy) OnActivate(ctx context.Context, lc Lifecycle) ([]string, error) {
	p.activations.Add(1)
	return p.Controller.OnActivate(ctx, lc)
}

func readyNetwork() *fakeNetwork {
	network := newFakeNetwork()
	network.set("/", http.StatusOK, "root")
	network.set("/index.html", http.StatusOK, "index")
	network.set("/manifest.json", http.StatusOK, "{}")
	return network
}

func newTestHost(t *testing.T, policy Policy, retries int) *Host {
	t.Helper()
	host := NewHost(policy, HostOptions{Name: "app", MaxRetries: retries, InitialBackoff: time.Millisecond})
	host.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return host
}

func TestHostStartActivatesAfterInstall(t *testing.T) {
	store := newTestStore(t)
	seedEntry(t, store, "app-v1", "/", "old")
	policy := &countingPolicy{Controller: newTestController(t, store, readyNetwork(), nil)}
	host := newTestHost(t, policy, 0)

	if _, handled := host.Fetch(context.Background(), navigationRequest(t, testOrigin+"/")); handled {
		t.Fatalf("host must not intercept before activation")
	}
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	status := host.Status()
	if status.State != StateActivated || !status.Claimed {
		t.Fatalf("expected activated and claimed, got %+v", status)
	}
	if len(status.Evicted) != 1 || status.Evicted[0] != "app-v1" {
		t.Fatalf("expected app-v1 evicted, got %v", status.Evicted)
	}

	resp, handled := host.Fetch(context.Background(), newRequest(t, http.MethodGet, testOrigin+"/manifest.json", nil))
	if !handled || resp.Source != SourceCache {
		t.Fatalf("activated host should serve core assets from cache, got handled=%v", handled)
	}
	host.Wait()
}

func TestHostHoldsUntilSkipWaitingMessage(t *testing.T) {
	ctrl := newTestController(t, newTestStore(t), readyNetwork(), func(o *Options) { o.HoldActivation = true })
	policy := &countingPolicy{Controller: ctrl}
	host := newTestHost(t, policy, 0)

	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if host.State() != StateInstalled {
		t.Fatalf("expected installed/waiting, got %s", host.State())
	}
	if _, handled := host.Fetch(context.Background(), navigationRequest(t, testOrigin+"/")); handled {
		t.Fatalf("waiting host must not intercept")
	}

	host.PostMessage(context.Background(), Message{Type: "PING"})
	if host.State() != StateInstalled {
		t.Fatalf("unknown message must not activate")
	}

	first := host.PostMessage(context.Background(), Message{Type: MessageSkipWaiting})
	second := host.PostMessage(context.Background(), Message{Type: MessageSkipWaiting})
	if first.State != StateActivated || second.State != StateActivated {
		t.Fatalf("expected activated after SKIP_WAITING, got %s / %s", first.State, second.State)
	}
	if policy.activations.Load() != 1 {
		t.Fatalf("SKIP_WAITING twice must activate exactly once, got %d", policy.activations.Load())
	}
}

func TestHostConcurrentSkipWaitingActivatesOnce(t *testing.T) {
	ctrl := newTestController(t, newTestStore(t), readyNetwork(), func(o *Options) { o.HoldActivation = true })
	policy := &countingPolicy{Controller: ctrl}
	host := newTestHost(t, policy, 0)
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			host.PostMessage(context.Background(), Message{Type: MessageSkipWaiting})
		}()
	}
	wg.Wait()
	if policy.activations.Load() != 1 {
		t.Fatalf("expected one activation, got %d", policy.activations.Load())
	}
}

func TestHostRetriesInstall(t *testing.T) {
	network := readyNetwork()
	network.setOffline(true)
	policy := &countingPolicy{Controller: newTestController(t, newTestStore(t), network, nil)}
	host := newTestHost(t, policy, 2)

	var delays []time.Duration
	host.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 2 {
			network.setOffline(false)
		}
		return nil
	}

	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("start should succeed after retries: %v", err)
	}
	if policy.installs.Load() != 3 {
		t.Fatalf("expected 3 install attempts, got %d", policy.installs.Load())
	}
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Fatalf("expected exponential backoff, got %v", delays)
	}
	if host.State() != StateActivated {
		t.Fatalf("expected activated, got %s", host.State())
	}
}

func TestHostBecomesRedundantAfterRetries(t *testing.T) {
	network := readyNetwork()
	network.setOffline(true)
	store := newTestStore(t)
	policy := &countingPolicy{Controller: newTestController(t, store, network, nil)}
	host := newTestHost(t, policy, 1)

	err := host.Start(context.Background())
	if !errors.Is(err, errOffline) {
		t.Fatalf("expected install error, got %v", err)
	}
	status := host.Status()
	if status.State != StateRedundant || status.LastError == "" {
		t.Fatalf("expected redundant with error, got %+v", status)
	}
	if status.InstallAttempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", status.InstallAttempts)
	}
	if _, handled := host.Fetch(context.Background(), navigationRequest(t, testOrigin+"/")); handled {
		t.Fatalf("redundant host must pass requests through")
	}
	if err := host.Start(context.Background()); err == nil {
		t.Fatalf("second start should be rejected")
	}
}

func TestHostStartHonoursCancellation(t *testing.T) {
	network := readyNetwork()
	network.setOffline(true)
	policy := &countingPolicy{Controller: newTestController(t, newTestStore(t), network, nil)}
	host := NewHost(policy, HostOptions{Name: "app", MaxRetries: 5, InitialBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- host.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("start did not return after cancellation")
	}
}

func TestBackoffCapped(t *testing.T) {
	if got := backoff(time.Second, 0); got != time.Second {
		t.Fatalf("unexpected first delay %v", got)
	}
	if got := backoff(time.Second, 3); got != 8*time.Second {
		t.Fatalf("unexpected fourth delay %v", got)
	}
	if got := backoff(time.Second, 30); got != maxBackoff {
		t.Fatalf("delay should be capped, got %v", got)
	}
	if got := backoff(0, 2); got != 0 {
		t.Fatalf("zero base should not wait, got %v", got)
	}
}
