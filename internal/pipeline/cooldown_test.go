package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestGate(cooldown time.Duration) (*MemoryGate, *time.Time) {
	gate := NewMemoryGate(cooldown)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return now }
	return gate, &now
}

func TestMemoryGateAcquireAndCooldown(t *testing.T) {
	gate, now := newTestGate(8 * time.Second)
	ctx := context.Background()

	if !gate.TryAcquire(ctx, "user-1") {
		t.Fatal("first acquire should succeed")
	}
	if gate.TryAcquire(ctx, "user-1") {
		t.Fatal("second acquire should fail while in flight")
	}

	// Release clears the in-flight flag but not the cooldown window.
	gate.Release(ctx, "user-1")
	if gate.TryAcquire(ctx, "user-1") {
		t.Fatal("acquire should fail inside the cooldown window")
	}

	*now = now.Add(7 * time.Second)
	if gate.TryAcquire(ctx, "user-1") {
		t.Fatal("acquire should still fail one second before the window ends")
	}

	*now = now.Add(1 * time.Second)
	if !gate.TryAcquire(ctx, "user-1") {
		t.Fatal("acquire should succeed once the cooldown has elapsed")
	}
}

func TestMemoryGateIndependentUsers(t *testing.T) {
	gate, _ := newTestGate(8 * time.Second)
	ctx := context.Background()

	if !gate.TryAcquire(ctx, "user-1") {
		t.Fatal("user-1 acquire should succeed")
	}
	if !gate.TryAcquire(ctx, "user-2") {
		t.Fatal("user-2 must not be affected by user-1's gate")
	}
}

func TestMemoryGateConcurrentAcquireSingleWinner(t *testing.T) {
	gate := NewMemoryGate(time.Minute)
	ctx := context.Background()

	const goroutines = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if gate.TryAcquire(ctx, "user-1") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestMemoryGateState(t *testing.T) {
	gate, now := newTestGate(10 * time.Second)
	ctx := context.Background()

	state := gate.State(ctx, "user-1")
	if state.InFlight || state.CooldownRemaining != 0 {
		t.Fatalf("fresh gate should be idle, got %+v", state)
	}

	gate.TryAcquire(ctx, "user-1")
	state = gate.State(ctx, "user-1")
	if !state.InFlight {
		t.Fatal("expected in-flight after acquire")
	}
	if state.CooldownRemaining != 10*time.Second {
		t.Fatalf("expected full cooldown remaining, got %v", state.CooldownRemaining)
	}

	gate.Release(ctx, "user-1")
	*now = now.Add(4 * time.Second)
	state = gate.State(ctx, "user-1")
	if state.InFlight {
		t.Fatal("expected no in-flight after release")
	}
	if state.CooldownRemaining != 6*time.Second {
		t.Fatalf("expected 6s cooldown remaining, got %v", state.CooldownRemaining)
	}
}
