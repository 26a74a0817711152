package pipeline

import (
	"context"
	"sync"
	"time"
)

// Gate serializes AI runs per user. TryAcquire is an atomic test-and-set:
// it refuses while a run is in flight or the cooldown window from the last
// admitted attempt has not elapsed, and stamps the attempt time on success.
// Release clears the in-flight flag only; the cooldown window keeps
// running from the acquire.
type Gate interface {
	TryAcquire(ctx context.Context, userID string) bool
	Release(ctx context.Context, userID string)
}

// GateState is a debug snapshot of one user's gate runtime.
type GateState struct {
	InFlight          bool          `json:"in_flight"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
}

// StateReporter is implemented by gates that can report per-user runtime
// state for the debug endpoints.
type StateReporter interface {
	State(ctx context.Context, userID string) GateState
}

// MemoryGate is the in-process Gate used in single-replica deployments.
type MemoryGate struct {
	mu          sync.Mutex
	cooldown    time.Duration
	now         func() time.Time
	lastAttempt map[string]time.Time
	inFlight    map[string]struct{}
}

// NewMemoryGate creates an in-process gate with the given cooldown window.
func NewMemoryGate(cooldown time.Duration) *MemoryGate {
	return &MemoryGate{
		cooldown:    cooldown,
		now:         time.Now,
		lastAttempt: make(map[string]time.Time),
		inFlight:    make(map[string]struct{}),
	}
}

func (g *MemoryGate) TryAcquire(_ context.Context, userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[userID]; busy {
		return false
	}
	now := g.now()
	if last, ok := g.lastAttempt[userID]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.inFlight[userID] = struct{}{}
	g.lastAttempt[userID] = now
	return true
}

func (g *MemoryGate) Release(_ context.Context, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, userID)
}

func (g *MemoryGate) State(_ context.Context, userID string) GateState {
	g.mu.Lock()
	defer g.mu.Unlock()

	var state GateState
	_, state.InFlight = g.inFlight[userID]
	if last, ok := g.lastAttempt[userID]; ok {
		if remaining := g.cooldown - g.now().Sub(last); remaining > 0 {
			state.CooldownRemaining = remaining
		}
	}
	return state
}
