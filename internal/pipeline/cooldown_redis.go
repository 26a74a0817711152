package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	inFlightKeyPrefix = "ai:inflight:"
	cooldownKeyPrefix = "ai:cooldown:"

	// Safety TTL on the in-flight lock so a crashed replica cannot lock a
	// user out forever.
	inFlightTTL = 10 * time.Minute
)

// Lua script for atomic lock release (only release if we own the lock)
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisGate is the distributed Gate used when multiple replicas share one
// Redis. The in-flight flag is a SETNX lock with a per-acquire token; the
// cooldown window is a separate key whose TTL is the cooldown itself.
// On Redis errors the gate denies, which defers the run to the sweep.
type RedisGate struct {
	client   *redis.Client
	cooldown time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisGate creates a Redis-backed gate with the given cooldown window.
func NewRedisGate(client *redis.Client, cooldown time.Duration) *RedisGate {
	return &RedisGate{
		client:   client,
		cooldown: cooldown,
		tokens:   make(map[string]string),
	}
}

func (g *RedisGate) TryAcquire(ctx context.Context, userID string) bool {
	exists, err := g.client.Exists(ctx, cooldownKeyPrefix+userID).Result()
	if err != nil {
		log.Printf("⚠️ Redis cooldown check failed for user %s: %v", userID, err)
		return false
	}
	if exists > 0 {
		return false
	}

	token := uuid.NewString()
	acquired, err := g.client.SetNX(ctx, inFlightKeyPrefix+userID, token, inFlightTTL).Result()
	if err != nil {
		log.Printf("⚠️ Redis in-flight lock failed for user %s: %v", userID, err)
		return false
	}
	if !acquired {
		return false
	}

	if err := g.client.Set(ctx, cooldownKeyPrefix+userID, "1", g.cooldown).Err(); err != nil {
		log.Printf("⚠️ Redis cooldown stamp failed for user %s: %v", userID, err)
	}

	g.mu.Lock()
	g.tokens[userID] = token
	g.mu.Unlock()
	return true
}

func (g *RedisGate) Release(ctx context.Context, userID string) {
	g.mu.Lock()
	token := g.tokens[userID]
	delete(g.tokens, userID)
	g.mu.Unlock()

	if token == "" {
		return
	}
	if err := releaseScript.Run(ctx, g.client, []string{inFlightKeyPrefix + userID}, token).Err(); err != nil && err != redis.Nil {
		log.Printf("⚠️ Redis gate release failed for user %s: %v", userID, err)
	}
}

func (g *RedisGate) State(ctx context.Context, userID string) GateState {
	var state GateState
	if exists, err := g.client.Exists(ctx, inFlightKeyPrefix+userID).Result(); err == nil {
		state.InFlight = exists > 0
	}
	if ttl, err := g.client.PTTL(ctx, cooldownKeyPrefix+userID).Result(); err == nil && ttl > 0 {
		state.CooldownRemaining = ttl
	}
	return state
}
