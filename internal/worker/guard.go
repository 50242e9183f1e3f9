package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"ai-call-center/internal/calls"
	"ai-call-center/pkg/logger"

	"github.com/redis/go-redis/v9"
)

var ErrEndpointBusy = errors.New("worker: telephony endpoint busy")

// SessionGuard keeps at most one control session open per telephony endpoint.
// Acquire fails fast with ErrEndpointBusy instead of waiting.
type SessionGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func sessionKey(c calls.Credential) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LocalGuard enforces the rule within this process only.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalGuard() *LocalGuard { return &LocalGuard{held: map[string]struct{}{}} }

func (g *LocalGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointBusy, key)
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

const sessionKeyPrefix = "callcenter:session:"

var sessionAcquireScript = redis.NewScript(`
-- KEYS[1] = counter key
-- ARGV[1] = limit (int)
-- ARGV[2] = ttl_ms (int)
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
elseif redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end

if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var sessionReleaseScript = redis.NewScript(`
-- KEYS[1] = counter key
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// RedisGuard shares the one-session rule across processes.
// The TTL frees slots leaked by a crashed worker.
type RedisGuard struct {
	rdb redis.Scripter
	ttl time.Duration
}

func NewRedisGuard(rdb redis.Scripter, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("worker: session key is required")
	}
	rkey := sessionKeyPrefix + key
	ok, err := sessionAcquireScript.Run(ctx, g.rdb, []string{rkey}, 1, g.ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("worker: acquire session slot: %w", err)
	}
	if ok != 1 {
		return nil, fmt.Errorf("%w: %s", ErrEndpointBusy, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := sessionReleaseScript.Run(rctx, g.rdb, []string{rkey}).Err(); err != nil {
				logger.From(ctx).Warn("release session slot failed", "key", key, "err", err)
			}
		})
	}, nil
}
