package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ai-call-center/internal/calls"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScripter evaluates the two session scripts against an in-memory counter.
type fakeScripter struct {
	mu       sync.Mutex
	counters map[string]int
	ttls     map[string]string
}

func newFakeScripter() *fakeScripter {
	return &fakeScripter{counters: map[string]int{}, ttls: map[string]string{}}
}

func (f *fakeScripter) run(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewCmd(ctx)
	key := keys[0]
	switch sha {
	case sessionAcquireScript.Hash():
		f.counters[key]++
		f.ttls[key] = fmt.Sprint(args[1])
		if f.counters[key] > 1 {
			f.counters[key]--
			cmd.SetVal(int64(0))
			return cmd
		}
		cmd.SetVal(int64(1))
	case sessionReleaseScript.Hash():
		f.counters[key]--
		if f.counters[key] <= 0 {
			delete(f.counters, key)
		}
		cmd.SetVal(int64(1))
	default:
		cmd.SetErr(fmt.Errorf("unknown script %s", sha))
	}
	return cmd
}

func (f *fakeScripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(ctx, redis.NewScript(script).Hash(), keys, args...)
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(ctx, sha1, keys, args...)
}

func (f *fakeScripter) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeScripter) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal(redis.NewScript(script).Hash())
	return cmd
}

func TestRedisGuard_OneSessionPerEndpoint(t *testing.T) {
	rdb := newFakeScripter()
	g := NewRedisGuard(rdb, time.Minute)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "pbx:5038")
	require.NoError(t, err)
	assert.Equal(t, "60000", rdb.ttls[sessionKeyPrefix+"pbx:5038"])

	_, err = g.Acquire(ctx, "pbx:5038")
	assert.ErrorIs(t, err, ErrEndpointBusy)

	other, err := g.Acquire(ctx, "pbx2:5038")
	require.NoError(t, err)
	other()

	release()
	release()
	assert.Empty(t, rdb.counters, "release is idempotent and frees the slot")

	again, err := g.Acquire(ctx, "pbx:5038")
	require.NoError(t, err)
	again()
}

func TestRedisGuard_RequiresKey(t *testing.T) {
	_, err := NewRedisGuard(newFakeScripter(), 0).Acquire(context.Background(), "")
	assert.Error(t, err)
}

func TestLocalGuard(t *testing.T) {
	g := NewLocalGuard()
	key := sessionKey(calls.Credential{Host: "::1", Port: 5038})
	assert.Equal(t, "[::1]:5038", key)

	release, err := g.Acquire(context.Background(), key)
	require.NoError(t, err)
	_, err = g.Acquire(context.Background(), key)
	assert.ErrorIs(t, err, ErrEndpointBusy)
	release()
	_, err = g.Acquire(context.Background(), key)
	assert.NoError(t, err)
}
