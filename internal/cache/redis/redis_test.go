package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vestd/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, "test:"), mr
}

func TestSignatureRegistryConsumeOnce(t *testing.T) {
	c, mr := newTestClient(t)
	reg := NewSignatureRegistry(c)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	require.NoError(t, reg.Consume(ctx, "abc", exp))
	assert.ErrorIs(t, reg.Consume(ctx, "abc", exp), domain.ErrSignatureReplayed)
	assert.True(t, mr.Exists("test:replay:abc"))
	ttl := mr.TTL("test:replay:abc")
	assert.Greater(t, ttl, time.Hour)

	require.NoError(t, reg.Release(ctx, "abc"))
	require.NoError(t, reg.Consume(ctx, "abc", exp))
}

func TestSignatureRegistryPastExpiryKeepsMinimumTTL(t *testing.T) {
	c, mr := newTestClient(t)
	reg := NewSignatureRegistry(c)

	require.NoError(t, reg.Consume(context.Background(), "old", time.Now().Add(-time.Hour)))
	assert.Equal(t, minReplayTTL, mr.TTL("test:replay:old"))
}

func TestLockManagerExclusive(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "archive", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestRateLimiterWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "5.6.7.8", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = rl.Allow(ctx, "1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBusStreamAndPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, "events:*")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "events:amount_claimed", []byte(`{"n":1}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"n":1}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "log", []byte(p)))
	}
	all, err := bus.StreamRead(ctx, "log", "0", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", string(all[0].Payload))

	rest, err := bus.StreamRead(ctx, "log", all[2].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)

	tail, err := bus.StreamTail(ctx, "log", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "b", string(tail[0].Payload))
	assert.Equal(t, "c", string(tail[1].Payload))
}
