package unread

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCommands backs the store with an in-memory counter map.
type fakeCommands struct {
	values  map[string]int64
	expires map[string]time.Duration
	failAll bool
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{
		values:  make(map[string]int64),
		expires: make(map[string]time.Duration),
	}
}

var errFake = fmt.Errorf("connection refused")

func (f *fakeCommands) IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd {
	if f.failAll {
		return redis.NewIntResult(0, errFake)
	}
	f.values[key] += value
	return redis.NewIntResult(f.values[key], nil)
}

func (f *fakeCommands) DecrBy(ctx context.Context, key string, decrement int64) *redis.IntCmd {
	if f.failAll {
		return redis.NewIntResult(0, errFake)
	}
	f.values[key] -= decrement
	return redis.NewIntResult(f.values[key], nil)
}

func (f *fakeCommands) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	if f.failAll {
		return redis.NewBoolResult(false, errFake)
	}
	f.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCommands) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.failAll {
		return redis.NewStringResult("", errFake)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(fmt.Sprintf("%d", value), nil)
}

func (f *fakeCommands) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.failAll {
		return redis.NewStatusResult("", errFake)
	}
	switch v := value.(type) {
	case int:
		f.values[key] = int64(v)
	case int64:
		f.values[key] = v
	}
	f.expires[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCommands) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	if f.failAll {
		return redis.NewIntResult(0, errFake)
	}
	for _, key := range keys {
		delete(f.values, key)
		delete(f.expires, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestStoreIncrementSetsTTL(t *testing.T) {
	fake := newFakeCommands()
	store := NewStore(fake, 30*24*time.Hour)

	require.NoError(t, store.Increment(context.Background(), "provider-1", 1))
	require.NoError(t, store.Increment(context.Background(), "provider-1", 1))

	count, err := store.Read(context.Background(), "provider-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 30*24*time.Hour, fake.expires["unread:provider-1"])
}

func TestStoreReadMissingCounterIsZero(t *testing.T) {
	store := NewStore(newFakeCommands(), time.Hour)

	count, err := store.Read(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStoreDecrementClampsAtZero(t *testing.T) {
	fake := newFakeCommands()
	store := NewStore(fake, time.Hour)

	require.NoError(t, store.Increment(context.Background(), "provider-1", 1))
	require.NoError(t, store.Decrement(context.Background(), "provider-1", 5))

	count, err := store.Read(context.Background(), "provider-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStoreReset(t *testing.T) {
	fake := newFakeCommands()
	store := NewStore(fake, time.Hour)

	require.NoError(t, store.Increment(context.Background(), "provider-1", 3))
	require.NoError(t, store.Reset(context.Background(), "provider-1"))

	count, err := store.Read(context.Background(), "provider-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStorePropagatesErrors(t *testing.T) {
	fake := newFakeCommands()
	fake.failAll = true
	store := NewStore(fake, time.Hour)
	ctx := context.Background()

	assert.Error(t, store.Increment(ctx, "provider-1", 1))
	assert.Error(t, store.Decrement(ctx, "provider-1", 1))
	assert.Error(t, store.Reset(ctx, "provider-1"))
	_, err := store.Read(ctx, "provider-1")
	assert.Error(t, err)
}
