package redisbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping redis test")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestNewDefaults(t *testing.T) {
	b := New(nil, "", nil)
	assert.Equal(t, DefaultChannel, b.channel)
	assert.NotEmpty(t, b.Origin())
	assert.NotEqual(t, b.Origin(), New(nil, "", nil).Origin())
}

func TestBusDeliversToOtherInstances(t *testing.T) {
	rdb := requireRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := "whitelistkit:test:" + time.Now().Format("150405.000000")
	sender := New(rdb, channel, nil)
	receiver := New(rdb, channel, nil)

	selfHits := make(chan struct{}, 1)
	require.NoError(t, sender.Subscribe(ctx, func() { selfHits <- struct{}{} }))

	got := make(chan struct{}, 1)
	require.NoError(t, receiver.Subscribe(ctx, func() { got <- struct{}{} }))

	require.NoError(t, sender.Publish(ctx))

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not get the invalidation")
	}

	select {
	case <-selfHits:
		t.Fatal("publisher invalidated itself from its own message")
	case <-time.After(200 * time.Millisecond):
	}
}
