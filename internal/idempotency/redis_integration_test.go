//go:build integration

package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	rc, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Terminate(ctx) })

	uri, err := rc.ConnectionString(ctx)
	require.NoError(t, err)
	addr := uri[len("redis://"):]

	rdb := NewRedisClient(addr)
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewRedisStore(rdb, time.Hour)
	require.NoError(t, s.Ping(ctx))

	ok, err := s.Claim(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	e, found, err := s.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, e.Pending)

	require.NoError(t, s.Complete(ctx, "abc", 42))
	e, found, err = s.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Entry{OrderID: 42}, e)

	ttl, err := rdb.TTL(ctx, "idem:order:create:abc").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, PendingTTL)

	ok, err = s.Claim(ctx, "released")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Release(ctx, "released"))
	_, found, err = s.Lookup(ctx, "released")
	require.NoError(t, err)
	assert.False(t, found)
}
