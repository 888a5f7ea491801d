package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("SIGWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SIGWATCH_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPollLeaseExclusive(t *testing.T) {
	ctx := context.Background()
	c := testClient(t)
	key := "sigwatch:test:" + uuid.NewString()

	a := NewPollLease(c, key, 2*time.Second)
	b := NewPollLease(c, key, 2*time.Second)
	assert.NotEqual(t, a.Token(), b.Token())

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// renewal by the holder
	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// only the holder can release
	require.NoError(t, b.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx))
}
