package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/smsforward/pkg/storage/redis/redistest"
)

func TestMemoryLeaseTable_ReleaseRequiresToken(t *testing.T) {
	ctx := context.Background()
	table := NewMemoryLeaseTable()

	ok, err := table.Acquire(ctx, 1, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, _ := table.Release(ctx, 1, "b")
	assert.False(t, released)
	held, _ := table.Holds(ctx, 1, "a")
	assert.True(t, held)

	released, _ = table.Release(ctx, 1, "a")
	assert.True(t, released)
	released, _ = table.Release(ctx, 1, "a")
	assert.False(t, released)
}

func TestRedisLeaseTable(t *testing.T) {
	client := redistest.NewClient(t)
	ctx := context.Background()
	table := NewRedisLeaseTable(client, "test:")

	ok, err := table.Acquire(ctx, 9, "owner", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = table.Acquire(ctx, 9, "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := table.Release(ctx, 9, "other")
	require.NoError(t, err)
	assert.False(t, released)

	held, err := table.Holds(ctx, 9, "owner")
	require.NoError(t, err)
	assert.True(t, held)

	released, err = table.Release(ctx, 9, "owner")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = table.Acquire(ctx, 9, "short", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(120 * time.Millisecond)
	ok, err = table.Acquire(ctx, 9, "next", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be acquirable")
}
