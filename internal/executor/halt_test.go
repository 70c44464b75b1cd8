package executor

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaltFlagRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	flag := NewHaltFlag(client)
	ctx := context.Background()

	halted, err := flag.IsHalted(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, halted)

	require.NoError(t, flag.Halt(ctx, "run-1"))

	halted, err = flag.IsHalted(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, halted)

	// Other runs are unaffected
	halted, err = flag.IsHalted(ctx, "run-2")
	require.NoError(t, err)
	assert.False(t, halted)
}

func TestHaltFlagExpires(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	flag := NewHaltFlag(client)
	ctx := context.Background()

	require.NoError(t, flag.Halt(ctx, "run-1"))
	mr.FastForward(haltTTL)

	halted, err := flag.IsHalted(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, halted, "the flag outlives every window but not forever")
}
