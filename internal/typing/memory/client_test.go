package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndList(t *testing.T) {
	ctx := context.Background()
	c := New(time.Second)

	require.NoError(t, c.Set(ctx, "room1", "alice", true))
	require.NoError(t, c.Set(ctx, "room1", "bob", true))
	require.NoError(t, c.Set(ctx, "room2", "carol", true))

	users, err := c.List(ctx, "room1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)

	// Сняли флаг (blur) — пользователь сразу пропадает из списка
	require.NoError(t, c.Set(ctx, "room1", "alice", false))
	users, err = c.List(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	c := New(20 * time.Millisecond)

	require.NoError(t, c.Set(ctx, "room1", "alice", true))
	time.Sleep(40 * time.Millisecond)

	users, err := c.List(ctx, "room1")
	require.NoError(t, err)
	assert.Empty(t, users, "flag expires without refresh")
}

func TestRefreshExtendsTTL(t *testing.T) {
	ctx := context.Background()
	c := New(50 * time.Millisecond)

	require.NoError(t, c.Set(ctx, "room1", "alice", true))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, c.Set(ctx, "room1", "alice", true))
	time.Sleep(30 * time.Millisecond)

	users, err := c.List(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users, "refreshed flag survives past the original TTL")
}
