// Copyright 2025 Mech Services, Inc.
package backend

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return New(client), mr
}

func TestPushReserveComplete(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.SaveJob(ctx, "j1", `{"id":"j1"}`, "waiting", 0))
	require.NoError(t, b.Push(ctx, "email", "j1", 0))

	id, err := b.Reserve(ctx, "email", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "j1", id)

	stats, err := b.Stats(ctx, "email")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Waiting)
	assert.Equal(t, int64(1), stats.Active)

	require.NoError(t, b.Complete(ctx, "email", "j1", time.Now()))
	stats, err = b.Stats(ctx, "email")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestReserveEmptyQueue(t *testing.T) {
	b, _ := setup(t)
	_, err := b.Reserve(context.Background(), "empty", time.Second)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestReserveHonorsPriorityThenFIFO(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	for _, j := range []struct {
		id   string
		prio int
	}{{"low-1", 0}, {"low-2", 0}, {"high-1", 5}} {
		require.NoError(t, b.SaveJob(ctx, j.id, "{}", "waiting", j.prio))
		require.NoError(t, b.Push(ctx, "q", j.id, j.prio))
	}

	order := []string{}
	for i := 0; i < 3; i++ {
		id, err := b.Reserve(ctx, "q", time.Minute)
		require.NoError(t, err)
		order = append(order, id)
	}
	assert.Equal(t, []string{"high-1", "low-1", "low-2"}, order)
}

func TestPausedQueueReservesNothing(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.SaveJob(ctx, "j1", "{}", "waiting", 0))
	require.NoError(t, b.Push(ctx, "q", "j1", 0))
	require.NoError(t, b.Pause(ctx, "q"))

	_, err := b.Reserve(ctx, "q", time.Minute)
	assert.ErrorIs(t, err, ErrNoJob)

	paused, err := b.IsPaused(ctx, "q")
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, b.Resume(ctx, "q"))
	id, err := b.Reserve(ctx, "q", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "j1", id)
}

func TestDelayedPromotion(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.SaveJob(ctx, "j1", "{}", "delayed", 3))
	require.NoError(t, b.DelayUntil(ctx, "q", "j1", time.Now().Add(50*time.Millisecond)))

	n, err := b.PromoteDue(ctx, "q", 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	time.Sleep(60 * time.Millisecond)
	n, err = b.PromoteDue(ctx, "q", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	id, err := b.Reserve(ctx, "q", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "j1", id)
}

func TestReclaimExpired(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.SaveJob(ctx, "j1", "{}", "waiting", 0))
	require.NoError(t, b.Push(ctx, "q", "j1", 0))

	// Reserve with an already-expired visibility window.
	_, err := b.Reserve(ctx, "q", -time.Second)
	require.NoError(t, err)

	n, err := b.ReclaimExpired(ctx, "q", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	id, err := b.Reserve(ctx, "q", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "j1", id)
}

func TestCleanTrimsByAgeAndCount(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, b.SaveJob(ctx, id, "{}", "completed", 0))
		require.NoError(t, b.Complete(ctx, "q", id, old))
	}
	for _, id := range []string{"c", "d", "e"} {
		require.NoError(t, b.SaveJob(ctx, id, "{}", "completed", 0))
		require.NoError(t, b.Complete(ctx, "q", id, time.Now()))
	}

	// Age bound removes the two old entries, count bound keeps two of the rest.
	removed, err := b.Clean(ctx, "q", BucketCompleted, time.Hour, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	stats, err := b.Stats(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Completed)

	_, found, err := b.LoadJob(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemovePending(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.SaveJob(ctx, "j1", "{}", "waiting", 0))
	require.NoError(t, b.Push(ctx, "q", "j1", 0))

	ok, err := b.RemovePending(ctx, "q", "j1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.RemovePending(ctx, "q", "j1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueRegistry(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, b.RegisterQueue(ctx, "email"))
	require.NoError(t, b.RegisterQueue(ctx, "webhook"))
	require.NoError(t, b.RegisterQueue(ctx, "email"))

	names, err := b.QueueNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"email", "webhook"}, names)
}
