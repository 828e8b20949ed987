package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltykit/core"
)

// newTestClient spins up a miniredis server and returns a client plus cleanup.
func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return client, mr, cleanup
}

func TestStore_CreateAndGet(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	table := core.DefaultRuleTable()

	v := core.NewAttributeVector("test-user", table, time.Now())
	require.NoError(t, store.Create(ctx, v))
	assert.ErrorIs(t, store.Create(ctx, v), core.ErrConflict)

	got, err := store.Get(ctx, "test-user")
	require.NoError(t, err)
	assert.Equal(t, core.TierStandard, got.CategoricalTier)
	assert.True(t, got.CumulativeSpend.IsZero())

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_AtomicUpdate(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	table := core.DefaultRuleTable()
	require.NoError(t, store.Create(ctx, core.NewAttributeVector("u", table, time.Now())))

	next, err := store.AtomicUpdate(ctx, "u", func(cur core.AttributeVector) (core.AttributeVector, error) {
		return cur.Apply(core.Delta{Points: 1000, Activity: 2, Spend: decimal.NewFromInt(5_000_000)}, table, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, 1, next.DerivedLevel)

	got, err := store.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Points)
	assert.True(t, got.CumulativeSpend.Equal(decimal.NewFromInt(5_000_000)))
	assert.Equal(t, 1, got.DerivedLevel)

	_, err = store.AtomicUpdate(ctx, "missing", func(cur core.AttributeVector) (core.AttributeVector, error) { return cur, nil })
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_AtomicUpdateConflictIsTransient(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	table := core.DefaultRuleTable()
	require.NoError(t, store.Create(ctx, core.NewAttributeVector("u", table, time.Now())))

	_, err := store.AtomicUpdate(ctx, "u", func(cur core.AttributeVector) (core.AttributeVector, error) {
		// a write from another client lands between WATCH and EXEC
		require.NoError(t, client.Set(ctx, store.userKey("u"), `{"user_id":"u","points":7,"cumulative_spend":"0","categorical_tier":"standard"}`, 0).Err())
		return cur.Apply(core.Delta{Points: 1}, table, time.Now())
	})
	assert.ErrorIs(t, err, core.ErrTransient)

	got, err := store.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Points)
}

func TestStore_ConcurrentUpdatesWithRetry(t *testing.T) {
	client, _, cleanup := newTestClient(t)
	defer cleanup()

	store := NewWithClient(client)
	ctx := context.Background()
	table := core.DefaultRuleTable()
	require.NoError(t, store.Create(ctx, core.NewAttributeVector("u", table, time.Now())))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := store.AtomicUpdate(ctx, "u", func(cur core.AttributeVector) (core.AttributeVector, error) {
					return cur.Apply(core.Delta{Points: 3}, table, time.Now())
				})
				if !core.IsTransient(err) {
					assert.NoError(t, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.Points)
}

func TestStore_ConnectionErrorIsTransient(t *testing.T) {
	client, mr, cleanup := newTestClient(t)
	defer cleanup()
	store := NewWithClient(client)
	mr.Close()

	_, err := store.Get(context.Background(), "u")
	assert.ErrorIs(t, err, core.ErrTransient)
}

func TestNew_ConnectionError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	_, err := New(cfg)
	assert.ErrorIs(t, err, core.ErrTransient)
}
