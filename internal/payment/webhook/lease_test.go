package webhook

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilEventLeaseAlwaysGrants(t *testing.T) {
	var lease *EventLease

	token, ok, err := lease.TryAcquire(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, lease.Release(context.Background(), "evt_1", token))

	assert.Nil(t, NewEventLease(nil, time.Minute))
	assert.Nil(t, NewLocker(nil))
}

func TestLockerRejectsBadArguments(t *testing.T) {
	locker := &Locker{client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})}
	t.Cleanup(func() { _ = locker.client.Close() })

	_, _, err := locker.TryLock(context.Background(), "", time.Second)
	assert.Error(t, err)
	_, _, err = locker.TryLock(context.Background(), "k", 0)
	assert.Error(t, err)

	var missing *Locker
	_, _, err = missing.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, errLeaseUnavailable)
}

func TestLeaseKey(t *testing.T) {
	assert.Equal(t, "storefront:payment_event:evt_1", leaseKey(" evt_1 "))
	assert.Empty(t, leaseKey(""))
}

func TestEventLeaseAgainstRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis-dependent test: REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping Redis-dependent test: %v", err)
	}

	lease := NewEventLease(NewLocker(client), 5*time.Second)
	eventID := "evt_lease_" + time.Now().Format("150405.000000")

	token, ok, err := lease.TryAcquire(ctx, eventID)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lease.TryAcquire(ctx, eventID)
	require.NoError(t, err)
	assert.False(t, ok, "second delivery must not acquire a held lease")

	// A stale token must not release someone else's lease.
	require.NoError(t, lease.Release(ctx, eventID, "stale"))
	_, ok, err = lease.TryAcquire(ctx, eventID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lease.Release(ctx, eventID, token))
	_, ok, err = lease.TryAcquire(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, ok)
	_ = client.Del(ctx, leaseKey(eventID)).Err()
}
