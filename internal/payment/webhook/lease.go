package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyEventLease = "storefront:payment_event:%s"

	leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`
)

var errLeaseUnavailable = errors.New("lease client not configured")

// Lease keeps two concurrent deliveries of one event id from reconciling at
// the same time. Database unique keys still decide correctness.
type Lease interface {
	TryAcquire(ctx context.Context, eventID string) (token string, ok bool, err error)
	Release(ctx context.Context, eventID, token string) error
}

// Locker is a single-key redis mutex released with compare-and-delete.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(leaseReleaseScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errLeaseUnavailable
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// EventLease scopes a Locker to payment event ids.
type EventLease struct {
	locker *Locker
	ttl    time.Duration
}

func NewEventLease(locker *Locker, ttl time.Duration) *EventLease {
	if locker == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &EventLease{locker: locker, ttl: ttl}
}

// ProvideLease connects to redis when configured. Without REDIS_ADDR it
// returns nil and deliveries run without a lease.
func ProvideLease(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Lease {
	if !cfg.Redis.Enabled() {
		log.Info("payment event lease disabled; REDIS_ADDR not set")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("payment event lease redis unreachable", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return NewEventLease(NewLocker(client), time.Duration(cfg.Redis.LeaseSeconds)*time.Second)
}

func (l *EventLease) TryAcquire(ctx context.Context, eventID string) (string, bool, error) {
	if l == nil {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, leaseKey(eventID), l.ttl)
}

func (l *EventLease) Release(ctx context.Context, eventID, token string) error {
	if l == nil {
		return nil
	}
	return l.locker.Release(ctx, leaseKey(eventID), token)
}

func leaseKey(eventID string) string {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return ""
	}
	return fmt.Sprintf(keyEventLease, eventID)
}
