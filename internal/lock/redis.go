package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	appLog "staysync/internal/log"
)

const (
	redisKeyPrefix   = "staysync:lock:"
	defaultLockTTL   = 30 * time.Second
	lockPollInterval = 50 * time.Millisecond
)

var errHeld = errors.New("lock held")

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a Locker shared by every instance pointed at the same server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions mirrors the connection fields of the config file.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	appLog.Info("redis locker ready", "addr", opts.Addr)
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisKeyPrefix + key
	token := uuid.NewString()

	err := retry.Do(
		func() error {
			ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
			if err != nil {
				return err
			}
			if !ok {
				return errHeld
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(lockPollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errHeld) }),
	)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must not depend on the caller's possibly cancelled ctx.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, r.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				appLog.Error("lock release failed", err, "key", key)
			}
		})
	}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
