package turnlock

import (
  "context"
  "fmt"
  "time"

  "github.com/google/uuid"
  "github.com/redis/go-redis/v9"

  "github.com/converse-labs/converse-backend/internal/logger"
)

// RedisLock holds the in-flight set in redis so several backend processes
// can serialize turns on the same conversation. The lease TTL bounds how
// long a crashed holder can wedge a conversation; it must comfortably
// exceed the completion gateway deadline.
type RedisLock struct {
  log       *logger.Logger
  client    *redis.Client
  ttl       time.Duration
}

func NewRedisLock(baseLog *logger.Logger, address, password string, ttl time.Duration) (*RedisLock, error) {
  opt := &redis.Options{
    Addr:     address,
    Password: password,
    DB:       0,
  }
  rdb := redis.NewClient(opt)

  ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
  defer cancel()
  if err := rdb.Ping(ctx).Err(); err != nil {
    return nil, fmt.Errorf("redis ping failed: %w", err)
  }
  return &RedisLock{
    log:    baseLog.With("component", "RedisTurnLock"),
    client: rdb,
    ttl:    ttl,
  }, nil
}

func leaseKey(conversationID uuid.UUID) string {
  return "turnlock:" + conversationID.String()
}

func (rl *RedisLock) TryAcquire(ctx context.Context, conversationID uuid.UUID) (bool, error) {
  ok, err := rl.client.SetNX(ctx, leaseKey(conversationID), "1", rl.ttl).Result()
  if err != nil {
    rl.log.Warn("failed to acquire turn lease", "conversationID", conversationID, "error", err)
    return false, err
  }
  return ok, nil
}

func (rl *RedisLock) Release(ctx context.Context, conversationID uuid.UUID) error {
  if err := rl.client.Del(ctx, leaseKey(conversationID)).Err(); err != nil {
    rl.log.Warn("failed to release turn lease", "conversationID", conversationID, "error", err)
    return err
  }
  return nil
}

func (rl *RedisLock) Close() error {
  return rl.client.Close()
}
