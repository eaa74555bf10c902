package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps OTP state in Redis, sharing the ledger across replicas.
// The hourly bucket uses INCR with a window-long TTL set only on the first
// send, so the reset-on-window-expiry check is atomic server-side.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(email string) string { return "otp:" + email + ":meta" }
func bucketKey(email string) string { return "otp:" + email + ":bucket" }

func (s *RedisStore) GetRecord(ctx context.Context, email string) (*Record, error) {
	raw, err := s.client.Get(ctx, recordKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt OTP record for %s: %w", email, err)
	}
	return &rec, nil
}

func (s *RedisStore) PutRecord(ctx context.Context, email string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	// Keep the key a little past its logical expiry so Verify can still
	// observe and report "expired" instead of "no_pending".
	ttl := time.Until(rec.ExpiresAt) + time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, recordKey(email), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteRecord(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, recordKey(email)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrSendBucket(ctx context.Context, email string, window time.Duration) (int, error) {
	key := bucketKey(email)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return int(incr.Val()), nil
}
