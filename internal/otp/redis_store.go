package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisGrace keeps a key alive past its validity so that Verify can
// still observe and report the expiry.
const DefaultRedisGrace = time.Minute

// RedisStore keeps records as JSON values, one key per subject.
type RedisStore struct {
	client    redis.Cmdable
	namespace string
	grace     time.Duration
}

// NewRedisStore builds a store under namespace.
func NewRedisStore(client redis.Cmdable, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace, grace: DefaultRedisGrace}
}

func (s *RedisStore) key(subjectID string) string {
	return fmt.Sprintf("%s:otp:%s", s.namespace, subjectID)
}

// Get loads the record for subjectID; a missing key yields ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, subjectID string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(subjectID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode otp record: %w", err)
	}
	return &rec, nil
}

// Put writes rec with a TTL of its validity window plus the grace period.
func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode otp record: %w", err)
	}
	ttl := rec.ExpiresAt.Sub(rec.IssuedAt) + s.grace
	if ttl <= 0 {
		ttl = s.grace
	}
	return s.client.Set(ctx, s.key(rec.SubjectID), string(data), ttl).Err()
}

// Delete removes the subject's key.
func (s *RedisStore) Delete(ctx context.Context, subjectID string) error {
	return s.client.Del(ctx, s.key(subjectID)).Err()
}
