package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "funland:sess:"

// RedisStore keeps sessions as JSON strings with a TTL.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	b, err := s.rdb.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var out Session
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &out, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.rdb.Set(ctx, redisKeyPrefix+sess.ID, b, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, redisKeyPrefix+id).Err()
}

// MemoryStore is the single-process fallback. Entries are stored encoded so a
// loaded session never aliases the stored one.
type MemoryStore struct {
	c *gocache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{c: gocache.New(ttl, 10*time.Minute)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	v, ok := s.c.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	var out Session
	if err := json.Unmarshal(v.([]byte), &out); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &out, nil
}

func (s *MemoryStore) Save(_ context.Context, sess *Session, ttl time.Duration) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	s.c.Set(sess.ID, b, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.c.Delete(id)
	return nil
}
