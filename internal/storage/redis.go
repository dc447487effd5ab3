package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stoerbot/internal/disruption"
	logx "stoerbot/pkg/logx"
)

const defaultRedisKey = "stoerbot:state"

// kv is the subset of Redis the store needs.
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// redisStore keeps the same JSON document as the file driver under one key.
type redisStore struct {
	log logx.Logger
	kv  kv
	key string
	now func() time.Time
}

type goRedis struct{ rdb *redis.Client }

func (c goRedis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (c goRedis) Set(ctx context.Context, key string, value []byte) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

func (c goRedis) Close() error { return c.rdb.Close() }

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.RedisURL)
	if url == "" {
		return nil, errors.New("storage.redis_url is required for redis driver")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisStore(goRedis{rdb: rdb}, cfg.RedisKey, log), nil
}

func newRedisStore(c kv, key string, log logx.Logger) *redisStore {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisKey
	}
	return &redisStore{log: log, kv: c, key: key, now: time.Now}
}

func (s *redisStore) Driver() string { return "redis" }

func (s *redisStore) Load(ctx context.Context) (*disruption.KnownState, error) {
	b, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return decodeState(b)
}

func (s *redisStore) Save(ctx context.Context, k *disruption.KnownState) error {
	b, err := encodeState(k, s.now())
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key, b); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *redisStore) Close() error { return s.kv.Close() }
