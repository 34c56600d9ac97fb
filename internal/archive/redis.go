package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisArchive stores logs as plain string keys, optionally expiring.
type RedisArchive struct {
	rdb       redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisArchive creates an archive on rdb. A zero ttl keeps logs forever.
func NewRedisArchive(rdb redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisArchive {
	return &RedisArchive{rdb: rdb, keyPrefix: keyPrefix, ttl: ttl}
}

func (a *RedisArchive) key(parts ...string) string {
	if a.keyPrefix == "" {
		return fmt.Sprintf("legendlog:%s", strings.Join(parts, ":"))
	}
	return fmt.Sprintf("%s:%s", a.keyPrefix, strings.Join(parts, ":"))
}

func (a *RedisArchive) Get(ctx context.Context, repo, checkRunID string) (string, error) {
	body, err := a.rdb.Get(ctx, a.key("log", repo, checkRunID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading archived log %s: %w", checkRunID, err)
	}
	return body, nil
}

func (a *RedisArchive) Put(ctx context.Context, repo, checkRunID, body string) error {
	if err := a.rdb.Set(ctx, a.key("log", repo, checkRunID), body, a.ttl).Err(); err != nil {
		return fmt.Errorf("archiving log %s: %w", checkRunID, err)
	}
	return nil
}
