package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const blacklistKeyPrefix = "auth:blacklist:"

// BlacklistCache is a Redis fast path in front of the database blacklist.
// It is purely an optimisation: a nil client or a Redis failure degrades to
// the database lookup, never to a wrong answer. Keys are token digests so
// the signed strings themselves never land in Redis.
type BlacklistCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewBlacklistCache constructs a blacklist cache. The client may be nil.
func NewBlacklistCache(client *redis.Client, logger *zap.Logger) *BlacklistCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlacklistCache{client: client, logger: logger}
}

// Add marks a token as blacklisted until its expiry.
func (c *BlacklistCache) Add(ctx context.Context, token string, ttl time.Duration) {
	if c.client == nil || ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, blacklistKey(token), "1", ttl).Err(); err != nil {
		c.logger.Warn("blacklist cache set failed", zap.Error(err))
	}
}

// Contains reports whether the token is known to be blacklisted. The second
// return value is false when the cache could not answer and the caller must
// fall back to the database.
func (c *BlacklistCache) Contains(ctx context.Context, token string) (found bool, ok bool) {
	if c.client == nil {
		return false, false
	}
	n, err := c.client.Exists(ctx, blacklistKey(token)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("blacklist cache lookup failed", zap.Error(err))
		}
		return false, false
	}
	// A hit is authoritative; a miss still needs the database because the
	// cache may have been cold when the token was revoked.
	return n > 0, n > 0
}

// Close releases the underlying Redis connection if present.
func (c *BlacklistCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func blacklistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%s%s", blacklistKeyPrefix, hex.EncodeToString(sum[:]))
}
