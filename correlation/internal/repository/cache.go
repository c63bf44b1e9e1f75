package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reconhawk/reconhawk-stack/common/logging"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

const cacheKeyPrefix = "reconhawk:correlation:nk:"

// CachedStore remembers natural key to id mappings in Redis so repeated runs over
// the same scans skip the database write. Redis failures fall through to the
// wrapped repository.
type CachedStore struct {
	Repository
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps repo. A zero ttl keeps keys until evicted.
func NewCachedStore(repo Repository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{Repository: repo, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedStore) CreateCorrelation(ctx context.Context, rec *models.CorrelationRecord) (string, error) {
	key := c.key(rec.NaturalKey())

	id, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil && id != "":
		return id, nil
	case err != nil && !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "correlation cache lookup failed", logging.Error(err))
	}

	id, err = c.Repository.CreateCorrelation(ctx, rec)
	if err != nil {
		return "", err
	}
	if err := c.redis.Set(ctx, key, id, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "correlation cache write failed", logging.Error(err))
	}
	return id, nil
}

func (c *CachedStore) key(naturalKey string) string {
	sum := sha256.Sum256([]byte(naturalKey))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
