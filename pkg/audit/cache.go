package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// CacheConfig configures a CachedAdapter
type CacheConfig struct {
	// Size is the number of records kept in process (default: 1024)
	Size int

	// TTL bounds how long a record stays cached (default: 10m)
	TTL time.Duration

	// Redis is an optional shared second level
	Redis     *redis.Client
	KeyPrefix string

	Logger logrus.FieldLogger
}

// CachedAdapter is a read-through cache for single record lookups. Persisted
// records never change, so entries are only evicted by size and age. Only
// lookups by a record's full id are cached.
type CachedAdapter struct {
	next   Adapter
	local  *lru.LRU[string, *Record]
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewCachedAdapter wraps next with a record cache
func NewCachedAdapter(next Adapter, cfg CacheConfig) *CachedAdapter {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "stateaudit:"
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}

	return &CachedAdapter{
		next:   next,
		local:  lru.NewLRU[string, *Record](cfg.Size, nil, cfg.TTL),
		redis:  cfg.Redis,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
	}
}

func (c *CachedAdapter) key(id string) string {
	return c.prefix + "state:" + id
}

// store puts rec in both cache levels under id
func (c *CachedAdapter) store(ctx context.Context, id string, rec *Record) {
	c.local.Add(id, rec.clone())

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.WithError(err).WithField("id", id).Warn("Failed to encode audit record for cache")
		return
	}
	if err := c.redis.Set(ctx, c.key(id), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("id", id).Warn("Failed to cache audit record in redis")
	}
}

// lookup checks both cache levels
func (c *CachedAdapter) lookup(ctx context.Context, id string) (*Record, bool) {
	if rec, ok := c.local.Get(id); ok {
		return rec.clone(), true
	}
	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		return nil, false
	} else if err != nil {
		c.logger.WithError(err).WithField("id", id).Warn("Redis lookup failed")
		return nil, false
	}

	rec, err := decodePayload(data)
	if err != nil {
		// drop the corrupt entry
		c.redis.Del(ctx, c.key(id))
		return nil, false
	}
	c.local.Add(id, rec.clone())
	return rec, true
}

// Send persists through the wrapped adapter and primes the cache
func (c *CachedAdapter) Send(ctx context.Context, rec *Record) (*Record, error) {
	persisted, err := c.next.Send(ctx, rec)
	if err != nil {
		return nil, err
	}
	if persisted.ID != "" {
		c.store(ctx, persisted.ID, persisted)
	}
	return persisted, nil
}

// GetStateByID serves the record from cache when present
func (c *CachedAdapter) GetStateByID(ctx context.Context, id string) (*Record, error) {
	if rec, ok := c.lookup(ctx, id); ok {
		return rec, nil
	}

	rec, err := c.next.GetStateByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// a partial id may resolve to a newer record later
	if rec.ID == id {
		c.store(ctx, id, rec)
	}
	return rec, nil
}

// GetSnapshot resolves the record through the cache
func (c *CachedAdapter) GetSnapshot(ctx context.Context, id string, post bool) (Snapshot, error) {
	return lookupSnapshot(ctx, c, id, post)
}

// Len returns the number of records cached in process
func (c *CachedAdapter) Len() int {
	return c.local.Len()
}

func (c *CachedAdapter) GetStates(ctx context.Context, opts ListOptions) ([]*Record, error) {
	return c.next.GetStates(ctx, opts)
}

func (c *CachedAdapter) GetStateByModel(ctx context.Context, model, modelID string) ([]*Record, error) {
	return c.next.GetStateByModel(ctx, model, modelID)
}

func (c *CachedAdapter) GetStateByTimestamp(ctx context.Context, from, backTo time.Time) ([]*Record, error) {
	return c.next.GetStateByTimestamp(ctx, from, backTo)
}

func (c *CachedAdapter) GetStateByDate(ctx context.Context, from, backTo string) ([]*Record, error) {
	return c.next.GetStateByDate(ctx, from, backTo)
}
