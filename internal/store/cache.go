package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCacheUnavailable is returned while the cache circuit is open.
// Callers fall back to the database.
var ErrCacheUnavailable = errors.New("cache unavailable")

// ErrCacheMiss is returned when a key is absent.
var ErrCacheMiss = errors.New("cache miss")

// RedisConfig configures the cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// Cache key layout.
const (
	keySettings = "solbot:settings:all"
	keyStatus   = "solbot:status"
	keyCandles  = "solbot:candles:%s:%s"
)

// Default TTLs.
const (
	settingsTTL = time.Hour
	statusTTL   = time.Minute
	candlesTTL  = 30 * time.Second
)

// Cache wraps Redis with graceful degradation. After repeated failures it
// stops hitting Redis until a later call succeeds again; the engine keeps
// trading on database reads alone.
type Cache struct {
	client       *redis.Client
	logger       zerolog.Logger
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	maxFailures  int
}

// NewCache connects to Redis. A failed initial connection returns the
// cache in degraded mode rather than an error.
func NewCache(cfg RedisConfig, logger zerolog.Logger) (*Cache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis not enabled")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	c := &Cache{
		client:      client,
		logger:      logger.With().Str("component", "cache").Logger(),
		maxFailures: 3,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("initial redis connection failed, running degraded")
		return c, nil
	}
	c.healthy = true
	c.logger.Info().Str("address", cfg.Address).Msg("redis connected")
	return c, nil
}

// IsHealthy reports whether Redis is currently usable.
func (c *Cache) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Cache) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	if c.failureCount >= c.maxFailures && c.healthy {
		c.logger.Warn().Int("failures", c.failureCount).Msg("redis marked unhealthy")
		c.healthy = false
	}
}

func (c *Cache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.healthy && c.failureCount > 0 {
		c.logger.Info().Msg("redis recovered")
	}
	c.failureCount = 0
	c.healthy = true
}

func (c *Cache) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, doc, ttl).Err(); err != nil {
		c.recordFailure()
		return fmt.Errorf("%w: set %s: %v", ErrCacheUnavailable, key, err)
	}
	c.recordSuccess()
	return nil
}

func (c *Cache) getJSON(ctx context.Context, key string, out interface{}) error {
	doc, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.recordSuccess()
		return fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("%w: get %s: %v", ErrCacheUnavailable, key, err)
	}
	c.recordSuccess()
	return json.Unmarshal(doc, out)
}

// SetSettings caches the full settings list.
func (c *Cache) SetSettings(ctx context.Context, settings []Setting) error {
	return c.setJSON(ctx, keySettings, settings, settingsTTL)
}

// GetSettings returns the cached settings list.
func (c *Cache) GetSettings(ctx context.Context) ([]Setting, error) {
	var out []Setting
	if err := c.getJSON(ctx, keySettings, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InvalidateSettings drops the cached settings after a write.
func (c *Cache) InvalidateSettings(ctx context.Context) {
	if err := c.client.Del(ctx, keySettings).Err(); err != nil {
		c.recordFailure()
		return
	}
	c.recordSuccess()
}

// SetStatus caches the engine status document served to the dashboard.
func (c *Cache) SetStatus(ctx context.Context, status interface{}) error {
	return c.setJSON(ctx, keyStatus, status, statusTTL)
}

// GetStatus loads the cached status document into out.
func (c *Cache) GetStatus(ctx context.Context, out interface{}) error {
	return c.getJSON(ctx, keyStatus, out)
}

// SetCandles caches a candle payload per symbol and interval.
func (c *Cache) SetCandles(ctx context.Context, symbol, interval string, candles interface{}) error {
	return c.setJSON(ctx, fmt.Sprintf(keyCandles, symbol, interval), candles, candlesTTL)
}

// GetCandles loads cached candles into out.
func (c *Cache) GetCandles(ctx context.Context, symbol, interval string, out interface{}) error {
	return c.getJSON(ctx, fmt.Sprintf(keyCandles, symbol, interval), out)
}

// Close shuts down the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
