package lecturequiz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// VerdictCache remembers semantic verification verdicts so identical
// arguments are not sent to the generative service twice
type VerdictCache interface {
	Get(ctx context.Context, key string) (VerificationOutcome, bool)
	Put(ctx context.Context, key string, out VerificationOutcome)
}

// verdictKey hashes the arguments of one semantic check
func verdictKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryVerdictCache is a bounded in-process cache. When full, an arbitrary
// entry is evicted.
type MemoryVerdictCache struct {
	mu      sync.RWMutex
	entries map[string]VerificationOutcome
	max     int
}

func NewMemoryVerdictCache(max int) *MemoryVerdictCache {
	if max <= 0 {
		max = 4096
	}
	return &MemoryVerdictCache{entries: make(map[string]VerificationOutcome), max: max}
}

func (c *MemoryVerdictCache) Get(_ context.Context, key string) (VerificationOutcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.entries[key]
	return out, ok
}

func (c *MemoryVerdictCache) Put(_ context.Context, key string, out VerificationOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = out
}

// RedisVerdictCache shares verdicts across processes
type RedisVerdictCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *Logger
}

// NewRedisVerdictCache connects to addr and verifies the connection
func NewRedisVerdictCache(ctx context.Context, cfg CacheConfig, log *Logger) (*RedisVerdictCache, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisVerdictCache{
		rdb:    rdb,
		ttl:    ttl,
		prefix: "lecturequiz:verdict:",
		log:    log.orNop().With("service", "RedisVerdictCache"),
	}, nil
}

func (c *RedisVerdictCache) Get(ctx context.Context, key string) (VerificationOutcome, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("verdict cache read failed", "error", err)
		}
		return VerificationOutcome{}, false
	}
	var out VerificationOutcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return VerificationOutcome{}, false
	}
	return out, true
}

func (c *RedisVerdictCache) Put(ctx context.Context, key string, out VerificationOutcome) {
	raw, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("verdict cache write failed", "error", err)
	}
}

func (c *RedisVerdictCache) Close() error {
	return c.rdb.Close()
}
