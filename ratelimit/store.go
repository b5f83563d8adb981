package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gomind-ai/agentcore/core"
)

// Store obtains-or-creates the bucket for a given dimension/key pair.
// Buckets are created lazily on first use and live for the process lifetime.
type Store interface {
	GetOrCreate(dimension, key string, max int, interval time.Duration) *Bucket
	// All returns every known bucket keyed by "dimension:key", for the
	// admin surface and the background replenisher.
	All() map[string]*Bucket
}

// MemoryStore is the default, in-process bucket store: a single map of
// mutex-guarded buckets behind one store-level mutex. Each bucket owns its
// own lock; the store's mutex only guards the map.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*Bucket)}
}

func bucketKey(dimension, key string) string {
	return dimension + ":" + key
}

// GetOrCreate returns the bucket for dimension/key, creating it with
// (max, interval) if it does not yet exist. The max/interval passed on a
// later call are ignored once the bucket exists — reconfiguration goes
// through the admin surface's Reconfigure path instead.
func (s *MemoryStore) GetOrCreate(dimension, key string, max int, interval time.Duration) *Bucket {
	full := bucketKey(dimension, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[full]; ok {
		return b
	}
	b := NewBucket(max, interval)
	s.buckets[full] = b
	return b
}

// All returns a shallow copy of the bucket map.
func (s *MemoryStore) All() map[string]*Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Bucket, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = v
	}
	return out
}

// RedisStore layers a best-effort, cross-process usage counter over Redis DB
// 1, conventionally reserved for rate limiting. Admission happens only
// against the local in-memory Bucket; Limiter.Check sends one INCR of the
// agent's usage counter to Redis for each admitted call, for observability
// only, never for the admit/deny decision itself, so a Redis outage never
// causes a denial. Quotas are not shared across processes.
// Cross-process transactional guarantees are explicitly out of scope.
type RedisStore struct {
	*MemoryStore
	client    *redis.Client
	namespace string
	logger    core.Logger
}

// NewRedisStore wraps a MemoryStore with best-effort Redis usage reporting.
func NewRedisStore(redisURL, namespace string, logger core.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, core.NewFrameworkError("ratelimit.NewRedisStore", "ratelimit",
			fmt.Errorf("invalid redis url: %w", err))
	}
	opt.DB = 1 // DB 1: rate limiting, per the framework's DB allocation

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.NewFrameworkError("ratelimit.NewRedisStore", "ratelimit", err)
	}

	return &RedisStore{
		MemoryStore: NewMemoryStore(),
		client:      client,
		namespace:   namespace,
		logger:      logger,
	}, nil
}

// ReportUsage fire-and-forgets an INCR of the dimension/key's usage counter,
// for cross-process observability only.
func (s *RedisStore) ReportUsage(ctx context.Context, dimension, key string) {
	redisKey := fmt.Sprintf("%s:ratelimit:%s:%s", s.namespace, dimension, key)
	if err := s.client.Incr(ctx, redisKey).Err(); err != nil {
		s.logger.Debug("rate limit usage report failed", map[string]interface{}{
			"dimension": dimension, "key": key, "error": err.Error(),
		})
		return
	}
	s.client.Expire(ctx, redisKey, time.Hour)
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
