package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/annel0/blockkit/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisCache реализует CacheRepo используя Redis как Hot Cache.
// При промахе читает из Cold Storage и заполняет Redis (Read-Through).
type RedisCache struct {
	client      *redis.Client
	config      *CacheConfig
	coldStorage ColdStorage

	requests  int64
	hits      int64
	misses    int64
	coldLoads int64
}

// NewRedisCache создаёт новый Redis кеш с опциональным Cold Storage.
//
// Параметры:
//
//	config - конфигурация Redis
//	coldStorage - опциональное постоянное хранилище (может быть nil)
func NewRedisCache(config *CacheConfig, coldStorage ColdStorage) (*RedisCache, error) {
	config.applyDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Redis cache initialized: %s", config.RedisURL)
	return &RedisCache{
		client:      rdb,
		config:      config,
		coldStorage: coldStorage,
	}, nil
}

// Get получает значение по ключу из Redis кеша.
// При промахе пытается загрузить из Cold Storage (Read-Through).
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	atomic.AddInt64(&r.requests, 1)

	val, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		atomic.AddInt64(&r.hits, 1)
		return val, nil
	}
	atomic.AddInt64(&r.misses, 1)

	if !errors.Is(err, redis.Nil) {
		logging.Error("Redis Get error for key %s: %v", key, err)
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	if r.coldStorage != nil {
		val, err := r.coldStorage.Load(ctx, key)
		if err == nil {
			atomic.AddInt64(&r.coldLoads, 1)
			return r.fill(ctx, key, val), nil
		}
		if !errors.Is(err, ErrColdMiss) {
			logging.Error("Cold storage load error for key %s: %v", key, err)
			return nil, fmt.Errorf("cold storage load %s: %w", key, err)
		}
		logging.Debug("Cold storage miss for key %s", key)
	}

	return nil, ErrCacheMiss
}

// fill заполняет Redis через SETNX: значение, записанное Set во время
// загрузки из Cold Storage, не перезаписывается устаревшим.
func (r *RedisCache) fill(ctx context.Context, key string, val []byte) []byte {
	ok, err := r.client.SetNX(ctx, key, val, r.config.DefaultTTL).Result()
	if err != nil {
		logging.Warn("Redis read-through fill failed for key %s: %v", key, err)
		return val
	}
	if ok {
		return val
	}
	current, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return val
	}
	return current
}

// Set сохраняет значение в Redis кеше.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}

	if err := r.client.Set(ctx, key, value, r.config.clampTTL(ttl)).Err(); err != nil {
		logging.Error("Redis Set error for key %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete удаляет ключ из кеша.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		logging.Error("Redis Delete error for key %s: %v", key, err)
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// BatchGet получает несколько значений за один запрос.
func (r *RedisCache) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	if len(keys) == 0 {
		return result, nil
	}

	atomic.AddInt64(&r.requests, int64(len(keys)))

	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(keys))
	for _, key := range keys {
		cmds[key] = pipe.Get(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		logging.Error("Redis BatchGet pipeline error: %v", err)
		return nil, fmt.Errorf("redis batch get error: %w", err)
	}

	var hits, misses int64
	for key, cmd := range cmds {
		val, err := cmd.Bytes()
		if err == nil {
			result[key] = val
			hits++
			continue
		}
		if !errors.Is(err, redis.Nil) {
			logging.Error("Redis BatchGet error for key %s: %v", key, err)
		}
		misses++
	}

	atomic.AddInt64(&r.hits, hits)
	atomic.AddInt64(&r.misses, misses)
	return result, nil
}

// Close закрывает соединение с Redis.
func (r *RedisCache) Close() error {
	if err := r.client.Close(); err != nil {
		logging.Error("Error closing Redis connection: %v", err)
		return err
	}

	logging.Info("Redis cache closed")
	return nil
}

// GetMetrics возвращает текущие метрики кеша.
func (r *RedisCache) GetMetrics() *CacheMetrics {
	hits := atomic.LoadInt64(&r.hits)
	misses := atomic.LoadInt64(&r.misses)
	return &CacheMetrics{
		TotalRequests: atomic.LoadInt64(&r.requests),
		CacheHits:     hits,
		CacheMisses:   misses,
		ColdLoads:     atomic.LoadInt64(&r.coldLoads),
		HitRatio:      hitRatio(hits, misses),
		LastUpdate:    time.Now(),
	}
}
