package cache

import (
	"context"
	"errors"
	"time"
)

// CacheRepo определяет интерфейс для кеширования данных.
// Поддерживает двухуровневую архитектуру: Hot Cache (Redis или память) + Cold Storage (BadgerDB).
//
// Использование:
//
//	cache := NewMemoryCache(config, coldStorage)
//	data, err := cache.Get(ctx, "key")
//	err = cache.Set(ctx, "key", data, 30*time.Second)
type CacheRepo interface {
	// Get получает значение по ключу из кеша.
	// Возвращает ErrCacheMiss если ключ не найден ни в кеше, ни в Cold Storage.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кеше с указанным TTL.
	// TTL = 0 означает TTL по умолчанию.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кеша.
	Delete(ctx context.Context, key string) error

	// BatchGet получает несколько значений за один запрос.
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// ColdStorage определяет интерфейс для постоянного хранения данных.
// Используется как fallback когда данные отсутствуют в Hot Cache.
// Load для отсутствующего ключа возвращает ошибку, оборачивающую ErrColdMiss;
// любая другая ошибка Load считается сбоем хранилища и отдаётся вызывающему.
type ColdStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error)
	BatchStore(ctx context.Context, items map[string][]byte) error
}

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	ColdLoads     int64   `json:"cold_loads"`
	HitRatio      float64 `json:"hit_ratio"`

	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig содержит конфигурацию для кеша.
type CacheConfig struct {
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`

	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

func (c *CacheConfig) applyDefaults() {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 30 * time.Second
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = 1 * time.Hour
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 30 * time.Second
	}
}

// clampTTL приводит TTL к допустимому диапазону
func (c *CacheConfig) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.DefaultTTL
	}
	if ttl > c.MaxTTL {
		return c.MaxTTL
	}
	return ttl
}

// Ошибки кеша
var (
	ErrCacheMiss  = NewCacheError("cache miss")
	ErrInvalidKey = NewCacheError("invalid key")
	ErrColdMiss   = NewCacheError("cold storage miss")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// hitRatio вычисляет долю попаданий
func hitRatio(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
