package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache реализует CacheRepo в памяти процесса.
// Используется, когда Redis не настроен, и в тестах.
type MemoryCache struct {
	config      *CacheConfig
	coldStorage ColdStorage
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry

	requests  int64
	hits      int64
	misses    int64
	coldLoads int64
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache создаёт кеш в памяти; coldStorage может быть nil
func NewMemoryCache(config *CacheConfig, coldStorage ColdStorage) *MemoryCache {
	if config == nil {
		config = &CacheConfig{}
	}
	config.applyDefaults()

	return &MemoryCache{
		config:      config,
		coldStorage: coldStorage,
		now:         time.Now,
		entries:     make(map[string]memoryEntry),
	}
}

// Get получает значение; при промахе читает из Cold Storage и кладёт в кеш (Read-Through)
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	atomic.AddInt64(&m.requests, 1)

	if val, ok := m.lookup(key); ok {
		atomic.AddInt64(&m.hits, 1)
		return val, nil
	}
	atomic.AddInt64(&m.misses, 1)

	if m.coldStorage != nil {
		val, err := m.coldStorage.Load(ctx, key)
		switch {
		case err == nil:
			atomic.AddInt64(&m.coldLoads, 1)
			return m.fill(key, val, m.config.DefaultTTL), nil
		case !errors.Is(err, ErrColdMiss):
			return nil, fmt.Errorf("cold storage load %s: %w", key, err)
		}
	}
	return nil, ErrCacheMiss
}

// Set сохраняет значение в кеше
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.store(key, value, m.config.clampTTL(ttl))
	return nil
}

// Delete удаляет ключ из кеша
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// BatchGet возвращает найденные значения; отсутствующие ключи пропускаются
func (m *MemoryCache) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		val, err := m.Get(ctx, key)
		if IsCacheMiss(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[key] = val
	}
	return result, nil
}

// Close очищает кеш
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// GetMetrics возвращает снимок метрик кеша
func (m *MemoryCache) GetMetrics() *CacheMetrics {
	hits := atomic.LoadInt64(&m.hits)
	misses := atomic.LoadInt64(&m.misses)
	return &CacheMetrics{
		TotalRequests: atomic.LoadInt64(&m.requests),
		CacheHits:     hits,
		CacheMisses:   misses,
		ColdLoads:     atomic.LoadInt64(&m.coldLoads),
		HitRatio:      hitRatio(hits, misses),
		LastUpdate:    m.now(),
	}
}

func (m *MemoryCache) lookup(key string) ([]byte, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if m.now().After(entry.expiresAt) {
		m.mu.Lock()
		// Запись могла быть обновлена, пока мы не держали блокировку
		if current, ok := m.entries[key]; ok && m.now().After(current.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (m *MemoryCache) store(key string, value []byte, ttl time.Duration) {
	copied := append([]byte(nil), value...)

	m.mu.Lock()
	m.entries[key] = memoryEntry{value: copied, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}

// fill кладёт прочитанное из Cold Storage значение, только если ключ не был
// записан через Set за время загрузки. Возвращает значение, оставшееся в кеше.
func (m *MemoryCache) fill(key string, value []byte, ttl time.Duration) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if current, ok := m.entries[key]; ok && !now.After(current.expiresAt) {
		return current.value
	}
	copied := append([]byte(nil), value...)
	m.entries[key] = memoryEntry{value: copied, expiresAt: now.Add(ttl)}
	return copied
}
