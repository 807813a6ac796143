package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/annel0/blockkit/internal/cache"
	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
	"github.com/dgraph-io/badger/v3"
)

const facingsKeyPrefix = "facings:"

// ErrNotFound для позиции нет сохранённого состояния сторон
var ErrNotFound = errors.New("facings not found")

// ErrClosed хранилище уже закрыто
var ErrClosed = errors.New("хранилище не готово")

// FacingsStore хранит состояние сторон блоков в BadgerDB: один байт на позицию
type FacingsStore struct {
	db      *badger.DB
	mutex   sync.RWMutex
	isReady bool
}

// NewFacingsStore открывает хранилище в каталоге path
func NewFacingsStore(path string) (*FacingsStore, error) {
	return openFacingsStore(badger.DefaultOptions(path))
}

// NewInMemoryFacingsStore открывает хранилище без записи на диск
func NewInMemoryFacingsStore() (*FacingsStore, error) {
	return openFacingsStore(badger.DefaultOptions("").WithInMemory(true))
}

func openFacingsStore(opts badger.Options) (*FacingsStore, error) {
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &FacingsStore{db: db, isReady: true}, nil
}

// FacingsKey ключ записи для позиции
func FacingsKey(pos vec.Vec3) string {
	return fmt.Sprintf("%s%d:%d:%d", facingsKeyPrefix, pos.X, pos.Y, pos.Z)
}

// ParseFacingsKey разбирает ключ, созданный FacingsKey
func ParseFacingsKey(key string) (vec.Vec3, error) {
	rest, ok := strings.CutPrefix(key, facingsKeyPrefix)
	if !ok {
		return vec.Vec3{}, fmt.Errorf("неверный ключ %q", key)
	}

	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return vec.Vec3{}, fmt.Errorf("неверный ключ %q", key)
	}

	var coords [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return vec.Vec3{}, fmt.Errorf("неверный ключ %q: %w", key, err)
		}
		coords[i] = n
	}
	return vec.Vec3{X: coords[0], Y: coords[1], Z: coords[2]}, nil
}

// Close закрывает хранилище данных
func (fs *FacingsStore) Close() error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if !fs.isReady {
		return nil
	}
	fs.isReady = false
	return fs.db.Close()
}

// Put сохраняет состояние сторон блока
func (fs *FacingsStore) Put(ctx context.Context, pos vec.Vec3, facings *block.Facings) error {
	return fs.Store(ctx, FacingsKey(pos), []byte{facings.Value()})
}

// Get загружает состояние сторон блока; ErrNotFound, если записи нет
func (fs *FacingsStore) Get(ctx context.Context, pos vec.Vec3) (*block.Facings, error) {
	data, err := fs.Load(ctx, FacingsKey(pos))
	if err != nil {
		return nil, err
	}
	return decodeFacings(data)
}

// Delete удаляет запись; отсутствие записи не ошибка
func (fs *FacingsStore) Delete(ctx context.Context, pos vec.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mutex.RLock()
	defer fs.mutex.RUnlock()
	if !fs.isReady {
		return ErrClosed
	}

	return fs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(FacingsKey(pos)))
	})
}

// ForEach обходит все записи; обход прерывается первой ошибкой fn
func (fs *FacingsStore) ForEach(ctx context.Context, fn func(pos vec.Vec3, facings *block.Facings) error) error {
	fs.mutex.RLock()
	defer fs.mutex.RUnlock()
	if !fs.isReady {
		return ErrClosed
	}

	return fs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(facingsKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			pos, err := ParseFacingsKey(string(item.Key()))
			if err != nil {
				return err
			}

			var facings *block.Facings
			err = item.Value(func(val []byte) error {
				facings, err = decodeFacings(val)
				return err
			})
			if err != nil {
				return err
			}

			if err := fn(pos, facings); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count возвращает количество сохранённых позиций
func (fs *FacingsStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := fs.ForEach(ctx, func(vec.Vec3, *block.Facings) error {
		n++
		return nil
	})
	return n, err
}

// Load читает сырое значение по ключу (cache.ColdStorage)
func (fs *FacingsStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mutex.RLock()
	defer fs.mutex.RUnlock()
	if !fs.isReady {
		return nil, ErrClosed
	}

	var data []byte
	err := fs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, cache.ErrColdMiss)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return data, nil
}

// Store записывает сырое значение по ключу (cache.ColdStorage)
func (fs *FacingsStore) Store(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mutex.RLock()
	defer fs.mutex.RUnlock()
	if !fs.isReady {
		return ErrClosed
	}

	err := fs.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// BatchLoad читает несколько значений; отсутствующие ключи пропускаются
func (fs *FacingsStore) BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		data, err := fs.Load(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[key] = data
	}
	return result, nil
}

// BatchStore записывает несколько значений в одной транзакции
func (fs *FacingsStore) BatchStore(ctx context.Context, items map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mutex.RLock()
	defer fs.mutex.RUnlock()
	if !fs.isReady {
		return ErrClosed
	}

	wb := fs.db.NewWriteBatch()
	defer wb.Cancel()
	for key, value := range items {
		if err := wb.Set([]byte(key), value); err != nil {
			return fmt.Errorf("ошибка пакетной записи: %w", err)
		}
	}
	return wb.Flush()
}

func decodeFacings(data []byte) (*block.Facings, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("повреждённая запись: %d байт", len(data))
	}
	return block.FromBits(data[0]), nil
}
