package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/annel0/blockkit/internal/cache"
	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *FacingsStore {
	t.Helper()
	store, err := NewInMemoryFacingsStore()
	require.NoError(t, err, "Не удалось создать хранилище")
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFacingsStore_PutGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	pos := vec.Vec3{X: -4, Y: 70, Z: 12}

	_, err := store.Get(ctx, pos)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, pos, block.FacingsHorizontal))

	got, err := store.Get(ctx, pos)
	require.NoError(t, err)
	assert.Same(t, block.FacingsHorizontal, got, "загруженное значение должно быть каноническим экземпляром")

	require.NoError(t, store.Delete(ctx, pos))
	_, err = store.Get(ctx, pos)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFacingsStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	pos := vec.Vec3{X: 1, Y: 2, Z: 3}

	store, err := NewFacingsStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, pos, block.FacingsAxisZ))
	require.NoError(t, store.Close())

	// Повторное открытие видит сохранённые данные
	store, err = NewFacingsStore(dir)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(ctx, pos)
	require.NoError(t, err)
	assert.Same(t, block.FacingsAxisZ, got)
}

func TestFacingsStore_Closed(t *testing.T) {
	store, err := NewInMemoryFacingsStore()
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "повторное закрытие безопасно")

	ctx := context.Background()
	assert.ErrorIs(t, store.Put(ctx, vec.Vec3{}, block.FacingsAll), ErrClosed)
	_, err = store.Get(ctx, vec.Vec3{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFacingsStore_ForEachAndCount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	want := map[vec.Vec3]*block.Facings{
		{X: 0}:         block.FacingsDown,
		{X: 1, Y: -1}:  block.FacingsAll,
		{Z: 100}:       block.FacingsNone,
		{X: -7, Z: 33}: block.FromDirections(block.North, block.Up),
	}
	for pos, f := range want {
		require.NoError(t, store.Put(ctx, pos, f))
	}

	got := make(map[vec.Vec3]*block.Facings)
	require.NoError(t, store.ForEach(ctx, func(pos vec.Vec3, f *block.Facings) error {
		got[pos] = f
		return nil
	}))
	assert.Equal(t, want, got)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	stop := errors.New("стоп")
	err = store.ForEach(ctx, func(vec.Vec3, *block.Facings) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestFacingsStore_Batch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a, b := FacingsKey(vec.Vec3{X: 1}), FacingsKey(vec.Vec3{X: 2})
	require.NoError(t, store.BatchStore(ctx, map[string][]byte{a: {0x01}, b: {0x3f}}))

	loaded, err := store.BatchLoad(ctx, []string{a, b, FacingsKey(vec.Vec3{X: 3})})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{a: {0x01}, b: {0x3f}}, loaded)
}

func TestFacingsStore_LoadMissingIsColdMiss(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, FacingsKey(vec.Vec3{X: 5}))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, cache.ErrColdMiss, "кеш должен отличать отсутствие записи от сбоя")

	require.NoError(t, store.Close())
	_, err = store.Load(ctx, FacingsKey(vec.Vec3{X: 5}))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NotErrorIs(t, err, cache.ErrColdMiss)
}

func TestFacingsStore_CorruptRecord(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	pos := vec.Vec3{Y: 9}

	require.NoError(t, store.Store(ctx, FacingsKey(pos), []byte{1, 2}))
	_, err := store.Get(ctx, pos)
	assert.Error(t, err)
}

func TestFacingsKey(t *testing.T) {
	pos := vec.Vec3{X: -12, Y: 0, Z: 345}
	key := FacingsKey(pos)
	assert.Equal(t, "facings:-12:0:345", key)

	parsed, err := ParseFacingsKey(key)
	require.NoError(t, err)
	assert.Equal(t, pos, parsed)

	for _, bad := range []string{"chunk:1:2", "facings:1:2", "facings:a:b:c"} {
		_, err := ParseFacingsKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestSnapshot_ExportImport(t *testing.T) {
	src := setupTestStore(t)
	dst := setupTestStore(t)
	ctx := context.Background()

	for x := -3; x <= 3; x++ {
		require.NoError(t, src.Put(ctx, vec.Vec3{X: x, Y: x * 10, Z: -x}, block.FromBits(uint8(x+3))))
	}

	var buf bytes.Buffer
	exported, err := src.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 7, exported)

	imported, err := dst.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 7, imported)

	got, err := dst.Get(ctx, vec.Vec3{X: -2, Y: -20, Z: 2})
	require.NoError(t, err)
	assert.Same(t, block.FromBits(1), got)
}

func TestSnapshot_TruncatedRecord(t *testing.T) {
	store := setupTestStore(t)

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(make([]byte, snapshotRecordSize+5))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	_, err = store.Import(context.Background(), &buf)
	assert.Error(t, err)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "частичный импорт не записывается")
}

func TestReadSnapshot_DuplicatePositions(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)

	records := [][snapshotRecordSize]byte{}
	for _, bits := range []uint8{0x01, 0x02, 0x3f} {
		var rec [snapshotRecordSize]byte
		rec[3] = 7 // x = 7
		rec[12] = bits
		records = append(records, rec)
	}
	records[2][3] = 8 // третья запись на другой позиции
	for _, rec := range records {
		_, err := enc.Write(rec[:])
		require.NoError(t, err)
	}
	require.NoError(t, enc.Close())

	got, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, vec.Vec3{X: 7}, got[0].Pos)
	assert.Same(t, block.FromBits(0x02), got[0].Facings, "повтор позиции заменяет запись")
	assert.Equal(t, vec.Vec3{X: 8}, got[1].Pos)
	assert.Same(t, block.FacingsAll, got[1].Facings)
}
