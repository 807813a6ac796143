package app

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/annel0/blockkit/internal/cache"
	"github.com/annel0/blockkit/internal/eventbus"
	"github.com/annel0/blockkit/internal/logging"
	"github.com/annel0/blockkit/internal/observability"
	"github.com/annel0/blockkit/internal/storage"
	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []eventbus.FacingsChanged
}

func (r *changeRecorder) handle(ctx context.Context, ev *eventbus.Envelope) {
	change, err := eventbus.DecodeFacingsChanged(ev)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
}

func (r *changeRecorder) snapshot() []eventbus.FacingsChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.FacingsChanged(nil), r.changes...)
}

type fixture struct {
	svc     *FacingsService
	store   *storage.FacingsStore
	cache   *cache.MemoryCache
	bus     eventbus.EventBus
	metrics *observability.ServiceMetrics
	events  *changeRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewInMemoryFacingsStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mc := cache.NewMemoryCache(&cache.CacheConfig{DefaultTTL: time.Minute}, store)
	bus := eventbus.NewMemoryBus(64)
	t.Cleanup(func() { bus.Close() })

	events := &changeRecorder{}
	_, err = bus.Subscribe(context.Background(), eventbus.Filter{}, events.handle)
	require.NoError(t, err)

	metrics, err := observability.NewServiceMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	svc, err := NewFacingsService(ServiceConfig{
		Store:   store,
		Cache:   mc,
		Bus:     bus,
		Metrics: metrics,
		Logger:  logging.NewConsoleLogger("facings", io.Discard),
		Source:  "node-a",
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	return &fixture{svc: svc, store: store, cache: mc, bus: bus, metrics: metrics, events: events}
}

func (f *fixture) waitEvents(t *testing.T, n int) []eventbus.FacingsChanged {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.events.snapshot()) == n }, time.Second, 5*time.Millisecond)
	return f.events.snapshot()
}

func TestNewFacingsService_RequiresStore(t *testing.T) {
	_, err := NewFacingsService(ServiceConfig{})
	assert.Error(t, err)
}

func TestFacingsService_PutGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pos := vec.Vec3{X: 1, Y: 2, Z: 3}

	_, err := f.svc.Get(ctx, pos)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	changed, err := f.svc.Put(ctx, pos, block.FacingsHorizontal)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := f.svc.Get(ctx, pos)
	require.NoError(t, err)
	assert.Same(t, block.FacingsHorizontal, got)

	// Повторная запись того же значения не меняет состояние и не порождает событие
	changed, err = f.svc.Put(ctx, pos, block.FacingsHorizontal)
	require.NoError(t, err)
	assert.False(t, changed)

	events := f.waitEvents(t, 1)
	assert.Equal(t, pos, events[0].Pos)
	assert.Same(t, block.FacingsNone, events[0].OldFacings())
	assert.Same(t, block.FacingsHorizontal, events[0].NewFacings())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Changes))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Writes.WithLabelValues("put")))

	_, err = f.svc.Put(ctx, pos, nil)
	assert.ErrorIs(t, err, block.ErrInvalidArgument)
}

func TestFacingsService_GetReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pos := vec.Vec3{X: -5}

	// Запись мимо сервиса: кеш пуст, значение приходит из хранилища
	require.NoError(t, f.store.Put(ctx, pos, block.FacingsAxisZ))

	got, err := f.svc.Get(ctx, pos)
	require.NoError(t, err)
	assert.Same(t, block.FacingsAxisZ, got)
	assert.Equal(t, int64(1), f.cache.GetMetrics().ColdLoads)

	_, err = f.svc.Get(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.cache.GetMetrics().CacheHits)
}

func TestFacingsService_SetFace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pos := vec.Vec3{Y: 64}

	got, err := f.svc.SetFace(ctx, pos, block.Up, true)
	require.NoError(t, err)
	assert.Same(t, block.FacingsUp, got)

	got, err = f.svc.SetFace(ctx, pos, block.Down, true)
	require.NoError(t, err)
	assert.Same(t, block.FacingsVertical, got)

	got, err = f.svc.SetFace(ctx, pos, block.Down, true)
	require.NoError(t, err)
	assert.Same(t, block.FacingsVertical, got)

	got, err = f.svc.SetFace(ctx, pos, block.Up, false)
	require.NoError(t, err)
	assert.Same(t, block.FacingsDown, got)

	stored, err := f.store.Get(ctx, pos)
	require.NoError(t, err)
	assert.Same(t, block.FacingsDown, stored)

	events := f.waitEvents(t, 3)
	assert.Same(t, block.FacingsVertical, events[2].OldFacings())
	assert.Same(t, block.FacingsDown, events[2].NewFacings())

	_, err = f.svc.SetFace(ctx, pos, block.Direction(6), true)
	assert.ErrorIs(t, err, block.ErrInvalidArgument)
}

func TestFacingsService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pos := vec.Vec3{X: 9, Y: 9, Z: 9}

	removed, err := f.svc.Delete(ctx, pos)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = f.svc.Put(ctx, pos, block.FacingsAll)
	require.NoError(t, err)

	removed, err = f.svc.Delete(ctx, pos)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = f.svc.Get(ctx, pos)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	events := f.waitEvents(t, 2)
	assert.True(t, events[1].Removed)
	assert.Same(t, block.FacingsAll, events[1].OldFacings())
	assert.Same(t, block.FacingsNone, events[1].NewFacings())
}

func TestFacingsService_Scan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Столб из трёх блоков и отдельный блок рядом
	positions := []vec.Vec3{{Y: 0}, {Y: 1}, {Y: 2}, {X: 5}}
	report, err := f.svc.Scan(ctx, positions)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Components)

	bottom, err := f.svc.Get(ctx, vec.Vec3{Y: 0})
	require.NoError(t, err)
	assert.Same(t, block.FacingsUp, bottom)

	middle, err := f.svc.Get(ctx, vec.Vec3{Y: 1})
	require.NoError(t, err)
	assert.Same(t, block.FacingsVertical, middle)

	// Одиночный блок ни с чем не соединён: значение FacingsNone совпадает
	// с отсутствующей записью, поэтому ничего не пишется
	_, err = f.svc.Get(ctx, vec.Vec3{X: 5})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	f.waitEvents(t, 3)

	// Повторное сканирование ничего не меняет
	_, err = f.svc.Scan(ctx, positions)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.events.snapshot(), 3)
}

func TestFacingsService_InvalidationFromOtherNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pos := vec.Vec3{Z: 7}

	require.NoError(t, f.svc.StartInvalidation(ctx))
	require.NoError(t, f.svc.StartInvalidation(ctx), "повторный вызов не создаёт вторую подписку")

	_, err := f.svc.Put(ctx, pos, block.FacingsNorth)
	require.NoError(t, err)

	// Другой узел изменил значение в общем хранилище
	require.NoError(t, f.store.Put(ctx, pos, block.FacingsSouth))
	ev, err := eventbus.NewFacingsChangedEnvelope("node-b", pos, block.FacingsNorth, block.FacingsSouth, false)
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(ctx, ev))

	require.Eventually(t, func() bool {
		got, err := f.svc.Get(ctx, pos)
		return err == nil && got == block.FacingsSouth
	}, time.Second, 5*time.Millisecond)
}

func TestFacingsService_WithoutCacheAndBus(t *testing.T) {
	store, err := storage.NewInMemoryFacingsStore()
	require.NoError(t, err)
	defer store.Close()

	svc, err := NewFacingsService(ServiceConfig{
		Store:  store,
		Logger: logging.NewConsoleLogger("facings", io.Discard),
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.StartInvalidation(ctx))

	_, err = svc.Put(ctx, vec.Vec3{}, block.FacingsWest)
	require.NoError(t, err)
	got, err := svc.Get(ctx, vec.Vec3{})
	require.NoError(t, err)
	assert.Same(t, block.FacingsWest, got)
}

func TestFacingsService_PutNoneCreatesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pos := vec.Vec3{X: 4, Y: 4}

	changed, err := f.svc.Put(ctx, pos, block.FacingsNone)
	require.NoError(t, err)
	assert.True(t, changed, "создание записи считается изменением")

	got, err := f.svc.Get(ctx, pos)
	require.NoError(t, err)
	assert.Same(t, block.FacingsNone, got)

	stored, err := f.store.Get(ctx, pos)
	require.NoError(t, err)
	assert.Same(t, block.FacingsNone, stored)

	changed, err = f.svc.Put(ctx, pos, block.FacingsNone)
	require.NoError(t, err)
	assert.False(t, changed)

	events := f.waitEvents(t, 1)
	assert.False(t, events[0].Removed)
	assert.Same(t, block.FacingsNone, events[0].NewFacings())
}

// gatedColdStorage останавливает первое чтение из хранилища до закрытия release
type gatedColdStorage struct {
	cache.ColdStorage
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (g *gatedColdStorage) Load(ctx context.Context, key string) ([]byte, error) {
	val, err := g.ColdStorage.Load(ctx, key)
	g.once.Do(func() { close(g.reached) })
	<-g.release
	return val, err
}

func TestFacingsService_ConcurrentReadKeepsNewerWrite(t *testing.T) {
	store, err := storage.NewInMemoryFacingsStore()
	require.NoError(t, err)
	defer store.Close()

	cold := &gatedColdStorage{
		ColdStorage: store,
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc, err := NewFacingsService(ServiceConfig{
		Store:  store,
		Cache:  cache.NewMemoryCache(&cache.CacheConfig{DefaultTTL: time.Minute}, cold),
		Logger: logging.NewConsoleLogger("facings", io.Discard),
	})
	require.NoError(t, err)

	ctx := context.Background()
	pos := vec.Vec3{X: 2, Y: 70, Z: -3}
	require.NoError(t, store.Put(ctx, pos, block.FacingsUp))

	type result struct {
		facings *block.Facings
		err     error
	}
	done := make(chan result, 1)
	go func() {
		got, err := svc.Get(ctx, pos)
		done <- result{got, err}
	}()

	// Чтение уже получило FacingsUp из хранилища, запись меняет значение
	<-cold.reached
	_, err = svc.Put(ctx, pos, block.FacingsDown)
	require.NoError(t, err)
	close(cold.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Same(t, block.FacingsDown, res.facings)

	got, err := svc.Get(ctx, pos)
	require.NoError(t, err)
	assert.Same(t, block.FacingsDown, got, "устаревшее чтение не должно попасть в кеш")
}

func TestFacingsService_StoreFailureIsNotNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Close())

	_, err := f.svc.Get(ctx, vec.Vec3{X: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Errors.WithLabelValues("get")))
}

func TestFacingsService_ExportImport(t *testing.T) {
	src := newFixture(t)
	dst := newFixture(t)
	ctx := context.Background()

	want := map[vec.Vec3]*block.Facings{
		{X: 0}:          block.FacingsSouth,
		{X: 1, Y: -64}:  block.FacingsAll,
		{Z: 1 << 20}:    block.FacingsNone,
		{X: -7, Y: 300}: block.FacingsAxisX,
	}
	for pos, facings := range want {
		_, err := src.svc.Put(ctx, pos, facings)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	n, err := src.svc.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, len(want), n)

	// Значение в кеше получателя должно смениться после импорта
	stalePos := vec.Vec3{X: 0}
	_, err = dst.svc.Put(ctx, stalePos, block.FacingsNorth)
	require.NoError(t, err)
	cached, err := dst.svc.Get(ctx, stalePos)
	require.NoError(t, err)
	require.Same(t, block.FacingsNorth, cached)

	result, err := dst.svc.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, len(want), result.Records)
	assert.Equal(t, len(want), result.Changed)

	for pos, facings := range want {
		got, err := dst.svc.Get(ctx, pos)
		require.NoError(t, err, pos.String())
		assert.Same(t, facings, got, pos.String())
	}

	// Одна запись Put и четыре записи импорта
	events := dst.waitEvents(t, 1+len(want))
	var imported *eventbus.FacingsChanged
	for i := 1; i < len(events); i++ {
		if events[i].Pos == stalePos {
			imported = &events[i]
		}
	}
	require.NotNil(t, imported)
	assert.Same(t, block.FacingsNorth, imported.OldFacings(), "событие импорта несёт прежнее значение")
	assert.Same(t, block.FacingsSouth, imported.NewFacings())
}

func TestFacingsService_ImportRejectsCorruptSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(make([]byte, 20))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	_, err = f.svc.Import(ctx, &buf)
	assert.ErrorIs(t, err, block.ErrInvalidArgument)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Errors.WithLabelValues("import")))
}
