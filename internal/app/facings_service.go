package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/annel0/blockkit/internal/cache"
	"github.com/annel0/blockkit/internal/eventbus"
	"github.com/annel0/blockkit/internal/logging"
	"github.com/annel0/blockkit/internal/observability"
	"github.com/annel0/blockkit/internal/storage"
	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
	"github.com/annel0/blockkit/internal/world/multiblock"
)

const publishTimeout = 2 * time.Second

// FacingsRepository постоянное хранилище сторон блоков
type FacingsRepository interface {
	Put(ctx context.Context, pos vec.Vec3, facings *block.Facings) error
	Get(ctx context.Context, pos vec.Vec3) (*block.Facings, error)
	Delete(ctx context.Context, pos vec.Vec3) error
	Export(ctx context.Context, w io.Writer) (int, error)
}

// ServiceConfig зависимости FacingsService. Всё, кроме Store, необязательно.
type ServiceConfig struct {
	Store    FacingsRepository
	Cache    cache.CacheRepo
	Bus      eventbus.EventBus
	Metrics  *observability.ServiceMetrics
	Logger   *logging.Logger
	Source   string // идентификатор узла в Envelope.Source
	CacheTTL time.Duration
}

// FacingsService управляет состоянием сторон блоков мира:
// хранилище + кеш + публикация FacingsChanged.
type FacingsService struct {
	store   FacingsRepository
	cache   cache.CacheRepo
	bus     eventbus.EventBus
	metrics *observability.ServiceMetrics
	source  string
	ttl     time.Duration
	log     *logging.Logger

	// Сериализует read-modify-write, чтобы события содержали точное прежнее значение
	writeMu sync.Mutex

	subMu sync.Mutex
	sub   eventbus.Subscription
}

// NewFacingsService создаёт сервис
func NewFacingsService(cfg ServiceConfig) (*FacingsService, error) {
	if cfg.Store == nil {
		return nil, errors.New("facings service: store is required")
	}
	if cfg.Source == "" {
		cfg.Source = "blockkit"
	}
	if cfg.Metrics == nil {
		m, err := observability.NewServiceMetrics(nil)
		if err != nil {
			return nil, err
		}
		cfg.Metrics = m
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetComponentLogger("facings")
	}

	return &FacingsService{
		store:   cfg.Store,
		cache:   cfg.Cache,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		source:  cfg.Source,
		ttl:     cfg.CacheTTL,
		log:     cfg.Logger,
	}, nil
}

// Get возвращает стороны блока; storage.ErrNotFound, если запись отсутствует
func (s *FacingsService) Get(ctx context.Context, pos vec.Vec3) (*block.Facings, error) {
	s.metrics.Reads.Inc()

	if s.cache == nil {
		f, err := s.store.Get(ctx, pos)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.metrics.Errors.WithLabelValues("get").Inc()
		}
		return f, err
	}

	// Кеш читает из хранилища при промахе (Read-Through)
	data, err := s.cache.Get(ctx, storage.FacingsKey(pos))
	if cache.IsCacheMiss(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		s.metrics.Errors.WithLabelValues("get").Inc()
		return nil, err
	}
	if len(data) != 1 {
		s.metrics.Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("повреждённое значение в кеше для %s: %d байт", pos, len(data))
	}
	return block.FromBits(data[0]), nil
}

// Put записывает стороны блока. Возвращает true, если значение изменилось
// или запись была создана; FacingsNone тоже создаёт запись.
func (s *FacingsService) Put(ctx context.Context, pos vec.Vec3, facings *block.Facings) (bool, error) {
	if facings == nil {
		return false, fmt.Errorf("%w: facings is nil", block.ErrInvalidArgument)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old, found, err := s.current(ctx, pos)
	if err != nil {
		s.metrics.Errors.WithLabelValues("put").Inc()
		return false, err
	}
	return s.write(ctx, "put", pos, old, facings, !found)
}

// SetFace включает или выключает одну сторону блока и возвращает новое состояние.
// Отсутствующая запись трактуется как FacingsNone.
func (s *FacingsService) SetFace(ctx context.Context, pos vec.Vec3, d block.Direction, value bool) (*block.Facings, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("%w: direction %d", block.ErrInvalidArgument, d)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old, found, err := s.current(ctx, pos)
	if err != nil {
		s.metrics.Errors.WithLabelValues("set_face").Inc()
		return nil, err
	}

	updated := old.Set(d, value)
	if _, err := s.write(ctx, "set_face", pos, old, updated, !found); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete удаляет запись блока. Возвращает false, если записи не было.
func (s *FacingsService) Delete(ctx context.Context, pos vec.Vec3) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old, found, err := s.current(ctx, pos)
	if err != nil {
		s.metrics.Errors.WithLabelValues("delete").Inc()
		return false, err
	}
	if !found {
		return false, nil
	}

	s.metrics.Writes.WithLabelValues("delete").Inc()
	if err := s.store.Delete(ctx, pos); err != nil {
		s.metrics.Errors.WithLabelValues("delete").Inc()
		return false, err
	}
	s.invalidate(ctx, pos)
	s.metrics.Changes.Inc()
	s.publish(pos, old, block.FacingsNone, true)
	return true, nil
}

// Scan строит структуру из позиций и сохраняет для каждого блока стороны,
// соединённые с соседями той же структуры.
func (s *FacingsService) Scan(ctx context.Context, positions []vec.Vec3) (multiblock.Report, error) {
	start := time.Now()
	defer func() { s.metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	structure := multiblock.NewStructure(positions...)
	report := structure.Analyze(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	changed := 0
	for _, pos := range structure.Positions() {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		old, _, err := s.current(ctx, pos)
		if err != nil {
			s.metrics.Errors.WithLabelValues("scan").Inc()
			return report, err
		}
		// Блок без соединений не получает запись
		ok, err := s.write(ctx, "scan", pos, old, structure.Connections(pos), false)
		if err != nil {
			return report, err
		}
		if ok {
			changed++
		}
	}

	s.log.Debug("Сканирование: %d блоков, %d изменено, компонент %d",
		structure.Len(), changed, report.Components)
	return report, nil
}

// Export пишет снимок всех сохранённых позиций; возвращает число записей
func (s *FacingsService) Export(ctx context.Context, w io.Writer) (int, error) {
	n, err := s.store.Export(ctx, w)
	if err != nil {
		s.metrics.Errors.WithLabelValues("export").Inc()
		return n, err
	}
	s.log.Info("Экспортировано позиций: %d", n)
	return n, nil
}

// ImportResult итог импорта снимка
type ImportResult struct {
	Records int `json:"records"`
	Changed int `json:"changed"`
}

// Import применяет снимок через обычный путь записи: кеш обновляется,
// изменения публикуются. Повреждённый снимок отклоняется до первой записи.
func (s *FacingsService) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	records, err := storage.ReadSnapshot(r)
	if err != nil {
		s.metrics.Errors.WithLabelValues("import").Inc()
		return ImportResult{}, fmt.Errorf("%w: %w", block.ErrInvalidArgument, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result := ImportResult{Records: len(records)}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		old, found, err := s.current(ctx, rec.Pos)
		if err != nil {
			s.metrics.Errors.WithLabelValues("import").Inc()
			return result, err
		}
		ok, err := s.write(ctx, "import", rec.Pos, old, rec.Facings, !found)
		if err != nil {
			return result, err
		}
		if ok {
			result.Changed++
		}
	}

	s.log.Info("Импорт снимка: %d записей, %d изменено", result.Records, result.Changed)
	return result, nil
}

// StartInvalidation подписывается на FacingsChanged других узлов и сбрасывает
// соответствующие ключи локального кеша.
func (s *FacingsService) StartInvalidation(ctx context.Context) error {
	if s.bus == nil || s.cache == nil {
		return nil
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub != nil {
		return nil
	}

	sub, err := s.bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventTypeFacingsChanged}},
		func(ctx context.Context, ev *eventbus.Envelope) {
			if ev.Source == s.source {
				return
			}
			change, err := eventbus.DecodeFacingsChanged(ev)
			if err != nil {
				s.log.Warn("Некорректное событие %s: %v", ev.ID, err)
				return
			}
			s.invalidate(ctx, change.Pos)
		})
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// Close отменяет подписку на инвалидацию
func (s *FacingsService) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

// current читает значение в обход кеша; отсутствие записи даёт FacingsNone
func (s *FacingsService) current(ctx context.Context, pos vec.Vec3) (*block.Facings, bool, error) {
	f, err := s.store.Get(ctx, pos)
	if errors.Is(err, storage.ErrNotFound) {
		return block.FacingsNone, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// write сохраняет значение, если оно отличается от old или create требует
// создать отсутствующую запись. Вызывается под writeMu.
func (s *FacingsService) write(ctx context.Context, op string, pos vec.Vec3, old, updated *block.Facings, create bool) (bool, error) {
	s.metrics.Writes.WithLabelValues(op).Inc()
	if old == updated && !create {
		return false, nil
	}

	if err := s.store.Put(ctx, pos, updated); err != nil {
		s.metrics.Errors.WithLabelValues(op).Inc()
		return false, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, storage.FacingsKey(pos), []byte{updated.Value()}, s.ttl); err != nil {
			// Запись уже в хранилище; устаревший ключ лучше удалить
			s.log.Warn("Не удалось обновить кеш для %s: %v", pos, err)
			s.invalidate(ctx, pos)
		}
	}

	s.metrics.Changes.Inc()
	s.publish(pos, old, updated, false)
	return true, nil
}

func (s *FacingsService) invalidate(ctx context.Context, pos vec.Vec3) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, storage.FacingsKey(pos)); err != nil {
		s.log.Warn("Не удалось удалить ключ кеша для %s: %v", pos, err)
	}
}

// publish отправляет событие независимо от контекста запроса: запись уже зафиксирована
func (s *FacingsService) publish(pos vec.Vec3, old, updated *block.Facings, removed bool) {
	if s.bus == nil {
		return
	}

	ev, err := eventbus.NewFacingsChangedEnvelope(s.source, pos, old, updated, removed)
	if err != nil {
		s.log.Error("Не удалось сформировать событие для %s: %v", pos, err)
		return
	}
	if err := eventbus.PublishWithTimeout(s.bus, ev, publishTimeout); err != nil {
		s.log.Warn("Не удалось опубликовать %s для %s: %v", ev.EventType, pos, err)
	}
}
