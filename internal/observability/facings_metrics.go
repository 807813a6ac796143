package observability

import (
	"github.com/annel0/blockkit/internal/cache"
	"github.com/annel0/blockkit/internal/world/block"
	"github.com/prometheus/client_golang/prometheus"
)

// FacingsCollector экспортирует состояние кеша канонических Facings
// и метрики кеша значений. Источник данных читается при каждом сборе.
type FacingsCollector struct {
	cache cache.CacheRepo

	interned  *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	coldLoads *prometheus.Desc
}

// NewFacingsCollector создаёт коллектор; cacheRepo может быть nil
func NewFacingsCollector(cacheRepo cache.CacheRepo) *FacingsCollector {
	return &FacingsCollector{
		cache: cacheRepo,
		interned: prometheus.NewDesc("blockkit_facings_interned",
			"Количество созданных канонических экземпляров Facings (не более 64).", nil, nil),
		hits: prometheus.NewDesc("blockkit_cache_hits_total",
			"Попадания в кеш значений Facings.", nil, nil),
		misses: prometheus.NewDesc("blockkit_cache_misses_total",
			"Промахи кеша значений Facings.", nil, nil),
		coldLoads: prometheus.NewDesc("blockkit_cache_cold_loads_total",
			"Загрузки из холодного хранилища при промахе.", nil, nil),
	}
}

func (c *FacingsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.interned
	ch <- c.hits
	ch <- c.misses
	ch <- c.coldLoads
}

func (c *FacingsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.interned, prometheus.GaugeValue, float64(block.InternedCount()))

	if c.cache == nil {
		return
	}
	m := c.cache.GetMetrics()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(m.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(m.CacheMisses))
	ch <- prometheus.MustNewConstMetric(c.coldLoads, prometheus.CounterValue, float64(m.ColdLoads))
}

// ServiceMetrics счётчики операций FacingsService.
//
// Метрики:
//   - blockkit_facings_reads_total
//   - blockkit_facings_writes_total{op}
//   - blockkit_facings_changes_total
//   - blockkit_facings_errors_total{op}
//   - blockkit_scan_duration_seconds
type ServiceMetrics struct {
	Reads        prometheus.Counter
	Writes       *prometheus.CounterVec
	Changes      prometheus.Counter
	Errors       *prometheus.CounterVec
	ScanDuration prometheus.Histogram
}

// NewServiceMetrics создаёт счётчики и регистрирует их в reg.
// reg == nil допустим: метрики работают, но никуда не экспортируются.
func NewServiceMetrics(reg prometheus.Registerer) (*ServiceMetrics, error) {
	m := &ServiceMetrics{
		Reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockkit",
			Name:      "facings_reads_total",
			Help:      "Чтения Facings блока.",
		}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockkit",
			Name:      "facings_writes_total",
			Help:      "Операции записи Facings по типу операции.",
		}, []string{"op"}),
		Changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockkit",
			Name:      "facings_changes_total",
			Help:      "Записи, изменившие сохранённое значение.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockkit",
			Name:      "facings_errors_total",
			Help:      "Ошибки операций по типу операции.",
		}, []string{"op"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "blockkit",
			Name:      "scan_duration_seconds",
			Help:      "Длительность сканирования структур.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Reads, m.Writes, m.Changes, m.Errors, m.ScanDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
