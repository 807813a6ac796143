package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector экспортирует Stats шины в Prometheus.
// Значения читаются из bus.Metrics() при каждом сборе.
type Collector struct {
	bus EventBus

	published *prometheus.Desc
	consumed  *prometheus.Desc
	dropped   *prometheus.Desc
	inflight  *prometheus.Desc
}

// NewCollector создаёт коллектор; регистрирует его вызывающий код
func NewCollector(bus EventBus) *Collector {
	return &Collector{
		bus: bus,
		published: prometheus.NewDesc("eventbus_messages_published_total",
			"Общее число опубликованных сообщений.", nil, nil),
		consumed: prometheus.NewDesc("eventbus_messages_consumed_total",
			"Общее число доставленных сообщений подписчикам.", nil, nil),
		dropped: prometheus.NewDesc("eventbus_messages_dropped_total",
			"Сообщений, отброшенных из-за ошибок или ограничения back-pressure.", nil, nil),
		inflight: prometheus.NewDesc("eventbus_messages_inflight",
			"Количество сообщений, находящихся в очереди (не доставленных).", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.published
	ch <- c.consumed
	ch <- c.dropped
	ch <- c.inflight
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.bus.Metrics()
	ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(stats.Published))
	ch <- prometheus.MustNewConstMetric(c.consumed, prometheus.CounterValue, float64(stats.Consumed))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(stats.Dropped))
	ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue, float64(stats.InFlight))
}
