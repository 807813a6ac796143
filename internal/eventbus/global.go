package eventbus

import (
	"context"
	"time"

	"github.com/annel0/blockkit/internal/config"
	"github.com/annel0/blockkit/internal/logging"
)

// FromConfig создаёт JetStream шину, если задан URL, иначе шину в памяти.
// При недоступности NATS откатывается на шину в памяти.
func FromConfig(cfg config.EventBusConfig) EventBus {
	if cfg.URL == "" {
		return NewMemoryBus(cfg.Buffer)
	}

	bus, err := NewJetStreamBus(cfg.URL, cfg.Stream, cfg.RetentionDuration())
	if err != nil {
		logging.Warn("JetStream недоступен (%v), используется шина в памяти", err)
		return NewMemoryBus(cfg.Buffer)
	}
	logging.Info("EventBus: JetStream %s stream=%s", cfg.URL, cfg.Stream)
	return bus
}

// PublishWithTimeout публикует событие, ограничивая ожидание
func PublishWithTimeout(bus EventBus, ev *Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return bus.Publish(ctx, ev)
}
