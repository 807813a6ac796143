package eventbus

import (
	"context"

	"github.com/annel0/blockkit/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		if change, err := DecodeFacingsChanged(ev); err == nil {
			logging.Debug("[EventBus] %s %s pos=%s %s -> %s src=%s",
				ev.ID, ev.EventType, change.Pos, change.OldFacings().ShortString(), change.NewFacings().ShortString(), ev.Source)
			return
		}
		logging.Debug("[EventBus] %s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logging.Info("LoggingListener: подписка на все события активирована")
	return sub, nil
}
