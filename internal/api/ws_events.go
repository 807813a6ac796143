package api

import (
	"context"
	"net/http"
	"time"

	"github.com/annel0/blockkit/internal/eventbus"
	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	wsBufferSize   = 64
	wsWriteTimeout = 5 * time.Second
)

// EventMessage сообщение потока /ws/events
type EventMessage struct {
	ID        string                  `json:"id"`
	Timestamp time.Time               `json:"timestamp"`
	Source    string                  `json:"source"`
	Change    eventbus.FacingsChanged `json:"change"`
	Old       string                  `json:"old"`
	New       string                  `json:"new"`
}

// handleEvents транслирует FacingsChanged подключённому WebSocket клиенту.
// Медленный клиент теряет события, а не задерживает шину.
func (rs *RestServer) handleEvents(c *gin.Context) {
	if rs.bus == nil {
		respondError(c, http.StatusServiceUnavailable, "Шина событий не настроена")
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		rs.log.Warn("WebSocket: ошибка подключения %s: %v", c.ClientIP(), err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// Клиент ничего не присылает; CloseRead обрабатывает control-фреймы и закрытие
	ctx := conn.CloseRead(c.Request.Context())

	queue := make(chan EventMessage, wsBufferSize)
	sub, err := rs.bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventTypeFacingsChanged}},
		func(_ context.Context, ev *eventbus.Envelope) {
			change, err := eventbus.DecodeFacingsChanged(ev)
			if err != nil {
				return
			}
			msg := EventMessage{
				ID:        ev.ID,
				Timestamp: ev.Timestamp,
				Source:    ev.Source,
				Change:    change,
				Old:       change.OldFacings().ShortString(),
				New:       change.NewFacings().ShortString(),
			}
			select {
			case queue <- msg:
			default:
				rs.log.Debug("WebSocket: очередь клиента заполнена, событие %s пропущено", ev.ID)
			}
		})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Unsubscribe()

	rs.log.Info("WebSocket: подписчик %s подключён", c.ClientIP())
	defer rs.log.Info("WebSocket: подписчик %s отключён", c.ClientIP())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-queue:
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
