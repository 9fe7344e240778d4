package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/narvanalabs/buildgraph/internal/api/middleware"
	"github.com/narvanalabs/buildgraph/internal/events"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = eventsPongWait * 9 / 10
)

// EventHandler streams domain events to websocket clients.
type EventHandler struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventHandler creates a new event stream handler.
func NewEventHandler(bus *events.Bus, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// Stream handles GET /v1/events. The optional types query parameter is a
// comma separated list of event types to receive.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var types []events.Type
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, events.Type(t))
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade event stream", "error", err)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(types...)
	defer h.bus.Unsubscribe(sub)

	log := h.logger.With("subscriber_id", sub.ID, "user_id", middleware.GetUserID(r.Context()))
	log.Info("event stream opened", "types", types)

	// The reader only handles control frames; it ends when the client goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("event stream read ended", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Info("event stream closed by client")
			return
		case <-r.Context().Done():
			return
		case e, ok := <-sub.Ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(eventsWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				log.Debug("event stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		}
	}
}
