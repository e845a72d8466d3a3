package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/fxlens/fxlens/internal/events"
)

// wsMessage is the wire shape for events pushed over the websocket.
type wsMessage struct {
	Type      string `json:"type"`
	Module    string `json:"module,omitempty"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// WSStreamHandler streams system events over a websocket connection.
type WSStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewWSStreamHandler creates the websocket stream handler.
func NewWSStreamHandler(bus *events.Bus, log zerolog.Logger) *WSStreamHandler {
	return &WSStreamHandler{
		bus: bus,
		log: log.With().Str("component", "ws_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/ws requests.
func (h *WSStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.CloseNow()

	h.log.Info().Str("remote", r.RemoteAddr).Msg("Websocket client connected")

	allowedTypes := parseTypesFilter(r.URL.Query().Get("types"))

	// Buffered so a slow client drops events instead of blocking emitters.
	eventChan := make(chan *events.Event, 100)
	handler := func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Websocket channel full, dropping event")
		}
	}

	// Dropped again on disconnect; subscriptions must not outlive the
	// client connection.
	var unsubscribes []func()
	defer func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}()
	if allowedTypes == nil {
		for _, eventType := range streamedEventTypes {
			unsubscribes = append(unsubscribes, h.bus.Subscribe(eventType, handler))
		}
	} else {
		for eventType := range allowedTypes {
			unsubscribes = append(unsubscribes, h.bus.Subscribe(eventType, handler))
		}
	}

	ctx := r.Context()

	if err := wsjson.Write(ctx, conn, wsMessage{
		Type:      "connected",
		Timestamp: time.Now().Format(time.RFC3339),
	}); err != nil {
		return
	}

	// Reads are only needed to surface client-side closes.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return

		case <-readDone:
			h.log.Info().Str("remote", r.RemoteAddr).Msg("Websocket client disconnected")
			return

		case event := <-eventChan:
			msg := wsMessage{
				Type:      string(event.Type),
				Module:    event.Module,
				Timestamp: event.Timestamp.Format(time.RFC3339),
				Data:      event.Data,
			}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed")
				return
			}

		case <-heartbeat.C:
			msg := wsMessage{
				Type:      "heartbeat",
				Timestamp: time.Now().Format(time.RFC3339),
			}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}
