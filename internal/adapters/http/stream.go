package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/state"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod * 10 / 9
)

// The local API only serves the desktop UI on loopback.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StateEvent carries a Store snapshot on the UI stream.
type StateEvent struct {
	Type  string         `json:"type"`
	State state.Snapshot `json:"state"`
}

func stateEvent(s state.Snapshot) StateEvent {
	return StateEvent{Type: "state", State: s}
}

// PublishState forwards every Store change to the UI topic.
func PublishState(pub core.EventPublisher) state.Observer {
	return func(s state.Snapshot) {
		pub.Publish(app.TopicUI, stateEvent(s))
	}
}

type streams struct {
	ctx    context.Context
	events Subscriber
	calls  CallService
}

func (s *streams) conversation(c *gin.Context) {
	id := domain.ConversationID(c.Param("id"))
	if id == "" {
		badRequest(c, nil)
		return
	}
	s.serve(c, app.ConversationTopic(id), nil)
}

// ui starts with the current snapshot so a fresh window can render at once.
func (s *streams) ui(c *gin.Context) {
	s.serve(c, app.TopicUI, stateEvent(s.calls.Snapshot()))
}

func (s *streams) serve(c *gin.Context, topic string, first any) {
	logger := log.With().Str("module", "adapters.http").Str("topic", topic).Str("client", c.GetString(sessionTokenKey)).Logger()
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("ws upgrade")
		return
	}
	ch, unsubscribe := s.events.Subscribe(topic)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go readPump(ws, cancel)

	logger.Info().Msg("stream opened")
	writePump(ctx, ws, ch, first, logger)
	_ = ws.Close()
	logger.Info().Msg("stream closed")
}

// readPump discards client frames and cancels the stream when the peer goes away.
func readPump(ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, ws *websocket.Conn, ch <-chan any, first any, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(v any) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(v); err != nil {
			logger.Debug().Err(err).Msg("stream write")
			return false
		}
		return true
	}
	if first != nil && !write(first) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case v, ok := <-ch:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			if !write(v) {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
