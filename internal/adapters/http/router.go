// Package http serves the local API the desktop UI talks to.
package http

import (
	"context"
	"time"

	"github.com/dkeye/voicecall/internal/app/state"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionTokenKey = "client_token"

// CallService is the call controller surface exposed over HTTP.
type CallService interface {
	InitiateCall(ctx context.Context, conv domain.ConversationID, callType domain.CallType) (*domain.Call, error)
	AnswerCall(ctx context.Context, callID domain.CallID) (*domain.Call, error)
	DeclineCall(ctx context.Context, callID domain.CallID) error
	HangUp(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
	ToggleCamera(ctx context.Context) (bool, error)
	Snapshot() state.Snapshot
}

type FocusReporter interface {
	SetFocused(focused bool)
}

type Subscriber interface {
	Subscribe(topic string) (<-chan any, func())
}

type Deps struct {
	Calls  CallService
	Focus  FocusReporter
	Events Subscriber
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every UI client a stable token kept in its
// session cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(sessionTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(sessionTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(sessionTokenKey, token)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("module", "adapters.http").
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client", c.GetString(sessionTokenKey)).
			Msg("request")
	}
}

// SetupRouter wires the API. Websocket streams end when ctx is cancelled.
func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("VoiceCallSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(requestLogger())

	h := &handlers{calls: deps.Calls, focus: deps.Focus}
	s := &streams{ctx: ctx, events: deps.Events, calls: deps.Calls}

	api := r.Group("/api")
	call := api.Group("/call")
	call.GET("/state", h.state)
	call.POST("/initiate", h.initiate)
	call.POST("/answer", h.answer)
	call.POST("/decline", h.decline)
	call.POST("/hangup", h.hangUp)
	call.POST("/toggle-mute", h.toggleMute)
	call.POST("/toggle-camera", h.toggleCamera)

	api.POST("/shell/focus", h.setFocus)

	api.GET("/ws/conversations/:id", s.conversation)
	api.GET("/ws/ui", s.ui)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
