package handler

import (
	"net/http"
	"sync/atomic"

	"github.com/f4s4b4/elevenlabs-webhook/internal/apierrors"
	"github.com/f4s4b4/elevenlabs-webhook/internal/calllog"
	"github.com/f4s4b4/elevenlabs-webhook/internal/config"
	"github.com/f4s4b4/elevenlabs-webhook/internal/observability"
	"github.com/f4s4b4/elevenlabs-webhook/internal/voicebridge/session"
	"github.com/f4s4b4/elevenlabs-webhook/internal/voicebridge/twilio"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Handler struct {
	connector        session.AgentConnector
	callLog          *calllog.Store
	logger           *observability.Logger
	agentID          string
	apiKeyConfigured bool
	mediaStreamPath  string
	sessionCfg       session.Config
	activeSessions   atomic.Int64
}

func New(connector session.AgentConnector, callLog *calllog.Store, cfg *config.Config, logger *observability.Logger) *Handler {
	return &Handler{
		connector:        connector,
		callLog:          callLog,
		logger:           logger,
		agentID:          cfg.ElevenLabs.AgentID,
		apiKeyConfigured: cfg.ElevenLabs.APIKeyConfigured(),
		mediaStreamPath:  cfg.Bridge.MediaStreamPath,
		sessionCfg: session.Config{
			HeartbeatInterval: cfg.Bridge.HeartbeatInterval,
		},
	}
}

// upgrader is a shared WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Twilio media streams carry no browser origin.
		return true
	},
}

// HandleMediaStream accepts the call-leg WebSocket and runs one session for
// its lifetime.
func (h *Handler) HandleMediaStream(c *gin.Context) {
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(ctx, "WebSocket upgrade failed", err)
		return
	}

	h.activeSessions.Add(1)
	defer h.activeSessions.Add(-1)

	sess := session.New(twilio.NewConn(conn), h.connector, h.sessionCfg, h.logger)
	defer sess.Close()

	sess.Run(ctx)
}

// RequireMediaStreamPath drops WebSocket upgrade attempts on every path
// except the media-stream path, registered routes included, by closing the
// transport with no HTTP response. Installed router-wide, before dispatch.
func (h *Handler) RequireMediaStreamPath() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !websocket.IsWebSocketUpgrade(c.Request) || c.Request.URL.Path == h.mediaStreamPath {
			c.Next()
			return
		}
		h.logger.Warn(c.Request.Context(), "Rejecting WebSocket upgrade outside the media-stream path")
		h.dropConnection(c)
	}
}

func (h *Handler) dropConnection(c *gin.Context) {
	if hijacker, ok := c.Writer.(http.Hijacker); ok {
		if conn, _, err := hijacker.Hijack(); err == nil {
			conn.Close()
			c.Abort()
			return
		}
	}
	c.AbortWithStatus(http.StatusNotFound)
}

// HandleUnknownPath is the catch-all route. Upgrade attempts normally never
// reach it; RequireMediaStreamPath drops them before dispatch.
func (h *Handler) HandleUnknownPath(c *gin.Context) {
	if websocket.IsWebSocketUpgrade(c.Request) {
		h.dropConnection(c)
		return
	}
	apierrors.NotFound(c, "resource not found")
}
